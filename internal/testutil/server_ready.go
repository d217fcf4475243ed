package testutil

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"
)

// WaitForTCPReady polls addr until it accepts a TCP connection. Use it
// instead of time.Sleep after starting a listener in a goroutine:
//
//	go srv.Run(ctx, "127.0.0.1:0")
//	require.NoError(t, testutil.WaitForTCPReady(srv.Addr().String(), 5*time.Second))
func WaitForTCPReady(addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for server at %s: %w", addr, ctx.Err())
		case <-ticker.C:
			conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
			if err == nil {
				_ = conn.Close()
				return nil
			}
		}
	}
}

// WaitFor polls check until it holds, failing the test after timeout.
func WaitFor(tb testing.TB, check func() bool, timeout time.Duration) {
	tb.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if check() {
			return
		}
		select {
		case <-ctx.Done():
			tb.Fatalf("condition not met within %v", timeout)
		case <-ticker.C:
		}
	}
}
