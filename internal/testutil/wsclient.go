package testutil

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/udisondev/geostream/internal/protocol"
)

// StreamClient is a test helper speaking the JSON stream protocol.
type StreamClient struct {
	tb   testing.TB
	conn *websocket.Conn
}

// DialStream connects to the stream endpoint of ts. The connection is closed
// at the end of the test.
func DialStream(tb testing.TB, ts *httptest.Server) *StreamClient {
	tb.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream"
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		tb.Fatalf("dialing %s: %v", url, err)
	}
	tb.Cleanup(func() { _ = conn.Close() })
	return &StreamClient{tb: tb, conn: conn}
}

// Send writes v as one JSON text frame.
func (c *StreamClient) Send(v any) {
	c.tb.Helper()
	if err := c.conn.WriteJSON(v); err != nil {
		c.tb.Fatalf("sending request: %v", err)
	}
}

// SendRaw writes data as one text frame.
func (c *StreamClient) SendRaw(data string) {
	c.tb.Helper()
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		c.tb.Fatalf("sending frame: %v", err)
	}
}

// Read returns the next response.
func (c *StreamClient) Read() protocol.Response {
	c.tb.Helper()
	resp, err := c.read(5 * time.Second)
	if err != nil {
		c.tb.Fatalf("reading response: %v", err)
	}
	return resp
}

// ReadUntil skips responses until one matches pred.
func (c *StreamClient) ReadUntil(pred func(protocol.Response) bool) protocol.Response {
	c.tb.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := c.read(time.Until(deadline))
		if err != nil {
			c.tb.Fatalf("waiting for response: %v", err)
		}
		if pred(resp) {
			return resp
		}
	}
}

// ReadRequest skips responses until one carries requestID.
func (c *StreamClient) ReadRequest(requestID string) protocol.Response {
	c.tb.Helper()
	return c.ReadUntil(func(r protocol.Response) bool { return r.RequestID == requestID })
}

func (c *StreamClient) read(timeout time.Duration) (protocol.Response, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return protocol.Response{}, err
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return protocol.Response{}, err
	}
	var resp protocol.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return protocol.Response{}, fmt.Errorf("decoding %q: %w", data, err)
	}
	return resp, nil
}

// Close sends a normal close frame.
func (c *StreamClient) Close() {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = c.conn.Close()
}
