// Package ws exposes the streamer over a JSON WebSocket protocol.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/udisondev/geostream/internal/geom"
	"github.com/udisondev/geostream/internal/lod"
	"github.com/udisondev/geostream/internal/octree"
	"github.com/udisondev/geostream/internal/protocol"
	"github.com/udisondev/geostream/internal/residency"
	"github.com/udisondev/geostream/internal/streamer"
	"github.com/udisondev/geostream/internal/worker"
)

// Backend is the part of the streamer the server drives.
type Backend interface {
	Build(root geom.AABB, items []octree.Item, minSize float64) (*octree.Tree, error)
	Residency() residency.Reader
	Evaluate(res residency.Reader, cam lod.Camera, th *lod.Thresholds) (lod.Batch, error)
	UpdateCamera(cam lod.Camera)
	LoadMesh(ctx context.Context, requestID string, nodeID, tier int, priority float64) error
	LoadMeshBatch(ctx context.Context, requestID string, tier int, nodeIDs []int) error
	DisposeMesh(ctx context.Context, requestID string, nodeID int, priority float64) error
	DisposeBatch(ctx context.Context, requestID string, nodeIDs []int) error
	Stats(ctx context.Context) (streamer.Stats, error)
	Subscribe(fn func(worker.Response)) (unsubscribe func())
}

// Config controls the server.
type Config struct {
	SendQueueSize int
	WriteTimeout  time.Duration
	// DefaultMinSize is used by BuildOctree requests that carry no minSize.
	DefaultMinSize float64
}

// Server accepts WebSocket clients and routes their requests to a Backend.
// Worker completions are broadcast to every connected client.
type Server struct {
	cfg      Config
	backend  Backend
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}

	unsubscribe func()

	addrMu sync.RWMutex
	addr   net.Addr

	// ctx outlives individual connections; it is cancelled on Close.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a server and subscribes it to backend completions.
func NewServer(cfg Config, backend Backend) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		backend: backend,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.unsubscribe = backend.Subscribe(s.broadcastCompletion)
	return s
}

// Handler returns the HTTP routes served by s.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// Run listens on addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled. The listener is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.addrMu.Lock()
	s.addr = ln.Addr()
	s.addrMu.Unlock()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	slog.Info("websocket server listening", "address", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving websocket: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down websocket server: %w", err)
	}
	return nil
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.addr
}

// Close stops broadcasting and disconnects every client. Safe to call
// multiple times.
func (s *Server) Close() {
	s.cancel()
	s.unsubscribe()

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.closeAsync()
	}
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(conn, s.cfg.SendQueueSize, s.cfg.WriteTimeout)
	if !s.register(c) {
		conn.Close()
		return
	}
	slog.Info("client connected", "client", c.id, "remote", r.RemoteAddr)

	go c.writePump()
	s.readPump(c)

	s.unregister(c)
	c.closeAsync()
	slog.Info("client disconnected", "client", c.id)
}

func (s *Server) register(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

// readPump handles frames from c until the connection fails or the server
// is closed.
func (s *Server) readPump(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("read failed", "client", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		resp, ok := s.handle(s.ctx, data)
		if !ok {
			continue
		}
		if err := s.sendTo(c, resp); err != nil {
			return
		}
	}
}

func (s *Server) sendTo(c *client, resp protocol.Response) error {
	data, err := protocol.Encode(resp)
	if err != nil {
		slog.Error("encoding response", "type", resp.Type, "error", err)
		return nil
	}
	return c.send(data)
}

// broadcastCompletion runs on the streamer's response loop and must not block.
func (s *Server) broadcastCompletion(r worker.Response) {
	data, err := protocol.Encode(protocol.FromWorker(r))
	if err != nil {
		slog.Error("encoding worker response", "node", r.NodeID, "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		_ = c.send(data)
	}
}
