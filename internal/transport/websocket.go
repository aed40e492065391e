// Package transport serves the bridge protocol over websockets. Each
// connection gets its own bridge server and therefore its own session.
package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/joss/naobridge/internal/logging"
	"github.com/joss/naobridge/internal/metrics"
	"github.com/joss/naobridge/internal/protocol"
)

// maxFrame matches the line limit of the stdio decoder.
const maxFrame = protocol.MaxLineSize

// Binder installs command handlers on a fresh bridge server. The returned
// cleanup runs once the connection is gone.
type Binder func(srv *protocol.Server) (cleanup func(ctx context.Context))

// Conn carries protocol lines over a websocket, one line per text frame.
// A frame holding several newline-separated lines is split.
type Conn struct {
	ws      *websocket.Conn
	ctx     context.Context
	pending [][]byte
	mu      sync.Mutex
}

// NewConn wraps an established websocket. ctx bounds every read and write.
func NewConn(ctx context.Context, ws *websocket.Conn) *Conn {
	ws.SetReadLimit(maxFrame)
	return &Conn{ws: ws, ctx: ctx}
}

// ReadLine returns the next line. A closed socket or cancelled context
// reads as io.EOF.
func (c *Conn) ReadLine() ([]byte, error) {
	for len(c.pending) == 0 {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil || websocket.CloseStatus(err) != -1 || errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, err
		}
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			c.pending = append(c.pending, line)
		}
	}
	line := c.pending[0]
	c.pending = c.pending[1:]
	return line, nil
}

// WriteLine sends one line as a text frame.
func (c *Conn) WriteLine(line []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.Write(c.ctx, websocket.MessageText, line)
}

// Close ends the connection normally.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "bridge closed")
}

// Dial opens a bridge connection to a websocket server and returns a
// caller-side client. The caller closes the returned Conn.
func Dial(ctx context.Context, url string) (*protocol.Client, *Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, nil, err
	}
	conn := NewConn(context.WithoutCancel(ctx), ws)
	client := protocol.NewChannelClient(protocol.NewLineDecoder(conn), protocol.NewLineEncoder(conn))
	return client, conn, nil
}

// Server exposes /bridge, /healthz, /metrics and optionally /readyz.
type Server struct {
	bind    Binder
	metrics *metrics.Metrics
	srv     *http.Server
	log     *logging.Logger
	ready   http.HandlerFunc

	// base parents every bridge; stop cancels it on shutdown since
	// http.Server.Shutdown ignores hijacked connections.
	base  context.Context
	stop  context.CancelFunc
	conns sync.WaitGroup
}

// NewServer creates a websocket bridge server on addr (host:port).
func NewServer(addr string, bind Binder, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.Global()
	}
	s := &Server{
		bind:    bind,
		metrics: m,
		log:     logging.New("transport"),
	}
	s.base, s.stop = context.WithCancel(context.Background())
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// SetReadiness serves h on /readyz.
func (s *Server) SetReadiness(h http.HandlerFunc) {
	s.ready = h
	s.srv.Handler = s.Router()
}

// Router returns the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/metrics", s.metrics.Handler())
	if s.ready != nil {
		r.Get("/readyz", s.ready)
	}
	r.Get("/bridge", s.serveBridge)
	return r
}

// ListenAndServe blocks until ctx is cancelled or the listener fails, then
// shuts down and waits for open bridges to finish their cleanup.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", map[string]interface{}{"addr": s.srv.Addr})
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops accepting connections, ends live bridges and waits for
// their cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	err := s.srv.Shutdown(ctx)
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *Server) serveBridge(w http.ResponseWriter, r *http.Request) {
	s.conns.Add(1)
	defer s.conns.Done()

	id := middleware.GetReqID(r.Context())
	if id == "" {
		id = uuid.NewString()
	}
	log := s.log.WithSession(id)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		log.Error("accept_failed", map[string]interface{}{"remote": r.RemoteAddr}, err)
		return
	}

	// Hijacked connections outlive the request context; the bridge stops
	// when the peer goes away or the server shuts down.
	ctx, cancel := context.WithCancel(s.base)
	defer cancel()
	conn := NewConn(ctx, ws)
	defer conn.Close()

	bridge := protocol.NewChannelServer(protocol.NewLineDecoder(conn), protocol.NewLineEncoder(conn))
	bridge.SetMetrics(s.metrics)
	var cleanup func(context.Context)
	if s.bind != nil {
		cleanup = s.bind(bridge)
	}

	log.Info("bridge_opened", map[string]interface{}{"remote": r.RemoteAddr})
	start := time.Now()
	if err := bridge.Run(ctx); err != nil && !isClosed(err) {
		log.Warn("bridge_failed", nil, err)
	}
	if cleanup != nil {
		runCleanup(cleanup)
	}
	log.TimedEvent("bridge_closed", start, nil)
}

func runCleanup(cleanup func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logging.NewRecoveryHandler("transport").Wrap(func() { cleanup(ctx) })
}

func isClosed(err error) bool {
	return errors.Is(err, context.Canceled) || websocket.CloseStatus(err) != -1 ||
		strings.Contains(err.Error(), "use of closed network connection")
}
