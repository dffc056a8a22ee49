package control

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/1ureka/lanbridge/internal/util"
)

// Options configures the control server. Zero values get local defaults.
type Options struct {
	Addr            string
	Token           string       // required as ?token= on /ws and /status when set
	Metrics         http.Handler // served on /metrics when non-nil
	PushInterval    time.Duration
	ShutdownTimeout time.Duration
}

const (
	DefaultAddr         = "127.0.0.1:7900"
	DefaultPushInterval = 250 * time.Millisecond
)

// Server is the HTTP control server.
type Server struct {
	ctrl Controller
	opts Options

	http     *http.Server
	listener net.Listener

	closing   chan struct{}
	closeOnce sync.Once
	clients   sync.WaitGroup
}

// NewServer creates a control server for ctrl. Nothing listens until Start.
func NewServer(ctrl Controller, opts Options) *Server {
	if ctrl == nil {
		panic("control.NewServer: controller is nil")
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.PushInterval <= 0 {
		opts.PushInterval = DefaultPushInterval
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{
		ctrl:    ctrl,
		opts:    opts,
		closing: make(chan struct{}),
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 2 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routes without a listener, for embedding and tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /status", s.handleStatus)
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics)
	}
	return mux
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to start control server: %w", err)
	}
	s.listener = listener

	util.LogInfo("Control server listening on %s", listener.Addr())

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("control server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes every WebSocket client and shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })

	ctx, cancel := context.WithTimeout(ctx, s.opts.ShutdownTimeout)
	defer cancel()

	err := s.http.Shutdown(ctx)
	s.clients.Wait()
	if err != nil {
		return fmt.Errorf("control server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) authorized(r *http.Request) bool {
	if s.opts.Token == "" {
		return true
	}
	got := r.URL.Query().Get("token")
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.Token)) == 1
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.ctrl.Snapshot()); err != nil {
		util.LogDebug("status write failed: %v", err)
	}
}
