package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fmueller/voxrelay/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultAddr            = "0.0.0.0:8000"
	DefaultPath            = "/transcribe"
	DefaultPingInterval    = 20 * time.Second
	DefaultPongTimeout     = 20 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	readHeaderTimeout = 10 * time.Second
	bufferSize        = 32 * 1024
)

type Config struct {
	Addr            string
	Path            string
	PingInterval    time.Duration
	PongTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	Session         session.Config
}

func DefaultConfig() Config {
	return Config{
		Addr:            DefaultAddr,
		Path:            DefaultPath,
		PingInterval:    DefaultPingInterval,
		PongTimeout:     DefaultPongTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		AllowedOrigins:  []string{"*"},
		Session:         session.DefaultConfig(),
	}
}

// Server accepts WebSocket connections and runs one session per connection.
// Sessions share only the pipeline and the metrics.
type Server struct {
	cfg      Config
	pipeline *session.Pipeline
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *Metrics
	upgrader websocket.Upgrader

	mu       sync.Mutex
	closing  bool
	conns    map[*websocket.Conn]struct{}
	sessions sync.WaitGroup
}

func New(cfg Config, pipeline *session.Pipeline, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = defaults.Addr
	}
	if cfg.Path == "" {
		cfg.Path = defaults.Path
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaults.PongTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = defaults.AllowedOrigins
	}
	if cfg.Session.MaxUploadBytes <= 0 {
		cfg.Session.MaxUploadBytes = session.DefaultMaxUploadBytes
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Server{
		cfg:      cfg,
		pipeline: pipeline,
		logger:   logger,
		registry: registry,
		metrics:  NewMetrics(registry),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  bufferSize,
			WriteBufferSize: bufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}))

	r.Get(s.cfg.Path, s.handleTranscribe)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. Open sessions get
// ShutdownTimeout to finish before their connections are closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	baseCtx, cancelSessions := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSessions()

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	s.logger.Info("listening", zap.String("addr", ln.Addr().String()), zap.String("path", s.cfg.Path))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		s.logger.Info("shutting down", zap.Duration("grace", s.cfg.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(shutdownCtx)
		if drainErr := s.drain(shutdownCtx); drainErr != nil {
			s.logger.Warn("sessions still open after grace period; closing them")
			cancelSessions()
			s.closeAll()
			s.sessions.Wait()
		}
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return group.Wait()
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if !s.begin() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.sessions.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.UpgradeErrors.Inc()
		s.logger.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	s.register(conn)
	defer s.unregister(conn)

	s.serveConn(r.Context(), conn, r.RemoteAddr)
}

func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn, remote string) {
	s.metrics.ActiveSessions.Inc()
	defer s.metrics.ActiveSessions.Dec()

	conn.SetReadLimit(s.cfg.Session.MaxUploadBytes)
	keepalive := newKeepaliveConn(conn, s.cfg.PingInterval, s.cfg.PongTimeout)
	stopPinger := keepalive.startPinger(s.logger)
	defer stopPinger()

	sess := session.New(keepalive, s.pipeline, s.cfg.Session, s.logger.With(zap.String("remote", remote)))
	defer func() {
		if recovered := recover(); recovered != nil {
			s.metrics.Panics.Inc()
			s.logger.Error(
				"session panicked",
				zap.String("session", sess.ID),
				zap.Any("panic", recovered),
				zap.Stack("stack"),
			)
			_ = conn.Close()
		}
	}()

	result := sess.Run(ctx)
	s.metrics.ObserveSession(result)

	fields := []zap.Field{
		zap.String("session", sess.ID),
		zap.Stringer("outcome", result.Outcome),
		zap.Int("bytes", result.BytesReceived),
		zap.Duration("audio", result.AudioDuration),
		zap.Duration("decode", result.DecodeTime),
		zap.Duration("inference", result.InferenceTime),
	}
	if result.Err != nil {
		fields = append(fields, zap.Error(result.Err))
	}
	s.logger.Info("session finished", fields...)
}

func (s *Server) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions.Add(1)
	return true
}

func (s *Server) register(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) unregister(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) drain(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}
