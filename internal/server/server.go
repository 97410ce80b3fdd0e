package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/STRATINT/feedwatch/internal/config"
)

// Info describes the running service in the startup log line.
type Info struct {
	CheckpointBackend string
	Entities          int
	Accounts          int
}

// Server hosts the status, health and metrics endpoints.
type Server struct {
	cfg    config.ServerConfig
	info   Info
	logger *slog.Logger
	http   *http.Server
	ln     net.Listener
}

// New constructs a Server. Request contexts derive from ctx, so handlers see
// service shutdown.
func New(ctx context.Context, cfg config.ServerConfig, info Info, logger *slog.Logger, handler http.Handler) *Server {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	return &Server{
		cfg:    cfg,
		info:   info,
		logger: logger,
		http:   srv,
	}
}

// Listen binds the port so a conflict is reported before polling starts.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.http.Addr
}

// Serve handles requests on the bound listener until Shutdown.
func (s *Server) Serve() error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.logger.Info("status server listening",
		"addr", s.Addr(),
		"checkpoint_backend", s.info.CheckpointBackend,
		"entities", s.info.Entities,
		"accounts", s.info.Accounts,
	)
	if err := s.http.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info("status server stopping")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
