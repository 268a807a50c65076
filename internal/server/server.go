// Package server implements the Server Supervisor: it binds the listener
// on the configured address, wires the catalog, virtual filesystem, and
// dispatcher into a Connection Manager, and propagates shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/carvera-sim/carverad/internal/catalog"
	"github.com/carvera-sim/carverad/internal/config"
	"github.com/carvera-sim/carverad/internal/connmgr"
	"github.com/carvera-sim/carverad/internal/dispatch"
	"github.com/carvera-sim/carverad/internal/vfs"
)

// Server owns the listener and the Connection Manager built on top of it.
type Server struct {
	cfg *config.Config
	ln  net.Listener
	mgr *connmgr.Manager
	log *slog.Logger
}

// New loads the catalog and virtual filesystem per cfg, wires a
// Dispatcher and Connection Manager, and binds the listener. The returned
// Server is ready for Serve.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	fs := vfs.LoadSeed(cfg.VFSSeedPath)

	d := dispatch.New(cat, fs, logger)
	mgr := connmgr.New(d, logger, cfg.MaxConns, cfg.IdleTimeout)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		mgr.Close()
		return nil, fmt.Errorf("binding %s: %w", addr, err)
	}

	return &Server{cfg: cfg, ln: ln, mgr: mgr, log: logger}, nil
}

// Addr returns the bound listener's address, useful for tests that bind
// to port 0.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve runs the accept loop until ctx is cancelled. It always returns a
// non-nil error on exit except for a clean, context-driven shutdown.
func (s *Server) Serve(ctx context.Context) error {
	return s.mgr.Serve(ctx, s.ln)
}

// Close releases the listener and stops the idle-timeout eviction loop.
// Safe to call after Serve returns, even though Serve's own shutdown path
// already closed the listener once.
func (s *Server) Close() error {
	s.mgr.Close()
	if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
