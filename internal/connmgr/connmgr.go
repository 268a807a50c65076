// Package connmgr implements the Connection Manager: the TCP accept loop,
// admission control, per-connection idle timeout, and per-connection
// teardown.
package connmgr

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/carvera-sim/carverad/internal/dispatch"
	"github.com/carvera-sim/carverad/internal/framer"
)

// connEntry is the value stored per active connection in the idle-timeout
// cache: the socket itself and the abort channel its XMODEM worker (if
// any) observes.
type connEntry struct {
	conn  net.Conn
	abort chan struct{}
}

// Manager owns the accept loop and the admission/idle-timeout machinery
// around it.
type Manager struct {
	dispatcher  *dispatch.Dispatcher
	logger      *slog.Logger
	sem         chan struct{}
	idleTimeout time.Duration
	idle        *ttlcache.Cache[string, *connEntry]
}

// New builds a Manager admitting at most maxConns simultaneous connections,
// each closed after idleTimeout without a received byte.
func New(d *dispatch.Dispatcher, logger *slog.Logger, maxConns int, idleTimeout time.Duration) *Manager {
	idle := ttlcache.New[string, *connEntry](
		ttlcache.WithTTL[string, *connEntry](idleTimeout),
	)
	idle.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *connEntry]) {
		if reason == ttlcache.EvictionReasonExpired {
			item.Value().conn.Close()
		}
	})
	go idle.Start()

	return &Manager{
		dispatcher:  d,
		logger:      logger,
		sem:         make(chan struct{}, maxConns),
		idleTimeout: idleTimeout,
		idle:        idle,
	}
}

// Close stops the idle-timeout eviction loop. Call once during server
// shutdown.
func (m *Manager) Close() {
	m.idle.Stop()
}

// Serve runs the accept loop on ln until ctx is cancelled or Accept fails.
// Cancelling ctx closes ln, which unblocks Accept with an error that Serve
// treats as a clean shutdown.
func (m *Manager) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go m.handleConn(ctx, conn)
	}
}

// handleConn runs one connection's lifecycle end to end: admission,
// registration, the read/frame/dispatch loop, and teardown on every exit
// path.
func (m *Manager) handleConn(ctx context.Context, conn net.Conn) {
	select {
	case m.sem <- struct{}{}:
	default:
		conn.Write([]byte("error:too many connections\n"))
		conn.Close()
		return
	}
	defer func() { <-m.sem }()

	id := conn.RemoteAddr().String()
	abort := make(chan struct{})
	entry := &connEntry{conn: conn, abort: abort}
	m.idle.Set(id, entry, m.idleTimeout)
	defer m.idle.Delete(id)
	defer close(abort)
	defer conn.Close()

	m.logger.Info("connection accepted", "remote", id)

	cs := dispatch.NewConnState()
	fr := framer.New(m.dispatcher.InstantPrefixes())

	buf := make([]byte, 1)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := conn.Read(buf)
		if err != nil {
			m.logger.Info("connection closed", "remote", id, "error", err)
			return
		}
		if n == 0 {
			continue
		}

		// Refresh the idle timer on every received byte, not on reply
		// writes, per spec.
		m.idle.Get(id)

		cmd, ok := fr.Feed(buf[0])
		if !ok {
			continue
		}
		if !m.dispatcher.Dispatch(conn, cs, cmd, abort) {
			return
		}
	}
}
