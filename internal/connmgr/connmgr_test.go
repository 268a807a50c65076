package connmgr

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/carvera-sim/carverad/internal/catalog"
	"github.com/carvera-sim/carverad/internal/dispatch"
	"github.com/carvera-sim/carverad/internal/vfs"
)

func newTestManager(t *testing.T, maxConns int, idleTimeout time.Duration) (*Manager, net.Listener, context.CancelFunc) {
	t.Helper()
	cat, err := catalog.LoadDefault()
	if err != nil {
		t.Fatal(err)
	}
	fs := vfs.LoadSeed("")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := dispatch.New(cat, fs, logger)
	mgr := New(d, logger, maxConns, idleTimeout)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go mgr.Serve(ctx, ln)

	t.Cleanup(func() {
		cancel()
		mgr.Close()
	})

	return mgr, ln, cancel
}

func TestConnmgrDispatchesCommand(t *testing.T) {
	_, ln, _ := newTestManager(t, 2, 10*time.Second)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("G0 X0\n")); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(buf[:n]), "ok") {
		t.Errorf("expected ok reply, got %q", buf[:n])
	}
}

func TestConnmgrRejectsBeyondMaxConns(t *testing.T) {
	_, ln, _ := newTestManager(t, 1, 10*time.Second)

	first, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()

	// Give the accept loop a moment to register the first connection's
	// admission slot before dialing the second.
	time.Sleep(100 * time.Millisecond)

	second, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 256)
	n, err := second.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(buf[:n]), "too many connections") {
		t.Errorf("expected admission-denied reply, got %q", buf[:n])
	}
}

func TestConnmgrIdleTimeoutClosesConnection(t *testing.T) {
	_, ln, _ := newTestManager(t, 2, 200*time.Millisecond)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	if err == nil {
		t.Error("expected read to fail once the idle timeout closes the connection")
	}
}
