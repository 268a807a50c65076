package dispatch

import (
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/carvera-sim/carverad/internal/catalog"
	"github.com/carvera-sim/carverad/internal/vfs"
)

func testDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	cat, err := catalog.LoadDefault()
	if err != nil {
		t.Fatal(err)
	}
	fs := vfs.LoadSeed("")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cat, fs, logger)
}

func runDispatch(t *testing.T, d *Dispatcher, raw string) string {
	t.Helper()
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	cs := NewConnState()
	done := make(chan bool, 1)
	go func() {
		done <- d.Dispatch(server, cs, raw, nil)
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, _ := client.Read(buf)
	<-done
	return string(buf[:n])
}

func TestDispatchUnknownCommand(t *testing.T) {
	d := testDispatcher(t)
	out := runDispatch(t, d, "frobnicate")
	if !strings.Contains(out, "error:unsupported command") {
		t.Errorf("expected unsupported command error, got %q", out)
	}
}

func TestDispatchGCodeRepliesOK(t *testing.T) {
	d := testDispatcher(t)
	out := runDispatch(t, d, "G0 X0 Y0")
	if !strings.Contains(out, "ok") {
		t.Errorf("expected ok reply, got %q", out)
	}
}

func TestDispatchPwdReportsRoot(t *testing.T) {
	d := testDispatcher(t)
	out := runDispatch(t, d, "pwd")
	if !strings.HasPrefix(out, "/") {
		t.Errorf("expected pwd to report root-rooted cwd, got %q", out)
	}
}

func TestDispatchLsListsSeededDirs(t *testing.T) {
	d := testDispatcher(t)
	out := runDispatch(t, d, "ls /")
	if !strings.Contains(out, "sd/") {
		t.Errorf("expected sd/ in root listing, got %q", out)
	}
}

func TestDispatchCatMissingFileIsError(t *testing.T) {
	d := testDispatcher(t)
	out := runDispatch(t, d, "cat /nope.txt")
	if !strings.Contains(out, "error:") {
		t.Errorf("expected error reply for missing file, got %q", out)
	}
}

func TestDispatchCdPersistsAcrossCommands(t *testing.T) {
	d := testDispatcher(t)
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	cs := NewConnState()
	done := make(chan bool, 1)
	go func() { done <- d.Dispatch(server, cs, "cd /sd", nil) }()
	go func() {
		buf := make([]byte, 64)
		client.Read(buf)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cd to complete")
	}

	if cs.cwd() != "/sd" {
		t.Errorf("expected cwd /sd after cd, got %s", cs.cwd())
	}
}

func TestDispatchTimeSetThenQuery(t *testing.T) {
	d := testDispatcher(t)

	server, client := net.Pipe()
	cs := NewConnState()
	done := make(chan bool, 1)
	go func() { done <- d.Dispatch(server, cs, "time = 1000000", nil) }()
	go func() {
		buf := make([]byte, 64)
		client.Read(buf)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out setting time")
	}
	server.Close()
	client.Close()

	out := runDispatch(t, d, "time")
	if !strings.Contains(out, "1000000") {
		t.Errorf("expected queried time near anchor, got %q", out)
	}
}

func TestDispatchInstantQuestionMarkNoOK(t *testing.T) {
	d := testDispatcher(t)
	out := runDispatch(t, d, "?")
	if strings.Contains(out, "ok") {
		t.Errorf("expected ? not to send ok suffix, got %q", out)
	}
}
