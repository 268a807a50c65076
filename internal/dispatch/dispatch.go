// Package dispatch implements the Command Dispatcher: it resolves a
// framed command against the Command Catalog, shapes the reply according
// to the descriptor's flags, special-cases filesystem and time commands,
// and hands upload/download off to the XMODEM engine.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/carvera-sim/carverad/internal/catalog"
	"github.com/carvera-sim/carverad/internal/vfs"
	"github.com/carvera-sim/carverad/internal/xmodem"
)

const eot byte = 0x04

const minDelay = 100 * time.Millisecond

// ConnState is the per-connection state the dispatcher reads and mutates:
// current working directory and last-activity time. The Connection Manager
// owns its lifetime and teardown.
type ConnState struct {
	mu           sync.Mutex
	CWD          string
	LastActivity time.Time
}

// NewConnState returns connection state rooted at "/".
func NewConnState() *ConnState {
	return &ConnState{CWD: "/", LastActivity: time.Now()}
}

func (c *ConnState) cwd() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CWD
}

func (c *ConnState) setCWD(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CWD = p
}

// Touch records activity, per spec.md §4.5 step 10.
func (c *ConnState) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastActivity = time.Now()
}

// Dispatcher wires together the catalog, the virtual filesystem, and a
// single server-wide wall-clock anchor for the time command.
type Dispatcher struct {
	cat    *catalog.Catalog
	fs     *vfs.VFS
	logger *slog.Logger

	anchorMu    sync.Mutex
	anchorEpoch int64
	anchorSetAt time.Time
}

// New builds a Dispatcher over the given catalog and filesystem.
func New(cat *catalog.Catalog, fs *vfs.VFS, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cat:         cat,
		fs:          fs,
		logger:      logger,
		anchorEpoch: time.Now().Unix(),
		anchorSetAt: time.Now(),
	}
}

// InstantPrefixes exposes the catalog's instant-command set so the
// Connection Manager can build a per-connection Framer without reaching
// into the catalog package directly.
func (d *Dispatcher) InstantPrefixes() map[string]struct{} {
	return d.cat.InstantPrefixes()
}

// currentEpoch returns the anchor's current value, advancing with real
// elapsed time since it was last set (or started).
func (d *Dispatcher) currentEpoch() int64 {
	d.anchorMu.Lock()
	defer d.anchorMu.Unlock()
	return d.anchorEpoch + int64(time.Since(d.anchorSetAt).Seconds())
}

func (d *Dispatcher) setEpoch(epoch int64) {
	d.anchorMu.Lock()
	defer d.anchorMu.Unlock()
	d.anchorEpoch = epoch
	d.anchorSetAt = time.Now()
}

// Dispatch acts on one framed command and writes the reply to conn. It
// returns false when the connection should be torn down (an I/O error
// occurred or the XMODEM engine observed a closed socket).
func (d *Dispatcher) Dispatch(conn net.Conn, cs *ConnState, raw string, abort <-chan struct{}) bool {
	defer cs.Touch()

	verb, args := splitVerb(raw)
	desc, ok := d.cat.Lookup(verb)

	logLevel := slog.LevelInfo
	if ok && desc.DebugOutputOnly {
		logLevel = slog.LevelDebug
	}
	d.logf(logLevel, "RECV", raw)

	if !ok {
		return d.writeReply(conn, "error:unsupported command\n", logLevel)
	}

	switch verb {
	case "upload", "download":
		return d.handleTransfer(conn, cs, verb, args, abort, logLevel, desc)
	}

	var body string
	switch verb {
	case "ls", "pwd", "cd", "cat", "mv", "rm", "mkdir":
		body = d.handleFilesystem(cs, verb, args)
	case "time":
		body = d.handleTime(args)
	default:
		body = desc.Response
	}

	reply := composeReply(body, desc)

	time.Sleep(effectiveDelay(desc.TimeMS))

	return d.writeReply(conn, reply, logLevel)
}

// splitVerb separates the command's leading token from its remaining
// argument text.
func splitVerb(raw string) (string, string) {
	raw = strings.TrimSpace(raw)
	idx := strings.IndexAny(raw, " \t")
	if idx < 0 {
		return raw, ""
	}
	return raw[:idx], strings.TrimSpace(raw[idx+1:])
}

// composeReply builds the wire reply per spec.md §4.5 step 7: body, then
// LF if non-empty, then "ok\n" if sends_ok, then an EOT byte if
// eot_terminated.
func composeReply(body string, desc catalog.Descriptor) string {
	var b strings.Builder
	if body != "" {
		b.WriteString(body)
		b.WriteByte('\n')
	}
	if desc.SendsOK {
		b.WriteString("ok\n")
	}
	if desc.EOTTerminated {
		b.WriteByte(eot)
	}
	return b.String()
}

func effectiveDelay(timeMS int) time.Duration {
	d := time.Duration(timeMS) * time.Millisecond
	if d < minDelay {
		return minDelay
	}
	return d
}

func (d *Dispatcher) writeReply(conn net.Conn, reply string, logLevel slog.Level) bool {
	if reply != "" {
		d.logf(logLevel, "SEND", strings.TrimRight(reply, "\x04"))
		if _, err := conn.Write([]byte(reply)); err != nil {
			d.logger.Error("write failed, closing connection", "error", err)
			return false
		}
	}
	return true
}

func (d *Dispatcher) logf(level slog.Level, prefix, message string) {
	d.logger.Log(context.Background(), level, alignContinuation(prefix, message))
}

// alignContinuation formats a possibly multi-line message for logging: the
// first line carries "[PREFIX]: ", continuation lines are padded to align
// under it. Grounded on the reference implementation's
// _format_multiline_log padding calculation.
func alignContinuation(prefix, message string) string {
	head := fmt.Sprintf("[%s]: ", prefix)
	if !strings.Contains(message, "\n") {
		return head + message
	}
	lines := strings.Split(message, "\n")
	pad := strings.Repeat(" ", len(head))
	var b strings.Builder
	for i, line := range lines {
		if i == 0 {
			b.WriteString(head)
		} else {
			b.WriteByte('\n')
			b.WriteString(pad)
		}
		b.WriteString(line)
	}
	return b.String()
}

// handleFilesystem invokes the VFS for one of the filesystem-shaped
// commands and renders its result (or error) as reply text.
func (d *Dispatcher) handleFilesystem(cs *ConnState, verb, args string) string {
	cwd := cs.cwd()

	switch verb {
	case "pwd":
		return cwd
	case "ls":
		withSizes, path := parseLsArgs(args)
		out, err := d.fs.List(cwd, path, withSizes)
		if err != nil {
			return errLine(err)
		}
		return out
	case "cd":
		newCWD, err := d.fs.Cd(cwd, args)
		if err != nil {
			return errLine(err)
		}
		cs.setCWD(newCWD)
		return ""
	case "cat":
		out, err := d.fs.Cat(cwd, args, 0)
		if err != nil {
			return errLine(err)
		}
		return out
	case "mv":
		fields := strings.Fields(args)
		if len(fields) < 2 {
			return "error:mv requires a source and destination"
		}
		if err := d.fs.Mv(cwd, fields[0], fields[1]); err != nil {
			return errLine(err)
		}
		return ""
	case "rm":
		if args == "" {
			return "error:rm requires a path"
		}
		if err := d.fs.Rm(cwd, args); err != nil {
			return errLine(err)
		}
		return ""
	case "mkdir":
		if args == "" {
			return "error:mkdir requires a path"
		}
		if err := d.fs.Mkdir(cwd, args); err != nil {
			return errLine(err)
		}
		return ""
	}
	return ""
}

// parseLsArgs splits "ls" arguments into the -s (show sizes) flag and the
// directory path, grounded on the reference implementation's flag handling.
func parseLsArgs(args string) (withSizes bool, path string) {
	for _, field := range strings.Fields(args) {
		if field == "-s" {
			withSizes = true
			continue
		}
		if path == "" {
			path = field
		}
	}
	return withSizes, path
}

func errLine(err error) string {
	return "error:" + err.Error()
}

// handleTime accepts both "time" (query) and "time = <epoch>" (set), per
// spec.md §4.5 step 5.
func (d *Dispatcher) handleTime(args string) string {
	args = strings.TrimSpace(args)
	if args == "" {
		return strconv.FormatInt(d.currentEpoch(), 10)
	}
	args = strings.TrimPrefix(args, "=")
	args = strings.TrimSpace(args)
	epoch, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		return "error:invalid epoch"
	}
	d.setEpoch(epoch)
	return ""
}

// handleTransfer hands the connection to the XMODEM engine for the
// duration of an upload or download, per spec.md §4.3 and §5.
func (d *Dispatcher) handleTransfer(conn net.Conn, cs *ConnState, verb, path string, abort <-chan struct{}, logLevel slog.Level, desc catalog.Descriptor) bool {
	if path == "" {
		return d.writeReply(conn, "error:"+verb+" requires a path\n", logLevel)
	}
	cwd := cs.cwd()

	if verb == "download" {
		data, _, err := d.fs.DownloadFetch(cwd, path)
		if err != nil {
			d.logger.Error("download failed", "path", path, "error", err)
			return d.writeReply(conn, "error:"+err.Error()+"\n", logLevel)
		}
		if err := xmodem.Send(conn, path, data, abort); err != nil {
			d.logger.Error("xmodem send failed", "path", path, "error", err)
			return d.writeReply(conn, "error:transfer failed\n", logLevel)
		}
		d.logger.Info("download completed", "path", path, "bytes", len(data))
		return d.writeReply(conn, composeReply("", desc), logLevel)
	}

	result, err := xmodem.Receive(conn, abort)
	if err != nil {
		if err == xmodem.ErrMD5Mismatch {
			d.logger.Error("upload md5 mismatch", "path", path)
			return d.writeReply(conn, "error:md5 mismatch\n", logLevel)
		}
		d.logger.Error("xmodem receive failed", "path", path, "error", err)
		return d.writeReply(conn, "error:transfer failed\n", logLevel)
	}

	entry := d.fs.UploadAccept(cwd, path, result.Data)
	d.logger.Info("upload completed", "path", path, "bytes", entry.Size, "md5", entry.MD5)
	return d.writeReply(conn, composeReply("", desc), logLevel)
}
