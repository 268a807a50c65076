// Command carverractl is an interactive test console for carverad: it puts
// the local terminal into raw mode and forwards every keystroke to the
// server byte-for-byte, so instant commands (?, $I) fire exactly as they
// would from a human at a real serial console, without waiting for Enter.
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/term"
)

func main() {
	host := flag.String("host", "127.0.0.1", "server host")
	port := flag.Int("port", 2222, "server port")
	flag.Parse()

	addr := fmt.Sprintf("%s:%d", *host, *port)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "carverractl: connect %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	console, err := newConsole()
	if err != nil {
		fmt.Fprintf(os.Stderr, "carverractl: %v\n", err)
		os.Exit(1)
	}
	defer console.Close()

	fmt.Fprintf(console.tty, "connected to %s (Ctrl-C to quit)\r\n", addr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		echoServerReplies(console.tty, conn)
	}()

	forwardKeystrokes(console.tty, conn)
	conn.Close()
	<-done
}

// console is a minimal raw-mode terminal handle, grounded on the teacher's
// Editor type but stripped down to keystroke forwarding — this console has
// no local line buffer, cursor tracking, or history, since every byte must
// reach the server immediately to reproduce instant-command behavior.
type console struct {
	tty      *os.File
	oldState *term.State
}

func newConsole() (*console, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/tty: %w", err)
	}
	old, err := term.MakeRaw(int(tty.Fd()))
	if err != nil {
		tty.Close()
		return nil, fmt.Errorf("raw mode: %w", err)
	}
	return &console{tty: tty, oldState: old}, nil
}

func (c *console) Close() {
	term.Restore(int(c.tty.Fd()), c.oldState)
	c.tty.Close()
}

// forwardKeystrokes reads one byte at a time from tty and writes it
// straight to conn, so an instant command like "?" reaches the server the
// moment it is typed. Ctrl-C ends the session.
func forwardKeystrokes(tty *os.File, conn net.Conn) {
	buf := make([]byte, 1)
	for {
		n, err := tty.Read(buf)
		if err != nil || n == 0 {
			return
		}
		if buf[0] == 3 { // Ctrl-C
			fmt.Fprint(tty, "\r\n")
			return
		}
		if _, err := conn.Write(buf[:1]); err != nil {
			return
		}
	}
}

// echoServerReplies copies bytes from conn to tty, translating a bare LF
// to CRLF so replies render correctly against a raw terminal, and printing
// the EOT sentinel as a visible marker rather than a control character.
func echoServerReplies(tty *os.File, conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			writeTranslated(tty, buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				fmt.Fprintf(tty, "\r\n[connection closed: %v]\r\n", err)
			} else {
				fmt.Fprint(tty, "\r\n[connection closed]\r\n")
			}
			return
		}
	}
}

func writeTranslated(tty *os.File, data []byte) {
	for _, b := range data {
		switch b {
		case '\n':
			tty.Write([]byte("\r\n"))
		case 0x04:
			tty.Write([]byte("[EOT]"))
		default:
			tty.Write([]byte{b})
		}
	}
}
