// Package carvera holds the shared constants and defaults used across the
// carverad server: the connection admission limit, the inactivity timeout,
// and the default listen address for a Carvera-family CNC mock controller.
package carvera

import "time"

const (
	// DefaultHost is the listener address used when no override is given.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the listener port used when no override is given.
	DefaultPort = 2222

	// MaxConns is the maximum number of simultaneous accepted connections.
	MaxConns = 2
	// IdleTimeout closes a connection that has received no bytes for this long.
	IdleTimeout = 10 * time.Second
)
