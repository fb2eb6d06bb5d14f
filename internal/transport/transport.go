// Package transport carries the wire protocol between an authoritative
// server and its clients.
//
// The reliable-ordered channel is a WebSocket session; the unsequenced
// fast channel (island piloting input) is a bare UDP socket on the same
// port number. All protocol state is advanced cooperatively: I/O
// goroutines only queue events, and Tick drains the queue without
// blocking and invokes callbacks on the calling goroutine. No locks
// guard protocol state.
package transport

import (
	"errors"
	"sync/atomic"
	"time"
)

const (
	// sessionPath is the HTTP path a client dials for the reliable
	// channel.
	sessionPath = "/v1/session"

	connectTimeout    = 5 * time.Second
	disconnectTimeout = 3 * time.Second
	writeTimeout      = 5 * time.Second

	// defaultReadTimeout bounds how long a peer may stay silent. The
	// server pings well inside the window, so a live client's pongs keep
	// refreshing the deadline; a vanished one times out and leaves the
	// peer set.
	defaultReadTimeout = 60 * time.Second

	// DefaultMaxPeers bounds concurrent sessions on the server.
	DefaultMaxPeers = 32

	eventQueueSize = 1024
	peerQueueSize  = 256

	// fastDatagramMax bounds a fast-channel read. Piloting records are
	// tiny; anything larger is malformed.
	fastDatagramMax = 512
)

var (
	ErrNotInitialized   = errors.New("transport: networking not initialized")
	ErrAlreadyRunning   = errors.New("transport: server already running")
	ErrAlreadyConnected = errors.New("transport: client already has a session")
	ErrNotConnected     = errors.New("transport: no active session")
	ErrQueueFull        = errors.New("transport: peer send queue full")
	ErrPayloadTooLarge  = errors.New("transport: compressed payload exceeds datagram bound")
	ErrChunkSize        = errors.New("transport: chunk buffer is not exactly one chunk")
)

// initialized is the sole piece of process-wide networking state.
var initialized atomic.Bool

// Initialize prepares process-wide networking. It must be called once
// before any server or client is started and is safe to call again (a
// repeat call is a no-op).
func Initialize() error {
	initialized.Store(true)
	return nil
}

// Shutdown tears process-wide networking down. Servers and clients must
// already be stopped; starting one afterwards fails until Initialize is
// called again.
func Shutdown() {
	initialized.Store(false)
}
