// Package bus provides the asynchronous message bus between the rollout
// coordinator and its actors: a websocket hub hosted by the coordinator
// process and a dialing client for workers.
package bus

import (
	"errors"
	"time"

	"distributed-rollout/internal/protocol"
)

var (
	// ErrReceiveTimeout reports that a bounded receive attempt expired
	// with no message.
	ErrReceiveTimeout = errors.New("bus: receive timed out")
	// ErrClosed reports use of a bus after Close.
	ErrClosed = errors.New("bus: closed")
)

// Addressed pairs an envelope with the peer it is destined for.
type Addressed struct {
	Peer     string
	Envelope protocol.Envelope
}

// Bus is the coordinator-side view of the message bus.
type Bus interface {
	// Peers lists the identities of the connected actors.
	Peers() []string
	// Broadcast fans the envelope out to every peer without waiting for
	// acknowledgment.
	Broadcast(env protocol.Envelope) error
	// Scatter sends each envelope to its addressed peer.
	Scatter(msgs []Addressed) error
	// ReceiveOnce blocks for one inbound envelope. A timeout <= 0
	// blocks indefinitely; otherwise ErrReceiveTimeout is returned when
	// the attempt expires.
	ReceiveOnce(timeout time.Duration) (protocol.Envelope, error)
	Close() error
}
