package peer

import "sync/atomic"

// State is a peer session's lifecycle stage.
type State int32

const (
	// StateNew is the zero value; New moves a peer out of it before
	// returning the peer.
	StateNew State = iota
	// StateConnecting covers the time from construction until the
	// underlying connection first reports Connected.
	StateConnecting
	// StateConnected means ICE/DTLS is up and media can flow.
	StateConnected
	// StateDisconnected means ICE dropped but may still recover.
	StateDisconnected
	// StateFailed means ICE/DTLS failed terminally.
	StateFailed
	// StateClosed is terminal; the peer has been torn down.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func isValidTransition(from, to State) bool {
	if from == to {
		return true
	}
	switch from {
	case StateNew:
		return to == StateConnecting || to == StateClosed || to == StateFailed
	case StateConnecting:
		return to == StateConnected || to == StateDisconnected || to == StateFailed || to == StateClosed
	case StateConnected:
		return to == StateDisconnected || to == StateFailed || to == StateClosed
	case StateDisconnected:
		return to == StateConnected || to == StateFailed || to == StateClosed
	case StateFailed:
		return to == StateClosed
	case StateClosed:
		return false
	}
	return false
}

type stateBox struct {
	v atomic.Int32
}

func (s *stateBox) load() State {
	return State(s.v.Load())
}

func (s *stateBox) transitionTo(to State) bool {
	for {
		from := State(s.v.Load())
		if !isValidTransition(from, to) {
			return false
		}
		if s.v.CompareAndSwap(int32(from), int32(to)) {
			return true
		}
	}
}
