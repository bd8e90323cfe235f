package peer

import "errors"

// ErrorKind classifies a peer-level failure so callers can decide
// whether to retry, log-and-continue, or tear the peer down, without
// string-matching error messages.
type ErrorKind int

const (
	// KindProtocol means the client sent a message that violates the
	// signaling protocol (bad JSON, unknown type, message out of
	// order). The connection is terminated.
	KindProtocol ErrorKind = iota
	// KindSignaling means an SDP/ICE operation on the underlying
	// webrtc.PeerConnection failed.
	KindSignaling
	// KindTransport means the WebSocket transport itself failed
	// (read/write error, abnormal close).
	KindTransport
	// KindRoomFull means a join was rejected because the target room
	// is already at its participant cap.
	KindRoomFull
	// KindSend means enqueueing a message onto a peer's outbound
	// queue failed (queue closed).
	KindSend
	// KindTrackWrite means writing an RTP packet to a local track
	// failed (recipient's sender/track gone).
	KindTrackWrite
)

func (k ErrorKind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindSignaling:
		return "signaling"
	case KindTransport:
		return "transport"
	case KindRoomFull:
		return "room_full"
	case KindSend:
		return "send"
	case KindTrackWrite:
		return "track_write"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with the peer it happened to, the
// operation that failed, and a classification.
type Error struct {
	Kind   ErrorKind
	PeerID string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + " failed for peer " + e.PeerID + " (" + e.Kind.String() + ")"
	}
	return e.Op + " failed for peer " + e.PeerID + " (" + e.Kind.String() + "): " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ProtocolError wraps a client protocol violation.
func ProtocolError(peerID, op string, err error) *Error {
	return &Error{Kind: KindProtocol, PeerID: peerID, Op: op, Err: err}
}

// SignalingError wraps an SDP/ICE failure.
func SignalingError(peerID, op string, err error) *Error {
	return &Error{Kind: KindSignaling, PeerID: peerID, Op: op, Err: err}
}

// TransportError wraps a WebSocket transport failure.
func TransportError(peerID, op string, err error) *Error {
	return &Error{Kind: KindTransport, PeerID: peerID, Op: op, Err: err}
}

// RoomFullError reports a join rejected by the room participant cap.
func RoomFullError(peerID, roomID string) *Error {
	return &Error{Kind: KindRoomFull, PeerID: peerID, Op: "join room " + roomID, Err: ErrRoomAtCapacity}
}

// SendError wraps an outbound-queue enqueue failure.
func SendError(peerID string, err error) *Error {
	return &Error{Kind: KindSend, PeerID: peerID, Op: "send", Err: err}
}

// TrackWriteError wraps a local-track write failure.
func TrackWriteError(peerID string, err error) *Error {
	return &Error{Kind: KindTrackWrite, PeerID: peerID, Op: "track write", Err: err}
}

// Sentinel errors.
var (
	ErrRoomAtCapacity = errors.New("room is at capacity")
	ErrQueueClosed    = errors.New("outbound queue is closed")
	ErrPeerClosed     = errors.New("peer is closed")
)
