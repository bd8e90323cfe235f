// Package signaling defines the JSON message envelope exchanged over
// the SFU's WebSocket connections and decodes inbound client
// messages by their "type" discriminator.
package signaling

import (
	"encoding/json"
	"fmt"

	"sfu-server/internal/types"
)

// Client-to-server message type discriminators.
const (
	TypeJoin             = "join"
	TypeOffer            = "offer"
	TypeAnswer           = "answer"
	TypeCandidate        = "candidate"
	TypeStateUpdate      = "state_update"
	TypeStartScreenShare = "start_screen_share"
	TypeStopScreenShare  = "stop_screen_share"
	TypePing             = "ping"
	TypeGetParticipants  = "get_participants"
)

// Server-to-client message type discriminators.
const (
	TypeJoined               = "joined"
	TypeParticipantJoined    = "participant_joined"
	TypeParticipantLeft      = "participant_left"
	TypeParticipants         = "participants"
	TypeScreenShareStarted   = "screen_share_started"
	TypeScreenShareStopped   = "screen_share_stopped"
	TypePong                 = "pong"
	TypeError                = "error"
	TypeICEGatheringComplete = "ice_gathering_complete"
)

// envelope is used only to sniff the discriminator before decoding
// the full, type-specific payload.
type envelope struct {
	Type string `json:"type"`
}

// JoinMessage is the first message a client must send after the
// WebSocket handshake completes.
type JoinMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Name string `json:"name"`
}

// SDPMessage carries a client's SDP offer or, on the `answer`
// variant, the client's answer to a server-issued offer.
type SDPMessage struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// CandidateMessage carries one trickled ICE candidate in either
// direction.
type CandidateMessage struct {
	Type          string  `json:"type"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// StateUpdateMessage carries a client's replacement flag triple.
type StateUpdateMessage struct {
	Type          string `json:"type"`
	Muted         bool   `json:"muted"`
	VideoOn       bool   `json:"video_on"`
	ScreenSharing bool   `json:"screen_sharing"`
}

// SimpleMessage covers message variants that carry only the
// discriminator: start_screen_share, stop_screen_share, ping,
// get_participants, pong.
type SimpleMessage struct {
	Type string `json:"type"`
}

// ErrorMessage reports a protocol or application error to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JoinedMessage acknowledges a successful join with the new peer's
// assigned id and the current room roster (not including itself).
type JoinedMessage struct {
	Type         string                  `json:"type"`
	YourID       string                  `json:"your_id"`
	Participants []types.ParticipantInfo `json:"participants"`
}

// ParticipantJoinedMessage announces a new peer joining the room.
type ParticipantJoinedMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ParticipantLeftMessage announces a peer leaving the room.
type ParticipantLeftMessage struct {
	Type          string `json:"type"`
	ParticipantID string `json:"participant_id"`
}

// StateUpdateEventMessage is the server-to-client fan-out of another
// peer's replacement flag triple.
type StateUpdateEventMessage struct {
	Type          string `json:"type"`
	ParticipantID string `json:"participant_id"`
	Muted         bool   `json:"muted"`
	VideoOn       bool   `json:"video_on"`
	ScreenSharing bool   `json:"screen_sharing"`
}

// ScreenShareEventMessage announces a peer starting or stopping a
// screen share.
type ScreenShareEventMessage struct {
	Type          string `json:"type"`
	ParticipantID string `json:"participant_id"`
}

// ParticipantsMessage answers a get_participants request.
type ParticipantsMessage struct {
	Type         string                  `json:"type"`
	Participants []types.ParticipantInfo `json:"participants"`
}

// Decode sniffs the "type" field of raw and unmarshals it into the
// matching concrete message struct. The returned value's dynamic type
// is JoinMessage, SDPMessage, CandidateMessage, StateUpdateMessage or
// SimpleMessage.
func Decode(raw []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("signaling: malformed message: %w", err)
	}

	switch env.Type {
	case TypeJoin:
		var m JoinMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("signaling: decode join: %w", err)
		}
		return m, nil
	case TypeOffer, TypeAnswer:
		var m SDPMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("signaling: decode %s: %w", env.Type, err)
		}
		return m, nil
	case TypeCandidate:
		var m CandidateMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("signaling: decode candidate: %w", err)
		}
		return m, nil
	case TypeStateUpdate:
		var m StateUpdateMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("signaling: decode state_update: %w", err)
		}
		return m, nil
	case TypeStartScreenShare, TypeStopScreenShare, TypePing, TypeGetParticipants:
		return SimpleMessage{Type: env.Type}, nil
	case "":
		return nil, fmt.Errorf("signaling: message missing \"type\" field")
	default:
		return nil, fmt.Errorf("signaling: unknown message type %q", env.Type)
	}
}

// NewJoined builds a `joined` server message.
func NewJoined(id string, participants []types.ParticipantInfo) JoinedMessage {
	if participants == nil {
		participants = []types.ParticipantInfo{}
	}
	return JoinedMessage{Type: TypeJoined, YourID: id, Participants: participants}
}

// NewOffer builds an `offer` server message (renegotiation push).
func NewOffer(sdp string) SDPMessage {
	return SDPMessage{Type: TypeOffer, SDP: sdp}
}

// NewAnswer builds an `answer` server message, replying to a client
// offer.
func NewAnswer(sdp string) SDPMessage {
	return SDPMessage{Type: TypeAnswer, SDP: sdp}
}

// NewCandidate builds a `candidate` server message.
func NewCandidate(candidate string, mid *string, mLineIndex *uint16) CandidateMessage {
	return CandidateMessage{Type: TypeCandidate, Candidate: candidate, SDPMid: mid, SDPMLineIndex: mLineIndex}
}

// NewParticipantJoined builds a `participant_joined` announcement.
// Only id and name are sent; the new peer's flag triple is not
// included.
func NewParticipantJoined(id, name string) ParticipantJoinedMessage {
	return ParticipantJoinedMessage{Type: TypeParticipantJoined, ID: id, Name: name}
}

// NewParticipantLeft builds a `participant_left` announcement.
func NewParticipantLeft(id string) ParticipantLeftMessage {
	return ParticipantLeftMessage{Type: TypeParticipantLeft, ParticipantID: id}
}

// NewStateUpdate builds a `state_update` fan-out announcement from
// another peer's id and flag triple.
func NewStateUpdate(id string, flags types.Flags) StateUpdateEventMessage {
	return StateUpdateEventMessage{
		Type: TypeStateUpdate, ParticipantID: id,
		Muted: flags.Muted, VideoOn: flags.VideoOn, ScreenSharing: flags.ScreenSharing,
	}
}

// NewParticipants builds a `participants` response message.
func NewParticipants(participants []types.ParticipantInfo) ParticipantsMessage {
	if participants == nil {
		participants = []types.ParticipantInfo{}
	}
	return ParticipantsMessage{Type: TypeParticipants, Participants: participants}
}

// NewScreenShareStarted builds a `screen_share_started` announcement.
func NewScreenShareStarted(id string) ScreenShareEventMessage {
	return ScreenShareEventMessage{Type: TypeScreenShareStarted, ParticipantID: id}
}

// NewScreenShareStopped builds a `screen_share_stopped` announcement.
func NewScreenShareStopped(id string) ScreenShareEventMessage {
	return ScreenShareEventMessage{Type: TypeScreenShareStopped, ParticipantID: id}
}

// NewPong builds a `pong` reply to a client `ping`.
func NewPong() SimpleMessage {
	return SimpleMessage{Type: TypePong}
}

// NewError builds an `error` message.
func NewError(code int, message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Code: code, Message: message}
}

// NewICEGatheringComplete builds an `ice_gathering_complete` message,
// sent once a peer's ICE gathering finishes (signaled by pion with a
// nil candidate).
func NewICEGatheringComplete() SimpleMessage {
	return SimpleMessage{Type: TypeICEGatheringComplete}
}
