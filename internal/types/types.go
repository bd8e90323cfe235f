// Package types holds the small data shapes shared across the SFU's
// room, peer, relay, and signaling packages: the track-type tag, the
// per-peer flag triple, and the participant summary sent over the
// wire.
package types

import "strings"

// TrackType tags a published track by the kind of media it carries.
// It gates the subscription filter in internal/relay.
type TrackType int

const (
	// TrackAudio is a participant's microphone.
	TrackAudio TrackType = iota
	// TrackCamera is a participant's webcam.
	TrackCamera
	// TrackScreen is a participant's screen-share video.
	TrackScreen
)

// String implements fmt.Stringer for logging.
func (t TrackType) String() string {
	switch t {
	case TrackAudio:
		return "audio"
	case TrackScreen:
		return "screen"
	case TrackCamera:
		return "camera"
	default:
		return "unknown"
	}
}

// DeriveTrackType infers a TrackType from a remote track's id/stream
// id by substring match. This is a fallback heuristic, not a protocol
// guarantee: a client that wants reliable screen-share routing should
// eventually signal its role explicitly rather than rely on track
// labels containing "screen".
func DeriveTrackType(id, streamID string) TrackType {
	needle := strings.ToLower(id + " " + streamID)
	switch {
	case strings.Contains(needle, "screen"):
		return TrackScreen
	case strings.Contains(needle, "audio"):
		return TrackAudio
	default:
		return TrackCamera
	}
}

// Flags is the atomic-replace triple a peer owns: muted, video_on,
// screen_sharing. It is always read or written as a whole so a
// concurrent reader never observes a torn combination.
type Flags struct {
	Muted         bool `json:"muted"`
	VideoOn       bool `json:"video_on"`
	ScreenSharing bool `json:"screen_sharing"`
}

// DefaultFlags is the flag triple a new peer starts with: unmuted,
// camera on, not sharing.
func DefaultFlags() Flags {
	return Flags{Muted: false, VideoOn: true, ScreenSharing: false}
}

// ParticipantInfo is the wire shape describing one other participant,
// used by both the `joined` and `participants` server messages.
type ParticipantInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Flags
}
