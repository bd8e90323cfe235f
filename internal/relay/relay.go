// Package relay implements the SFU's per-track forwarding loop: read
// raw RTP bytes from one publisher's remote track, apply the
// subscription filter for that track's media kind, and write the same
// bytes — never re-encoded — to every subscribed recipient's matching
// local track.
package relay

import (
	"context"
	"errors"
	"io"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"sfu-server/internal/types"
)

// rtpBufferSize comfortably holds one RTP packet at typical WebRTC
// MTUs without needing to grow.
const rtpBufferSize = 1500

// Recipient is the subset of a room member's behavior the relay loop
// needs: its id, its current flag triple, and its local track
// registry. internal/peer.Peer is adapted to it with NewRecipient.
type Recipient interface {
	ID() string
	GetState() types.Flags
	GetLocalTrack(originID string, trackType types.TrackType) (*webrtc.TrackLocalStaticRTP, bool)
}

// RoomView is the subset of room behavior the relay loop needs to
// find current recipients without holding the room's lock while it
// blocks on network I/O.
type RoomView interface {
	Recipients(excludePeerID string) []Recipient
	TrackEnded(originID string, trackType types.TrackType)
}

// peerAdapter lets *peer.Peer satisfy the Recipient interface without
// internal/peer importing internal/relay (which would create an
// import cycle, since relay needs to talk about peers generically).
type peerAdapter struct {
	id    string
	state func() types.Flags
	track func(originID string, trackType types.TrackType) (*webrtc.TrackLocalStaticRTP, bool)
}

// NewRecipient adapts a peer-shaped value into a Recipient without a
// direct dependency on internal/peer's concrete type.
func NewRecipient(id string, getState func() types.Flags, getLocalTrack func(string, types.TrackType) (*webrtc.TrackLocalStaticRTP, bool)) Recipient {
	return &peerAdapter{id: id, state: getState, track: getLocalTrack}
}

func (a *peerAdapter) ID() string                  { return a.id }
func (a *peerAdapter) GetState() types.Flags       { return a.state() }
func (a *peerAdapter) GetLocalTrack(originID string, tt types.TrackType) (*webrtc.TrackLocalStaticRTP, bool) {
	return a.track(originID, tt)
}

// Publisher is the subset of publisher behavior the subscription
// filter needs (the publisher's own mute flag gates audio).
type Publisher interface {
	ID() string
	GetState() types.Flags
}

// Loop forwards remote's RTP packets to the matching local track on
// every subscribed recipient in room, until ctx is cancelled or the
// remote track ends. It must run in its own goroutine; internal/room
// counts it in the room's relay WaitGroup, and Peer.Close does not wait
// for it.
func Loop(ctx context.Context, logger logging.LeveledLogger, room RoomView, publisher Publisher, remote *webrtc.TrackRemote) {
	trackType := types.DeriveTrackType(remote.ID(), remote.StreamID())
	buf := make([]byte, rtpBufferSize)

	defer room.TrackEnded(publisher.ID(), trackType)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, _, err := remote.Read(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			if logger != nil {
				logger.Debugf("relay: read from %s's %s track: %v", publisher.ID(), trackType, err)
			}
			return
		}

		forward(logger, room, publisher, trackType, buf[:n])
	}
}

// forward applies the subscription filter and writes packet, byte for
// byte, to every qualifying recipient's matching local track. It never
// unmarshals or re-marshals the RTP packet: the SFU relays, it does
// not transcode.
func forward(logger logging.LeveledLogger, room RoomView, publisher Publisher, trackType types.TrackType, packet []byte) {
	publisherFlags := publisher.GetState()
	if trackType == types.TrackAudio && publisherFlags.Muted {
		return
	}

	for _, recipient := range room.Recipients(publisher.ID()) {
		if trackType == types.TrackCamera && !recipient.GetState().VideoOn {
			continue
		}
		// Screen forwards to everyone except the publisher,
		// unconditionally: a recipient's own screen_sharing flag
		// describes whether *they* are presenting, not whether they
		// want to watch someone else's share.

		local, ok := recipient.GetLocalTrack(publisher.ID(), trackType)
		if !ok {
			continue
		}
		if _, err := local.Write(packet); err != nil {
			if logger != nil && !errors.Is(err, io.ErrClosedPipe) {
				logger.Debugf("relay: write to %s from %s's %s track: %v", recipient.ID(), publisher.ID(), trackType, err)
			}
		}
	}
}
