// Package room implements the SFU's Room (a set of peers that can see
// and hear each other) and Manager (the room directory, keyed by room
// id).
package room

import (
	"context"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"sfu-server/internal/metrics"
	"sfu-server/internal/peer"
	"sfu-server/internal/relay"
	"sfu-server/internal/signaling"
	"sfu-server/internal/types"
)

// publication tracks one (origin, track type) publication so a peer
// joining after the publication started can still subscribe to it.
type publication struct {
	originID  string
	trackType types.TrackType
	local     *webrtc.TrackLocalStaticRTP
	cancel    context.CancelFunc
}

// Room holds the set of peers in one conference and fans messages and
// media out between them.
type Room struct {
	ID              string
	MaxParticipants int

	logger logging.LeveledLogger

	mu           sync.RWMutex
	peers        map[string]*peer.Peer
	publications map[string]*publication // keyed by pubKey(originID, trackType)
	relayWG      sync.WaitGroup
}

// NewRoom creates an empty room.
func NewRoom(id string, maxParticipants int, logger logging.LeveledLogger) *Room {
	return &Room{
		ID:              id,
		MaxParticipants: maxParticipants,
		logger:          logger,
		peers:           make(map[string]*peer.Peer),
		publications:    make(map[string]*publication),
	}
}

func pubKey(originID string, tt types.TrackType) string {
	return originID + "/" + tt.String()
}

// PeerCount returns the number of peers currently in the room.
func (r *Room) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// IsFull reports whether the room is at its configured capacity. A
// MaxParticipants of zero or less means unlimited.
func (r *Room) IsFull() bool {
	if r.MaxParticipants <= 0 {
		return false
	}
	return r.PeerCount() >= r.MaxParticipants
}

// IsEmpty reports whether the room currently has no peers.
func (r *Room) IsEmpty() bool {
	return r.PeerCount() == 0
}

// GetPeer returns the peer with the given id, if present.
func (r *Room) GetPeer(id string) (*peer.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// GetAllPeers returns a snapshot of every peer currently in the room.
func (r *Room) GetAllPeers() []*peer.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*peer.Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// Roster returns the wire-shape participant list, optionally
// excluding one peer id (typically the caller, so it doesn't see
// itself in its own join response).
func (r *Room) Roster(excludeID string) []types.ParticipantInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ParticipantInfo, 0, len(r.peers))
	for id, p := range r.peers {
		if id == excludeID {
			continue
		}
		out = append(out, p.Info())
	}
	return out
}

// AddPeer inserts p into the room. It announces the new peer to every
// existing member first, then makes p visible to later roster reads,
// so a peer never observes its own join notice. Existing publications
// are replicated onto p so it immediately starts receiving media
// already in flight, and publishers are asked for a fresh keyframe.
func (r *Room) AddPeer(p *peer.Peer) {
	r.BroadcastMessageToAll(signaling.NewParticipantJoined(p.ID, p.DisplayName))

	r.mu.Lock()
	r.peers[p.ID] = p
	pubs := make([]*publication, 0, len(r.publications))
	for _, pub := range r.publications {
		pubs = append(pubs, pub)
	}
	r.mu.Unlock()

	needsRenegotiation := false
	for _, pub := range pubs {
		added, err := p.AddLocalTrack(pub.originID, pub.trackType, pub.local)
		if err != nil {
			if r.logger != nil {
				r.logger.Warnf("room %s: replicate publication %s/%s to %s: %v", r.ID, pub.originID, pub.trackType, p.ID, err)
			}
			continue
		}
		if added {
			needsRenegotiation = true
			metrics.RecordTrackAdded()
		}
		if origin, ok := r.GetPeer(pub.originID); ok {
			origin.SendPLI()
		}
	}

	if needsRenegotiation {
		r.renegotiate(p)
	}
}

// RemovePeer removes and closes the peer with the given id, if
// present, and announces its departure to the remaining members. It
// does not delete the room itself even if now empty; cleanup is
// opportunistic, see Manager.CleanupEmptyRooms.
func (r *Room) RemovePeer(id string) {
	r.mu.Lock()
	p, ok := r.peers[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.peers, id)
	var endedKeys []string
	for key, pub := range r.publications {
		if pub.originID == id {
			pub.cancel()
			endedKeys = append(endedKeys, key)
		}
	}
	for _, key := range endedKeys {
		delete(r.publications, key)
	}
	remaining := make([]*peer.Peer, 0, len(r.peers))
	for _, rp := range r.peers {
		remaining = append(remaining, rp)
	}
	r.mu.Unlock()

	_ = p.Close()

	for _, rp := range remaining {
		rp.RemoveAllTracksFromOrigin(id)
	}

	r.BroadcastMessageToAll(signaling.NewParticipantLeft(id))
}

// BroadcastMessage sends msg to every peer in the room except
// excludeID.
func (r *Room) BroadcastMessage(excludeID string, msg any) {
	for _, p := range r.GetAllPeers() {
		if p.ID == excludeID {
			continue
		}
		_ = p.Send(msg)
	}
}

// BroadcastMessageToAll sends msg to every peer currently in the
// room.
func (r *Room) BroadcastMessageToAll(msg any) {
	r.BroadcastMessage("", msg)
}

// HandleIncomingTrack registers a new publication from fromPeerID and
// starts its relay loop. It is called from the peer's OnTrack
// callback.
func (r *Room) HandleIncomingTrack(fromPeerID string, remote *webrtc.TrackRemote) {
	trackType := types.DeriveTrackType(remote.ID(), remote.StreamID())

	local, err := webrtc.NewTrackLocalStaticRTP(remote.Codec().RTPCodecCapability, remote.ID(), fromPeerID)
	if err != nil {
		if r.logger != nil {
			r.logger.Errorf("room %s: create local track for %s's %s: %v", r.ID, fromPeerID, trackType, err)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.publications[pubKey(fromPeerID, trackType)] = &publication{
		originID: fromPeerID, trackType: trackType, local: local, cancel: cancel,
	}
	recipients := make([]*peer.Peer, 0, len(r.peers))
	for id, p := range r.peers {
		if id != fromPeerID {
			recipients = append(recipients, p)
		}
	}
	r.mu.Unlock()

	publisher, ok := r.GetPeer(fromPeerID)
	if !ok {
		cancel()
		return
	}

	for _, p := range recipients {
		added, err := p.AddLocalTrack(fromPeerID, trackType, local)
		if err != nil {
			if r.logger != nil {
				r.logger.Warnf("room %s: add track from %s to %s: %v", r.ID, fromPeerID, p.ID, err)
			}
			continue
		}
		if added {
			metrics.RecordTrackAdded()
			r.renegotiate(p)
		}
	}

	r.relayWG.Add(1)
	go func() {
		defer r.relayWG.Done()
		recipient := relay.NewRecipient(publisher.ID, publisher.GetState, publisher.GetLocalTrack)
		relay.Loop(ctx, r.logger, r, recipient, remote)
	}()
}

// Recipients implements relay.RoomView: the current room membership,
// excluding excludePeerID, adapted to relay.Recipient.
func (r *Room) Recipients(excludePeerID string) []relay.Recipient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]relay.Recipient, 0, len(r.peers))
	for id, p := range r.peers {
		if id == excludePeerID {
			continue
		}
		out = append(out, relay.NewRecipient(p.ID, p.GetState, p.GetLocalTrack))
	}
	return out
}

// TrackEnded implements relay.RoomView: removes the publication
// record and every recipient's corresponding local track once a
// publisher's relay loop exits.
func (r *Room) TrackEnded(originID string, trackType types.TrackType) {
	r.mu.Lock()
	delete(r.publications, pubKey(originID, trackType))
	peers := make([]*peer.Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.Unlock()

	for _, p := range peers {
		if p.ID == originID {
			continue
		}
		if needed, err := p.RemoveLocalTrack(originID, trackType); err == nil && needed {
			metrics.RecordTrackRemoved()
			r.renegotiate(p)
		}
	}
}

func (r *Room) renegotiate(p *peer.Peer) {
	sdp, err := p.Renegotiate()
	if err != nil {
		if r.logger != nil {
			r.logger.Warnf("room %s: renegotiate with %s: %v", r.ID, p.ID, err)
		}
		return
	}
	_ = p.Send(signaling.NewOffer(sdp))
}
