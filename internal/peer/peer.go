// Package peer models one participant's WebRTC session: the
// underlying pion PeerConnection, its SDP/ICE operations, its atomic
// flag triple, its outbound signaling queue, and the local tracks it
// has been given to forward other participants' media.
package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"sfu-server/internal/types"
)

// closeTimeout bounds how long Close() waits for the peer's in-flight
// RTCP-reader goroutines to exit before giving up.
const closeTimeout = 3 * time.Second

// localTrackKey identifies one forwarded publication by its origin
// peer and media kind.
type localTrackKey struct {
	OriginID  string
	TrackType types.TrackType
}

// Params configures a new Peer. OnTrack, OnICECandidate and
// OnTerminal are supplied by the caller (internal/wsconn, by way of
// internal/room) so the peer package does not need to know about
// rooms or WebSocket connections.
type Params struct {
	ID             string
	DisplayName    string
	API            *webrtc.API
	WebRTCConfig   webrtc.Configuration
	Logger         logging.LeveledLogger
	SendBufferSize int

	// OnTrack fires when the remote side publishes a new track.
	OnTrack func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	// OnICECandidate fires once per locally gathered ICE candidate;
	// a nil candidate is not delivered here, see OnICEGatheringDone.
	OnICECandidate func(candidate *webrtc.ICECandidate)
	// OnICEGatheringDone fires once, when ICE gathering completes.
	OnICEGatheringDone func()
	// OnTerminal fires once, the first time the connection reaches
	// Failed or Closed.
	OnTerminal func()
}

// Peer is one participant's signaling and media session.
type Peer struct {
	ID          string
	DisplayName string

	conn   *webrtc.PeerConnection
	logger logging.LeveledLogger

	state      stateBox
	closeOnce  sync.Once
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	flagsMu sync.RWMutex
	flags   types.Flags

	outbound chan []byte

	tracksMu    sync.RWMutex
	localTracks map[localTrackKey]*webrtc.TrackLocalStaticRTP
	senders     map[localTrackKey]*webrtc.RTPSender

	onTrack            func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onICEGatheringDone func()
	onTerminal         func()
	terminalOnce       sync.Once
}

// New creates a Peer and wires its pion event handlers. The returned
// Peer is already in StateConnecting.
func New(p Params) (*Peer, error) {
	if p.SendBufferSize <= 0 {
		p.SendBufferSize = 64
	}
	conn, err := p.API.NewPeerConnection(p.WebRTCConfig)
	if err != nil {
		return nil, SignalingError(p.ID, "new peer connection", err)
	}

	if _, err := conn.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		_ = conn.Close()
		return nil, SignalingError(p.ID, "add audio transceiver", err)
	}
	if _, err := conn.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		_ = conn.Close()
		return nil, SignalingError(p.ID, "add video transceiver", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	pr := &Peer{
		ID:                 p.ID,
		DisplayName:        p.DisplayName,
		conn:               conn,
		logger:             p.Logger,
		ctx:                ctx,
		cancel:             cancel,
		flags:              types.DefaultFlags(),
		outbound:           make(chan []byte, p.SendBufferSize),
		localTracks:        make(map[localTrackKey]*webrtc.TrackLocalStaticRTP),
		senders:            make(map[localTrackKey]*webrtc.RTPSender),
		onTrack:            p.OnTrack,
		onICEGatheringDone: p.OnICEGatheringDone,
		onTerminal:         p.OnTerminal,
	}
	pr.state.transitionTo(StateConnecting)

	conn.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			if pr.onICEGatheringDone != nil {
				pr.onICEGatheringDone()
			}
			return
		}
		if p.OnICECandidate != nil {
			p.OnICECandidate(c)
		}
	})

	conn.OnConnectionStateChange(func(cs webrtc.PeerConnectionState) {
		if pr.logger != nil {
			pr.logger.Debugf("peer %s connection state: %s", pr.ID, cs)
		}
		switch cs {
		case webrtc.PeerConnectionStateConnected:
			pr.state.transitionTo(StateConnected)
		case webrtc.PeerConnectionStateDisconnected:
			pr.state.transitionTo(StateDisconnected)
		case webrtc.PeerConnectionStateFailed:
			pr.state.transitionTo(StateFailed)
			pr.fireTerminal()
		case webrtc.PeerConnectionStateClosed:
			pr.state.transitionTo(StateClosed)
			pr.fireTerminal()
		}
	})

	conn.OnICEConnectionStateChange(func(is webrtc.ICEConnectionState) {
		if pr.logger != nil {
			pr.logger.Debugf("peer %s ice connection state: %s", pr.ID, is)
		}
	})

	conn.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if pr.onTrack != nil {
			pr.onTrack(remote, receiver)
		}
	})

	return pr, nil
}

func (p *Peer) fireTerminal() {
	p.terminalOnce.Do(func() {
		if p.onTerminal != nil {
			p.onTerminal()
		}
	})
}

// State returns the peer's current lifecycle state.
func (p *Peer) State() State { return p.state.load() }

// IsClosed reports whether the peer has reached its terminal state.
func (p *Peer) IsClosed() bool { return p.state.load() == StateClosed }

// Connection exposes the underlying pion connection for callers
// (internal/room, internal/relay) that need to add/remove tracks or
// write RTCP directly.
func (p *Peer) Connection() *webrtc.PeerConnection { return p.conn }

// HandleOffer applies a client SDP offer and returns the SDP answer.
func (p *Peer) HandleOffer(sdp string) (string, error) {
	if p.IsClosed() {
		return "", ErrPeerClosed
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := p.conn.SetRemoteDescription(offer); err != nil {
		return "", SignalingError(p.ID, "set remote offer", err)
	}
	answer, err := p.conn.CreateAnswer(nil)
	if err != nil {
		return "", SignalingError(p.ID, "create answer", err)
	}
	if err := p.conn.SetLocalDescription(answer); err != nil {
		return "", SignalingError(p.ID, "set local answer", err)
	}
	return answer.SDP, nil
}

// SetRemoteAnswer applies a client SDP answer to a server-initiated
// renegotiation offer.
func (p *Peer) SetRemoteAnswer(sdp string) error {
	if p.IsClosed() {
		return ErrPeerClosed
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := p.conn.SetRemoteDescription(answer); err != nil {
		return SignalingError(p.ID, "set remote answer", err)
	}
	return nil
}

// Renegotiate creates a fresh offer for the client, used after tracks
// are added or removed on this peer's connection.
func (p *Peer) Renegotiate() (string, error) {
	if p.IsClosed() {
		return "", ErrPeerClosed
	}
	offer, err := p.conn.CreateOffer(nil)
	if err != nil {
		return "", SignalingError(p.ID, "create renegotiation offer", err)
	}
	if err := p.conn.SetLocalDescription(offer); err != nil {
		return "", SignalingError(p.ID, "set local renegotiation offer", err)
	}
	return offer.SDP, nil
}

// AddICECandidate adds a trickled remote ICE candidate.
func (p *Peer) AddICECandidate(candidate string, mid *string, mLineIndex *uint16) error {
	if p.IsClosed() {
		return ErrPeerClosed
	}
	init := webrtc.ICECandidateInit{Candidate: candidate}
	if mid != nil {
		init.SDPMid = mid
	}
	if mLineIndex != nil {
		init.SDPMLineIndex = mLineIndex
	}
	if err := p.conn.AddICECandidate(init); err != nil {
		return SignalingError(p.ID, "add ice candidate", err)
	}
	return nil
}

// UpdateState replaces the peer's flag triple atomically.
func (p *Peer) UpdateState(flags types.Flags) {
	p.flagsMu.Lock()
	p.flags = flags
	p.flagsMu.Unlock()
}

// GetState returns a copy of the peer's current flag triple.
func (p *Peer) GetState() types.Flags {
	p.flagsMu.RLock()
	defer p.flagsMu.RUnlock()
	return p.flags
}

// Info returns the wire-shape snapshot of this peer for roster
// messages.
func (p *Peer) Info() types.ParticipantInfo {
	return types.ParticipantInfo{ID: p.ID, Name: p.DisplayName, Flags: p.GetState()}
}

// Send marshals msg to JSON and enqueues it on the outbound queue.
// Enqueueing never blocks: if the queue is full the message is
// dropped and logged; it only returns an error if the peer is
// already closed.
func (p *Peer) Send(msg any) error {
	if p.IsClosed() {
		return SendError(p.ID, ErrQueueClosed)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("peer %s: marshal outbound message: %w", p.ID, err)
	}
	select {
	case p.outbound <- data:
		return nil
	default:
		if p.logger != nil {
			p.logger.Warnf("peer %s: outbound queue full, dropping message", p.ID)
		}
		return nil
	}
}

// Outbound returns the channel the connection handler's single
// egress goroutine reads from.
func (p *Peer) Outbound() <-chan []byte { return p.outbound }

// AddLocalTrack adds a forwarded local track for (originID, trackType)
// to this peer's connection, starts an RTCP-reader goroutine to drain
// the sender, and returns whether a renegotiation is needed.
func (p *Peer) AddLocalTrack(originID string, trackType types.TrackType, track *webrtc.TrackLocalStaticRTP) (bool, error) {
	key := localTrackKey{OriginID: originID, TrackType: trackType}

	p.tracksMu.Lock()
	if _, exists := p.localTracks[key]; exists {
		p.tracksMu.Unlock()
		return false, nil
	}
	p.tracksMu.Unlock()

	if p.IsClosed() {
		return false, ErrPeerClosed
	}

	sender, err := p.conn.AddTrack(track)
	if err != nil {
		return false, SignalingError(p.ID, "add local track", err)
	}

	p.tracksMu.Lock()
	p.localTracks[key] = track
	p.senders[key] = sender
	p.tracksMu.Unlock()

	p.wg.Add(1)
	go p.drainRTCP(sender)

	return true, nil
}

// RemoveLocalTrack removes the forwarded track for (originID,
// trackType), if present, and reports whether a renegotiation is
// needed.
func (p *Peer) RemoveLocalTrack(originID string, trackType types.TrackType) (bool, error) {
	key := localTrackKey{OriginID: originID, TrackType: trackType}

	p.tracksMu.Lock()
	sender, exists := p.senders[key]
	if exists {
		delete(p.localTracks, key)
		delete(p.senders, key)
	}
	p.tracksMu.Unlock()

	if !exists {
		return false, nil
	}
	if p.IsClosed() {
		return false, nil
	}
	if err := p.conn.RemoveTrack(sender); err != nil {
		return false, SignalingError(p.ID, "remove local track", err)
	}
	return true, nil
}

// GetLocalTrack returns the forwarded local track for (originID,
// trackType), if this peer has one.
func (p *Peer) GetLocalTrack(originID string, trackType types.TrackType) (*webrtc.TrackLocalStaticRTP, bool) {
	p.tracksMu.RLock()
	defer p.tracksMu.RUnlock()
	t, ok := p.localTracks[localTrackKey{OriginID: originID, TrackType: trackType}]
	return t, ok
}

// RemoveAllTracksFromOrigin removes every local track this peer holds
// that originated from originID, e.g. because that publisher left.
func (p *Peer) RemoveAllTracksFromOrigin(originID string) {
	p.tracksMu.Lock()
	var keys []localTrackKey
	for k := range p.senders {
		if k.OriginID == originID {
			keys = append(keys, k)
		}
	}
	p.tracksMu.Unlock()

	for _, k := range keys {
		_, _ = p.RemoveLocalTrack(k.OriginID, k.TrackType)
	}
}

// SendPLI requests a keyframe from every video track this peer is
// sending to the SFU, used when a new subscriber joins and needs an
// immediately decodable frame.
func (p *Peer) SendPLI() {
	for _, receiver := range p.conn.GetReceivers() {
		track := receiver.Track()
		if track == nil || track.Kind() != webrtc.RTPCodecTypeVideo {
			continue
		}
		pkt := &rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}
		if err := p.conn.WriteRTCP([]rtcp.Packet{pkt}); err != nil && p.logger != nil {
			p.logger.Debugf("peer %s: send PLI: %v", p.ID, err)
		}
	}
}

func (p *Peer) drainRTCP(sender *webrtc.RTPSender) {
	defer p.wg.Done()
	buf := make([]byte, 1500)
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// Close tears the peer down: cancels its context, closes the
// underlying connection, waits (bounded) for background goroutines,
// and closes the outbound queue.
func (p *Peer) Close() error {
	var closeErr error
	p.closeOnce.Do(func() {
		p.state.transitionTo(StateClosed)
		p.cancel()
		closeErr = p.conn.Close()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(closeTimeout):
			if p.logger != nil {
				p.logger.Warnf("peer %s: goroutines did not finish within %s", p.ID, closeTimeout)
			}
		}
		close(p.outbound)
		p.fireTerminal()
	})
	return closeErr
}
