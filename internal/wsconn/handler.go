// Package wsconn is the SFU's connection handler: it owns the
// WebSocket lifecycle for one client, from the upgrade through the
// join handshake to final teardown, and dispatches every subsequent
// signaling message to the peer/room layer underneath it.
package wsconn

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"sfu-server/internal/keepalive"
	"sfu-server/internal/metrics"
	"sfu-server/internal/peer"
	"sfu-server/internal/room"
	"sfu-server/internal/signaling"
	"sfu-server/internal/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler wires a room Manager and a pion webrtc.API into an
// http.HandlerFunc for the signaling WebSocket endpoint.
type Handler struct {
	Manager         *room.Manager
	API             *webrtc.API
	WebRTCConfig    webrtc.Configuration
	Logger          logging.LeveledLogger
	KeepaliveConfig keepalive.Config
	SendBufferSize  int
	JoinTimeout     time.Duration
}

// ServeHTTP upgrades the request to a WebSocket, performs the join
// handshake, and then runs the connection's egress and ingress loops
// until either side disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Errorf("wsconn: upgrade failed: %v", err)
		}
		return
	}
	defer conn.Close()

	joinTimeout := h.JoinTimeout
	if joinTimeout <= 0 {
		joinTimeout = 10 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(joinTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warnf("wsconn: read join message: %v", err)
		}
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	msg, err := signaling.Decode(raw)
	if err != nil {
		h.writeError(conn, 400, err.Error())
		return
	}
	join, ok := msg.(signaling.JoinMessage)
	if !ok {
		h.writeError(conn, 400, "first message must be of type \"join\"")
		return
	}
	if join.Room == "" {
		h.writeError(conn, 400, "join message missing \"room\"")
		return
	}

	targetRoom := h.Manager.GetOrCreateRoom(join.Room)
	if targetRoom.IsFull() {
		h.writeError(conn, 403, "room is full")
		return
	}

	peerID := uuid.NewString()
	displayName := join.Name
	if displayName == "" {
		displayName = peerID
	}

	var p *peer.Peer
	p, err = peer.New(peer.Params{
		ID:             peerID,
		DisplayName:    displayName,
		API:            h.API,
		WebRTCConfig:   h.WebRTCConfig,
		Logger:         h.Logger,
		SendBufferSize: h.sendBufferSize(),
		OnTrack: func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			targetRoom.HandleIncomingTrack(peerID, remote)
		},
		OnICECandidate: func(c *webrtc.ICECandidate) {
			init := c.ToJSON()
			_ = p.Send(signaling.NewCandidate(init.Candidate, init.SDPMid, init.SDPMLineIndex))
		},
		OnICEGatheringDone: func() {
			_ = p.Send(signaling.NewICEGatheringComplete())
		},
		OnTerminal: func() {
			// Nudge the ingress loop's blocking read to return so
			// teardown runs promptly even if the client never sends
			// a close frame after ICE/DTLS fails.
			_ = conn.Close()
		},
	})
	if err != nil {
		h.writeError(conn, 500, "failed to create peer connection")
		return
	}

	metrics.RecordConnectionCreated()
	defer func() {
		targetRoom.RemovePeer(peerID)
		h.Manager.CleanupEmptyRoom(targetRoom.ID)
		metrics.RecordConnectionClosed()
	}()

	if err := p.Send(signaling.NewJoined(peerID, targetRoom.Roster(peerID))); err != nil && h.Logger != nil {
		h.Logger.Warnf("wsconn: send joined to %s: %v", peerID, err)
	}
	targetRoom.AddPeer(p)

	monitor := keepalive.NewMonitor(conn, h.Logger, h.keepaliveConfig())
	monitor.Start()
	defer monitor.Stop()

	done := make(chan struct{})
	go h.egressLoop(conn, p, done)

	h.ingressLoop(conn, p, targetRoom)
	close(done)
}

func (h *Handler) sendBufferSize() int {
	if h.SendBufferSize <= 0 {
		return 64
	}
	return h.SendBufferSize
}

func (h *Handler) keepaliveConfig() keepalive.Config {
	if (h.KeepaliveConfig == keepalive.Config{}) {
		return keepalive.DefaultConfig()
	}
	return h.KeepaliveConfig
}

// egressLoop is the single writer for this connection's WebSocket: it
// drains the peer's outbound queue and writes each message, so no two
// goroutines ever call conn.WriteMessage concurrently.
func (h *Handler) egressLoop(conn *websocket.Conn, p *peer.Peer, done <-chan struct{}) {
	for {
		select {
		case data, ok := <-p.Outbound():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if h.Logger != nil {
					h.Logger.Warnf("wsconn: write to %s: %v", p.ID, err)
				}
				return
			}
		case <-done:
			return
		}
	}
}

// ingressLoop reads and dispatches every signaling message from the
// client until the connection closes or a protocol violation occurs.
func (h *Handler) ingressLoop(conn *websocket.Conn, p *peer.Peer, r *room.Room) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if h.Logger != nil && !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.Logger.Debugf("wsconn: read from %s: %v", p.ID, err)
			}
			return
		}

		msg, err := signaling.Decode(raw)
		if err != nil {
			if h.Logger != nil {
				h.Logger.Warnf("wsconn: protocol error from %s: %v", p.ID, err)
			}
			_ = p.Send(signaling.NewError(400, err.Error()))
			continue
		}

		metrics.RecordMessageProcessed()
		h.dispatch(p, r, msg)
	}
}

func (h *Handler) dispatch(p *peer.Peer, r *room.Room, msg any) {
	switch m := msg.(type) {
	case signaling.SDPMessage:
		h.handleSDP(p, m)
	case signaling.CandidateMessage:
		if err := p.AddICECandidate(m.Candidate, m.SDPMid, m.SDPMLineIndex); err != nil && h.Logger != nil {
			h.Logger.Debugf("wsconn: add ice candidate from %s: %v", p.ID, err)
		}
	case signaling.StateUpdateMessage:
		p.UpdateState(types.Flags{Muted: m.Muted, VideoOn: m.VideoOn, ScreenSharing: m.ScreenSharing})
		r.BroadcastMessage(p.ID, signaling.NewStateUpdate(p.ID, p.GetState()))
	case signaling.SimpleMessage:
		h.handleSimple(p, r, m)
	case signaling.JoinMessage:
		_ = p.Send(signaling.NewError(400, "already joined"))
	default:
		_ = p.Send(signaling.NewError(400, "unsupported message"))
	}
}

func (h *Handler) handleSDP(p *peer.Peer, m signaling.SDPMessage) {
	switch m.Type {
	case signaling.TypeOffer:
		answer, err := p.HandleOffer(m.SDP)
		if err != nil {
			if h.Logger != nil {
				h.Logger.Warnf("wsconn: handle offer from %s: %v", p.ID, err)
			}
			_ = p.Send(signaling.NewError(500, "failed to process offer"))
			return
		}
		_ = p.Send(signaling.NewAnswer(answer))
	case signaling.TypeAnswer:
		if err := p.SetRemoteAnswer(m.SDP); err != nil && h.Logger != nil {
			h.Logger.Warnf("wsconn: set remote answer from %s: %v", p.ID, err)
		}
	}
}

func (h *Handler) handleSimple(p *peer.Peer, r *room.Room, m signaling.SimpleMessage) {
	switch m.Type {
	case signaling.TypePing:
		_ = p.Send(signaling.NewPong())
	case signaling.TypeGetParticipants:
		_ = p.Send(signaling.NewParticipants(r.Roster("")))
	case signaling.TypeStartScreenShare:
		flags := p.GetState()
		flags.ScreenSharing = true
		p.UpdateState(flags)
		r.BroadcastMessage(p.ID, signaling.NewScreenShareStarted(p.ID))
	case signaling.TypeStopScreenShare:
		flags := p.GetState()
		flags.ScreenSharing = false
		p.UpdateState(flags)
		r.BroadcastMessage(p.ID, signaling.NewScreenShareStopped(p.ID))
	}
}

func (h *Handler) writeError(conn *websocket.Conn, code int, message string) {
	data, err := json.Marshal(signaling.NewError(code, message))
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteMessage(websocket.TextMessage, data)
}
