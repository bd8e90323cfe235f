package peer

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"sfu-server/internal/types"
)

func newTestPeer(t *testing.T) *Peer {
	t.Helper()
	api := webrtc.NewAPI()
	p, err := New(Params{
		ID:             "peer-1",
		DisplayName:    "tester",
		API:            api,
		WebRTCConfig:   webrtc.Configuration{},
		SendBufferSize: 4,
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNewPeerStartsConnecting(t *testing.T) {
	p := newTestPeer(t)
	if p.State() != StateConnecting {
		t.Errorf("expected StateConnecting, got %v", p.State())
	}
}

func TestUpdateStateAndGetState(t *testing.T) {
	p := newTestPeer(t)
	p.UpdateState(types.Flags{Muted: true, VideoOn: false, ScreenSharing: true})
	got := p.GetState()
	if !got.Muted || got.VideoOn || !got.ScreenSharing {
		t.Errorf("unexpected flags after UpdateState: %+v", got)
	}
}

func TestSendEnqueuesOnOutbound(t *testing.T) {
	p := newTestPeer(t)
	if err := p.Send(map[string]string{"type": "pong"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	select {
	case raw := <-p.Outbound():
		if len(raw) == 0 {
			t.Error("expected non-empty payload")
		}
	default:
		t.Fatal("expected a message on the outbound channel")
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	api := webrtc.NewAPI()
	p, err := New(Params{ID: "peer-2", API: api, WebRTCConfig: webrtc.Configuration{}})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := p.Send(map[string]string{"type": "pong"}); err == nil {
		t.Error("expected Send to fail after Close")
	}
}

func TestSendDoesNotBlockWhenQueueFull(t *testing.T) {
	p := newTestPeer(t)
	for i := 0; i < 4; i++ {
		if err := p.Send(map[string]int{"n": i}); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}
	done := make(chan struct{})
	go func() {
		_ = p.Send(map[string]string{"overflow": "true"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a full queue")
	}
}

func TestInfoReflectsFlags(t *testing.T) {
	p := newTestPeer(t)
	p.UpdateState(types.Flags{Muted: true})
	info := p.Info()
	if info.ID != "peer-1" || info.Name != "tester" {
		t.Errorf("unexpected info: %+v", info)
	}
	if !info.Muted {
		t.Error("expected Info() to reflect current flags")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	p := newTestPeer(t)
	if err := p.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
	if p.State() != StateClosed {
		t.Errorf("expected StateClosed, got %v", p.State())
	}
}
