package room

import (
	"encoding/json"
	"testing"
	"time"

	"sfu-server/internal/signaling"
	"sfu-server/internal/types"
)

func drainOne(t *testing.T, p interface{ Outbound() <-chan []byte }) map[string]any {
	t.Helper()
	select {
	case raw := <-p.Outbound():
		var decoded map[string]any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("unmarshal outbound message: %v", err)
		}
		return decoded
	case <-time.After(time.Second):
		t.Fatal("expected a message on the outbound queue")
		return nil
	}
}

func TestSecondJoinBroadcastsParticipantJoined(t *testing.T) {
	r := NewRoom("room-1", 0, nil)
	p1 := newTestPeer(t, "p1")
	defer p1.Close()
	p2 := newTestPeer(t, "p2")
	defer p2.Close()

	r.AddPeer(p1)
	r.AddPeer(p2)

	msg := drainOne(t, p1)
	if msg["type"] != signaling.TypeParticipantJoined {
		t.Fatalf("expected participant_joined, got %v", msg["type"])
	}
	if msg["id"] != "p2" {
		t.Errorf("expected joined id p2, got %v", msg["id"])
	}
}

func TestNewPeerDoesNotReceiveItsOwnJoinNotice(t *testing.T) {
	r := NewRoom("room-1", 0, nil)
	p1 := newTestPeer(t, "p1")
	defer p1.Close()

	r.AddPeer(p1)

	select {
	case raw := <-p1.Outbound():
		t.Fatalf("expected no message for p1's own join, got %s", raw)
	case <-time.After(100 * time.Millisecond):
		// expected: nothing queued
	}
}

func TestRosterExcludesCaller(t *testing.T) {
	r := NewRoom("room-1", 0, nil)
	p1 := newTestPeer(t, "p1")
	defer p1.Close()
	p2 := newTestPeer(t, "p2")
	defer p2.Close()

	r.AddPeer(p1)
	r.AddPeer(p2)

	roster := r.Roster("p2")
	if len(roster) != 1 || roster[0].ID != "p1" {
		t.Errorf("expected roster [p1], got %+v", roster)
	}
}

func TestStateUpdateFanOut(t *testing.T) {
	r := NewRoom("room-1", 0, nil)
	p1 := newTestPeer(t, "p1")
	defer p1.Close()
	p2 := newTestPeer(t, "p2")
	defer p2.Close()

	r.AddPeer(p1)
	r.AddPeer(p2)
	drainOne(t, p1) // the participant_joined notice for p2

	p2.UpdateState(types.Flags{Muted: true})
	r.BroadcastMessage(p2.ID, signaling.NewStateUpdate(p2.ID, p2.GetState()))

	msg := drainOne(t, p1)
	if msg["type"] != signaling.TypeStateUpdate || msg["participant_id"] != "p2" {
		t.Fatalf("expected state_update for p2, got %+v", msg)
	}
	if muted, _ := msg["muted"].(bool); !muted {
		t.Errorf("expected muted=true in fan-out, got %+v", msg)
	}
}

func TestRemovePeerBroadcastsParticipantLeft(t *testing.T) {
	r := NewRoom("room-1", 0, nil)
	p1 := newTestPeer(t, "p1")
	defer p1.Close()
	p2 := newTestPeer(t, "p2")

	r.AddPeer(p1)
	r.AddPeer(p2)
	drainOne(t, p1) // participant_joined for p2

	r.RemovePeer("p2")

	msg := drainOne(t, p1)
	if msg["type"] != signaling.TypeParticipantLeft || msg["participant_id"] != "p2" {
		t.Fatalf("expected participant_left for p2, got %+v", msg)
	}
}
