package types

import "testing"

func TestDeriveTrackTypeScreen(t *testing.T) {
	cases := []struct {
		name     string
		id       string
		streamID string
		want     TrackType
	}{
		{"screen in id", "screen-share-1", "stream1", TrackScreen},
		{"screen in stream id", "video0", "screen-stream", TrackScreen},
		{"audio in id", "audio0", "mic-stream", TrackAudio},
		{"camera fallback", "video0", "webcam-stream", TrackCamera},
		{"case insensitive", "SCREEN-1", "s1", TrackScreen},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveTrackType(tc.id, tc.streamID)
			if got != tc.want {
				t.Errorf("DeriveTrackType(%q, %q) = %v, want %v", tc.id, tc.streamID, got, tc.want)
			}
		})
	}
}

func TestTrackTypeString(t *testing.T) {
	if TrackAudio.String() != "audio" {
		t.Errorf("expected audio, got %s", TrackAudio.String())
	}
	if TrackCamera.String() != "camera" {
		t.Errorf("expected camera, got %s", TrackCamera.String())
	}
	if TrackScreen.String() != "screen" {
		t.Errorf("expected screen, got %s", TrackScreen.String())
	}
}

func TestDefaultFlags(t *testing.T) {
	f := DefaultFlags()
	if f.Muted {
		t.Error("expected new peer to start unmuted")
	}
	if !f.VideoOn {
		t.Error("expected new peer to start with video on")
	}
	if f.ScreenSharing {
		t.Error("expected new peer to start without screen share")
	}
}
