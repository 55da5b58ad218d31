package capture

import (
	"context"
	"encoding/binary"
	"testing"
	"time"
)

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestMergeKeepsBaseOnMicFailure(t *testing.T) {
	dev := &fakeDevice{micErr: ErrNoDevices}
	r := NewRouter(dev)

	base, _ := dev.CaptureScreen(context.Background(), ScreenConstraints{SystemAudio: true})
	got := r.Merge(context.Background(), base, "")
	if got != base {
		t.Fatal("Merge did not return the base stream on microphone failure")
	}
}

func TestMergeAdoptsMicWhenBaseHasNoAudio(t *testing.T) {
	dev := &fakeDevice{}
	r := NewRouter(dev)

	base, _ := dev.CaptureScreen(context.Background(), ScreenConstraints{})
	if len(base.AudioTracks()) != 0 {
		t.Fatal("base unexpectedly has audio")
	}

	got := r.Merge(context.Background(), base, "front")
	if len(got.VideoTracks()) != 1 {
		t.Fatalf("video tracks = %d, want 1", len(got.VideoTracks()))
	}
	if len(got.AudioTracks()) != 1 {
		t.Fatalf("audio tracks = %d, want 1", len(got.AudioTracks()))
	}
}

func TestMergeMixesBaseAndMicAudio(t *testing.T) {
	dev := &fakeDevice{}
	r := NewRouter(dev)

	base, _ := dev.CaptureScreen(context.Background(), ScreenConstraints{SystemAudio: true})
	merged := r.Merge(context.Background(), base, "")

	audio := merged.AudioTracks()
	if len(audio) != 1 {
		t.Fatalf("audio tracks = %d, want 1", len(audio))
	}
	mixed := audio[0]

	baseAudio := base.AudioTracks()[0]
	// The router currently owns the only reference to the mic stream, so
	// feed through the device's bookkeeping is not observable; push into
	// both sources directly instead.
	micAudio := findMixSource(t, dev, baseAudio)

	baseAudio.Push(Sample{Data: pcm16(1000, -2000), PTS: 0})
	micAudio.Push(Sample{Data: pcm16(500, 500), PTS: 0})

	select {
	case s := <-mixed.Samples():
		want := pcm16(1500, -1500)
		if string(s.Data) != string(want) {
			t.Fatalf("mixed sample = %v, want %v", s.Data, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no mixed sample produced")
	}
}

// findMixSource digs the microphone track out of the device bookkeeping.
func findMixSource(t *testing.T, dev *fakeDevice, baseAudio *Track) *Track {
	t.Helper()
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.micTrack == nil {
		t.Fatal("device never produced a microphone track")
	}
	if dev.micTrack == baseAudio {
		t.Fatal("microphone track is the base track")
	}
	return dev.micTrack
}

func TestMixClipsAtInt16Range(t *testing.T) {
	got := sumPCM16(pcm16(30000, -30000), pcm16(10000, -10000))
	want := pcm16(32767, -32768)
	if string(got) != string(want) {
		t.Fatalf("sum = %v, want %v", got, want)
	}
}

func TestSumPCM16UnequalLengths(t *testing.T) {
	got := sumPCM16(pcm16(100), pcm16(200, 300))
	want := pcm16(300, 300)
	if string(got) != string(want) {
		t.Fatalf("sum = %v, want %v", got, want)
	}
}

func TestStoppingMixedTrackReleasesSources(t *testing.T) {
	dev := &fakeDevice{}
	r := NewRouter(dev)

	base, _ := dev.CaptureScreen(context.Background(), ScreenConstraints{SystemAudio: true})
	merged := r.Merge(context.Background(), base, "")

	merged.Close()

	select {
	case <-base.AudioTracks()[0].Done():
	default:
		t.Fatal("base audio track still live after mixed track stop")
	}
	dev.mu.Lock()
	mic := dev.micTrack
	dev.mu.Unlock()
	select {
	case <-mic.Done():
	default:
		t.Fatal("microphone track still live after mixed track stop")
	}
}
