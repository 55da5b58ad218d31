package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TrackKind distinguishes video from audio tracks.
type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// Sample is one chunk of media data produced by a track's source. Video
// tracks carry encoded container chunks; audio tracks carry interleaved
// 16-bit little-endian PCM.
type Sample struct {
	Data []byte
	PTS  time.Duration
}

// Track is a single media track backed by a live source. The source pushes
// samples; consumers read from Samples and watch Done for teardown.
type Track struct {
	id      string
	kind    TrackKind
	enabled atomic.Bool

	samples chan Sample
	done    chan struct{}

	stopOnce  sync.Once
	endedOnce sync.Once

	mu      sync.Mutex
	onEnded []func()
	release func()
}

// NewTrack creates a track with the given sample buffer depth. release, if
// non-nil, is invoked exactly once when the track is stopped.
func NewTrack(kind TrackKind, buffer int, release func()) *Track {
	if buffer < 1 {
		buffer = 1
	}
	t := &Track{
		id:      uuid.NewString(),
		kind:    kind,
		samples: make(chan Sample, buffer),
		done:    make(chan struct{}),
		release: release,
	}
	t.enabled.Store(true)
	return t
}

func (t *Track) ID() string      { return t.id }
func (t *Track) Kind() TrackKind { return t.kind }

// Enabled reports whether the track is live (unmuted).
func (t *Track) Enabled() bool { return t.enabled.Load() }

// SetEnabled flips the live mute state. It does not stop the source.
func (t *Track) SetEnabled(on bool) { t.enabled.Store(on) }

// Samples returns the channel the source pushes media chunks into.
func (t *Track) Samples() <-chan Sample { return t.samples }

// Done is closed when the track has been stopped.
func (t *Track) Done() <-chan struct{} { return t.done }

// Push delivers a sample from the source. It reports false when the track
// is stopped or its buffer is full (the sample is dropped, never blocked on).
func (t *Track) Push(s Sample) bool {
	select {
	case <-t.done:
		return false
	default:
	}
	select {
	case t.samples <- s:
		return true
	default:
		return false
	}
}

// OnEnded registers a handler for external termination of the source, such
// as the user revoking capture through platform UI. Handlers run at most
// once even if the signal fires repeatedly.
func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = append(t.onEnded, fn)
	t.mu.Unlock()
}

// FireEnded is called by the source when it terminates on its own. Stopping
// a track never fires the ended signal.
func (t *Track) FireEnded() {
	t.endedOnce.Do(func() {
		t.mu.Lock()
		handlers := make([]func(), len(t.onEnded))
		copy(handlers, t.onEnded)
		t.mu.Unlock()
		for _, fn := range handlers {
			fn()
		}
	})
}

// Stop releases the track's source. Safe to call more than once and
// concurrently with Push.
func (t *Track) Stop() {
	t.stopOnce.Do(func() {
		// Suppress the ended signal for deliberate stops.
		t.endedOnce.Do(func() {})
		close(t.done)
		if t.release != nil {
			t.release()
		}
	})
}

// MediaStream is an exclusively owned bundle of live tracks.
type MediaStream struct {
	id     string
	tracks []*Track
}

// NewMediaStream creates a stream owning the given tracks.
func NewMediaStream(tracks ...*Track) *MediaStream {
	return &MediaStream{id: uuid.NewString(), tracks: tracks}
}

func (s *MediaStream) ID() string { return s.id }

// Tracks returns all tracks in the stream.
func (s *MediaStream) Tracks() []*Track { return s.tracks }

// VideoTracks returns the video tracks of the stream.
func (s *MediaStream) VideoTracks() []*Track { return s.byKind(TrackVideo) }

// AudioTracks returns the audio tracks of the stream.
func (s *MediaStream) AudioTracks() []*Track { return s.byKind(TrackAudio) }

func (s *MediaStream) byKind(kind TrackKind) []*Track {
	var out []*Track
	for _, t := range s.tracks {
		if t.kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// Close stops every track in the stream.
func (s *MediaStream) Close() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// ScreenConstraints bound the acquired screen capture. Width, Height, and
// FrameRate come from the selected quality profile.
type ScreenConstraints struct {
	Width       int
	Height      int
	FrameRate   int
	SystemAudio bool
}

// Device acquires live capture streams from the platform. Acquisition may
// suspend until the platform grants or denies permission, so both methods
// take a context.
type Device interface {
	// CaptureScreen acquires the screen (and system audio when requested).
	CaptureScreen(ctx context.Context, c ScreenConstraints) (*MediaStream, error)

	// CaptureMicrophone acquires a microphone-only stream. deviceID selects
	// a specific input; empty means the platform default.
	CaptureMicrophone(ctx context.Context, deviceID string) (*MediaStream, error)
}

// Segment is one buffered chunk of the encoded recording, ordered by Index.
type Segment struct {
	Index int
	Data  []byte
}

// Recorder encodes a live stream into an ordered sequence of segments.
// Implementations close the returned channel only after the final segment
// has been delivered, so draining it after Stop observes every chunk.
type Recorder interface {
	// Supports reports whether the recorder can produce the given
	// container/codec MIME type.
	Supports(mimeType string) bool

	// Start begins recording the stream into the negotiated MIME type.
	Start(stream *MediaStream, mimeType string) (<-chan Segment, error)

	// Stop flushes buffered data and closes the segment channel.
	Stop(ctx context.Context) error
}

// mimePreference is the fixed container/codec preference order. The first
// entry the recorder supports wins.
var mimePreference = []string{
	"video/webm;codecs=vp9,opus",
	"video/webm;codecs=vp8,opus",
	"video/mp4;codecs=h264,aac",
	"video/webm",
}

// negotiateMimeType picks the first mutually supported MIME type, or ""
// when the recorder supports none of them.
func negotiateMimeType(rec Recorder) string {
	for _, m := range mimePreference {
		if rec.Supports(m) {
			return m
		}
	}
	return ""
}

// Artifact is a finished recording: the assembled segments tagged with the
// negotiated container/codec.
type Artifact struct {
	ID        string
	MimeType  string
	Data      []byte
	Duration  time.Duration
	CreatedAt time.Time
}

// Size returns the artifact's byte length.
func (a Artifact) Size() int { return len(a.Data) }
