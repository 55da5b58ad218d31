package capture

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/john-rock/beeroll/internal/logging"
)

// State is the capture session lifecycle state.
type State string

const (
	StateInactive  State = "inactive"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopped   State = "stopped" // transient while buffers flush
)

// AudioRouting describes which audio sources feed a capture. Both sources
// disabled is valid: the recording simply has no audio track.
type AudioRouting struct {
	System     bool   `json:"system"`
	Microphone bool   `json:"microphone"`
	DeviceID   string `json:"deviceId,omitempty"`
}

// Options configures a new capture session.
type Options struct {
	Video   bool         `json:"video"`
	Audio   AudioRouting `json:"audio"`
	Quality string       `json:"quality"`
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	State     State         `json:"state"`
	Elapsed   time.Duration `json:"-"`
	LastError *DomainError  `json:"lastError,omitempty"`
}

// MarshalJSON reports elapsed time in milliseconds.
func (s Status) MarshalJSON() ([]byte, error) {
	type alias Status
	return json.Marshal(struct {
		alias
		ElapsedMs int64 `json:"elapsedMs"`
	}{alias(s), s.Elapsed.Milliseconds()})
}

// Clock abstracts wall-clock reads so elapsed-time bookkeeping is testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Controller owns the capture session lifecycle: start, pause, resume,
// stop, timer bookkeeping, and stream teardown. All transitions are
// serialized; at most one session is live at a time.
type Controller struct {
	device   Device
	recorder Recorder
	router   *Router
	clock    Clock
	log      *slog.Logger

	// OnArtifact, when set, receives recordings finalized because the
	// capture source terminated externally (for example the user revoked
	// sharing through platform UI). Explicit Stop returns the artifact to
	// its caller instead.
	OnArtifact func(Artifact)

	mu             sync.Mutex
	gen            uint64
	state          State
	sessionID      string
	opts           Options
	profile        Profile
	stream         *MediaStream
	mimeType       string
	startedAt      time.Time
	recStart       time.Time
	accumulated    time.Duration
	sampledElapsed time.Duration
	lastErr        *DomainError
	segments       []Segment
	segDone        chan struct{}
	tickerStop     chan struct{}
}

// NewController creates an inactive controller using the given device and
// recorder collaborators.
func NewController(device Device, recorder Recorder) *Controller {
	return &Controller{
		device:   device,
		recorder: recorder,
		router:   NewRouter(device),
		clock:    systemClock{},
		log:      logging.L("capture"),
		state:    StateInactive,
	}
}

// Start acquires the capture, negotiates an encoding, and transitions to
// Recording. Any failure releases partially acquired resources and leaves
// the controller Inactive with the classified error recorded.
func (c *Controller) Start(ctx context.Context, opts Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateInactive {
		return newValidationError("a capture session is already active")
	}
	if !opts.Video && !opts.Audio.System && !opts.Audio.Microphone {
		de := newValidationError("at least one of video or audio must be requested")
		c.lastErr = de
		return de
	}
	profile, ok := ProfileByName(opts.Quality)
	if !ok {
		de := newValidationError("unknown quality name " + opts.Quality)
		c.lastErr = de
		return de
	}

	var base *MediaStream
	var err error
	if opts.Video || opts.Audio.System {
		base, err = c.device.CaptureScreen(ctx, ScreenConstraints{
			Width:       profile.Width,
			Height:      profile.Height,
			FrameRate:   profile.FrameRate,
			SystemAudio: opts.Audio.System,
		})
	} else {
		base, err = c.device.CaptureMicrophone(ctx, opts.Audio.DeviceID)
	}
	if err != nil {
		de := Classify(err)
		c.lastErr = de
		return de
	}

	stream := base
	if opts.Audio.Microphone && (opts.Video || opts.Audio.System) {
		// Best-effort merge: on failure the router hands back the base
		// stream and the capture proceeds with whatever audio it has.
		stream = c.router.Merge(ctx, base, opts.Audio.DeviceID)
	}
	if !opts.Audio.System && !opts.Audio.Microphone {
		c.log.Warn("capture has no audio source", "quality", opts.Quality)
	}

	mimeType := negotiateMimeType(c.recorder)
	if mimeType == "" {
		stream.Close()
		de := Classify(ErrNotSupported)
		c.lastErr = de
		return de
	}

	segCh, err := c.recorder.Start(stream, mimeType)
	if err != nil {
		stream.Close()
		de := Classify(err)
		c.lastErr = de
		return de
	}

	c.gen++
	gen := c.gen
	c.sessionID = uuid.NewString()
	c.state = StateRecording
	c.opts = opts
	c.profile = profile
	c.stream = stream
	c.mimeType = mimeType
	now := c.clock.Now()
	c.startedAt = now
	c.recStart = now
	c.accumulated = 0
	c.sampledElapsed = 0
	c.lastErr = nil
	c.segments = nil
	c.segDone = make(chan struct{})
	c.tickerStop = make(chan struct{})

	for _, t := range stream.VideoTracks() {
		t.OnEnded(func() { go c.handleExternalEnd(gen) })
	}
	go c.collectSegments(segCh, c.segDone)
	go c.sampleLoop(c.tickerStop)

	c.log.Info("capture started",
		logging.KeySession, c.sessionID,
		"quality", profile.Name,
		"mimeType", mimeType,
		"video", opts.Video,
		"systemAudio", opts.Audio.System,
		"microphone", opts.Audio.Microphone,
	)
	return nil
}

// Stop finalizes the buffered segments into a single artifact and releases
// every stream resource. It fails when no session is active, without
// mutating any state.
func (c *Controller) Stop(ctx context.Context) (*Artifact, error) {
	c.mu.Lock()
	if c.state != StateRecording && c.state != StatePaused {
		c.mu.Unlock()
		return nil, newValidationError("stop called with no active session")
	}
	gen := c.gen
	c.mu.Unlock()

	return c.teardown(ctx, gen, nil)
}

// Pause freezes elapsed-time accumulation. No-op outside Recording.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRecording {
		return
	}
	c.accumulated += c.clock.Now().Sub(c.recStart)
	c.sampledElapsed = c.accumulated
	c.state = StatePaused
	c.log.Info("capture paused", logging.KeySession, c.sessionID, logging.KeyDurationMs, c.accumulated.Milliseconds())
}

// Resume restarts elapsed-time accumulation without resetting it. No-op
// outside Paused.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePaused {
		return
	}
	c.recStart = c.clock.Now()
	c.state = StateRecording
	c.log.Info("capture resumed", logging.KeySession, c.sessionID)
}

// ToggleMute flips the enabled flag on every audio track of the owned
// stream. It does not alter the configured audio routing. No-op without an
// active session.
func (c *Controller) ToggleMute() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return
	}
	for _, t := range c.stream.AudioTracks() {
		t.SetEnabled(!t.Enabled())
	}
}

// Status returns the current state, elapsed recording time, and last error.
// Pure read, no side effects.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := c.accumulated
	if c.state == StateRecording {
		elapsed += c.clock.Now().Sub(c.recStart)
	}
	return Status{State: c.state, Elapsed: elapsed, LastError: c.lastErr}
}

// Close tears down any active session, discarding the artifact. Owners call
// it deterministically on shutdown; it is safe when already inactive.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.state != StateRecording && c.state != StatePaused {
		c.mu.Unlock()
		return
	}
	gen := c.gen
	c.mu.Unlock()
	_, _ = c.teardown(context.Background(), gen, nil)
}

// handleExternalEnd funnels an externally terminated capture source into
// the same teardown path as an explicit Stop. A second trigger after
// teardown is a no-op.
func (c *Controller) handleExternalEnd(gen uint64) {
	art, err := c.teardown(context.Background(), gen, ErrStreamEnded)
	if err != nil {
		return
	}
	if c.OnArtifact != nil {
		c.OnArtifact(*art)
	}
}

// teardown is the single resource-release routine shared by Stop, Close,
// and external stream termination. Per session generation it runs at most
// once; later callers get a validation error and cause no state change.
func (c *Controller) teardown(ctx context.Context, gen uint64, cause error) (*Artifact, error) {
	c.mu.Lock()
	if c.gen != gen || (c.state != StateRecording && c.state != StatePaused) {
		c.mu.Unlock()
		return nil, newValidationError("no active capture session")
	}
	if c.state == StateRecording {
		c.accumulated += c.clock.Now().Sub(c.recStart)
	}
	c.state = StateStopped
	stream := c.stream
	segDone := c.segDone
	tickerStop := c.tickerStop
	mimeType := c.mimeType
	elapsed := c.accumulated
	sessionID := c.sessionID
	c.mu.Unlock()

	close(tickerStop)

	stopErr := c.recorder.Stop(ctx)
	// Wait for every buffered segment produced before the stop signal.
	<-segDone

	c.mu.Lock()
	segments := c.segments
	c.segments = nil
	c.mu.Unlock()

	art, asmErr := assembleArtifact(segments, mimeType, elapsed)

	// Resource release is unconditional, even when assembly failed.
	stream.Close()

	c.mu.Lock()
	c.state = StateInactive
	c.stream = nil
	if cause != nil {
		c.lastErr = Classify(cause)
	}
	var failure *DomainError
	switch {
	case stopErr != nil:
		failure = Classify(stopErr)
	case asmErr != nil:
		failure = Classify(asmErr)
	}
	if failure != nil {
		c.lastErr = failure
	}
	c.mu.Unlock()

	if failure != nil {
		c.log.Error("capture stop failed", logging.KeySession, sessionID, logging.KeyError, failure)
		return nil, failure
	}

	c.log.Info("capture stopped",
		logging.KeySession, sessionID,
		logging.KeyDurationMs, elapsed.Milliseconds(),
		"segments", len(segments),
		"bytes", art.Size(),
	)
	return art, nil
}

func (c *Controller) collectSegments(ch <-chan Segment, done chan struct{}) {
	for seg := range ch {
		c.mu.Lock()
		c.segments = append(c.segments, seg)
		c.mu.Unlock()
	}
	close(done)
}

// sampleLoop updates the sampled elapsed time once per second of wall
// clock while the session records.
func (c *Controller) sampleLoop(stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.state == StateRecording {
				c.sampledElapsed = c.accumulated + c.clock.Now().Sub(c.recStart)
			}
			c.mu.Unlock()
		}
	}
}

// assembleArtifact concatenates the ordered segments into one artifact
// tagged with the negotiated MIME type.
func assembleArtifact(segments []Segment, mimeType string, duration time.Duration) (*Artifact, error) {
	total := 0
	for _, s := range segments {
		total += len(s.Data)
	}
	if total == 0 {
		return nil, &DomainError{
			Kind:        KindRecordingFailed,
			Message:     "recording produced no data",
			Recoverable: true,
			Suggestion:  "Start a new recording and keep it running for at least a moment.",
		}
	}
	data := make([]byte, 0, total)
	for _, s := range segments {
		data = append(data, s.Data...)
	}
	return &Artifact{
		ID:        uuid.NewString(),
		MimeType:  mimeType,
		Data:      data,
		Duration:  duration,
		CreatedAt: time.Now(),
	}, nil
}
