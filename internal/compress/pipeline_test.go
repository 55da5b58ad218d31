package compress

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/john-rock/beeroll/internal/capture"
)

// fakeEngine scripts each strategy's outcome.
type fakeEngine struct {
	mu         sync.Mutex
	initErr    error
	remuxErr   error
	transErr   error
	output     []byte
	inits      int
	closes     int
	remuxes    int
	transcodes int
	lastSpec   TranscodeSpec
	block      chan struct{}
}

func (e *fakeEngine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inits++
	return e.initErr
}

func (e *fakeEngine) Remux(ctx context.Context, a capture.Artifact, spec RemuxSpec, progress func(float64)) (capture.Artifact, error) {
	e.mu.Lock()
	e.remuxes++
	err := e.remuxErr
	out := e.output
	e.mu.Unlock()
	if err != nil {
		return capture.Artifact{}, err
	}
	progress(50)
	progress(100)
	return capture.Artifact{ID: a.ID, MimeType: a.MimeType, Data: out, Duration: a.Duration}, nil
}

func (e *fakeEngine) Transcode(ctx context.Context, a capture.Artifact, spec TranscodeSpec, progress func(float64)) (capture.Artifact, error) {
	e.mu.Lock()
	e.transcodes++
	e.lastSpec = spec
	err := e.transErr
	out := e.output
	block := e.block
	e.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return capture.Artifact{}, ctx.Err()
		}
	}
	if err != nil {
		return capture.Artifact{}, err
	}
	progress(100)
	return capture.Artifact{ID: a.ID, MimeType: "video/mp4", Data: out, Duration: a.Duration}, nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes++
	return nil
}

// progressRecorder captures every callback invocation.
type progressRecorder struct {
	mu     sync.Mutex
	pcts   []float64
	stages []string
}

func (r *progressRecorder) fn(pct float64, stage string) {
	r.mu.Lock()
	r.pcts = append(r.pcts, pct)
	r.stages = append(r.stages, stage)
	r.mu.Unlock()
}

func (r *progressRecorder) final() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pcts) == 0 {
		return -1
	}
	return r.pcts[len(r.pcts)-1]
}

func vp9Artifact(size int) capture.Artifact {
	return capture.Artifact{
		ID:       "rec-1",
		MimeType: "video/webm;codecs=vp9,opus",
		Data:     bytes.Repeat([]byte{0xAB}, size),
		Duration: 5 * time.Second,
	}
}

func h264Artifact(size int) capture.Artifact {
	return capture.Artifact{
		ID:       "rec-2",
		MimeType: "video/mp4;codecs=avc1.42E01E,mp4a.40.2",
		Data:     bytes.Repeat([]byte{0xCD}, size),
		Duration: 5 * time.Second,
	}
}

func balanced(t *testing.T) capture.Profile {
	t.Helper()
	p, ok := capture.ProfileByName("balanced")
	if !ok {
		t.Fatal("balanced profile missing")
	}
	return p
}

func TestCompressRemuxesPreCompressedInput(t *testing.T) {
	eng := &fakeEngine{output: bytes.Repeat([]byte{1}, 100)}
	p := NewPipeline(eng)
	rec := &progressRecorder{}

	res, err := p.Compress(context.Background(), vp9Artifact(400), balanced(t), rec.fn)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if res.Strategy != StrategyRemux {
		t.Fatalf("strategy = %q, want remux", res.Strategy)
	}
	if eng.remuxes != 1 || eng.transcodes != 0 {
		t.Fatalf("remuxes=%d transcodes=%d, want 1/0", eng.remuxes, eng.transcodes)
	}
	if res.OriginalSize != 400 || res.CompressedSize != 100 {
		t.Fatalf("sizes = %d/%d, want 400/100", res.OriginalSize, res.CompressedSize)
	}
	if res.Reduction != 75.0 {
		t.Fatalf("reduction = %v, want 75.0", res.Reduction)
	}
	if rec.final() != 100 {
		t.Fatalf("final progress = %v, want 100", rec.final())
	}
}

func TestCompressTranscodesUncompressedInput(t *testing.T) {
	eng := &fakeEngine{output: []byte("small")}
	p := NewPipeline(eng)

	res, err := p.Compress(context.Background(), h264Artifact(1000), balanced(t), nil)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if res.Strategy != StrategyTranscode {
		t.Fatalf("strategy = %q, want transcode", res.Strategy)
	}
	if eng.remuxes != 0 {
		t.Fatal("remux attempted for h264 input")
	}
	if got := eng.lastSpec.VideoBitrate; got != 4_000_000 {
		t.Fatalf("video bitrate = %d, want 4000000", got)
	}
}

func TestCompressFallsBackAfterPrimaryFailure(t *testing.T) {
	eng := &fakeEngine{remuxErr: errors.New("remux failed"), output: []byte("out")}
	p := NewPipeline(eng)

	res, err := p.Compress(context.Background(), vp9Artifact(400), balanced(t), nil)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if res.Strategy != StrategyFallback {
		t.Fatalf("strategy = %q, want fallbackTranscode", res.Strategy)
	}
	if eng.remuxes != 1 || eng.transcodes != 1 {
		t.Fatalf("remuxes=%d transcodes=%d, want 1/1", eng.remuxes, eng.transcodes)
	}
	spec := eng.lastSpec
	if spec.Preset != "ultrafast" || spec.Width != 640 || spec.Height != 360 || spec.VideoBitrate != 2_000_000 {
		t.Fatalf("fallback spec = %+v", spec)
	}
}

func TestCompressNeverFails(t *testing.T) {
	eng := &fakeEngine{
		remuxErr: errors.New("remux failed"),
		transErr: errors.New("transcode failed"),
	}
	p := NewPipeline(eng)
	rec := &progressRecorder{}

	res, err := p.Compress(context.Background(), vp9Artifact(500000), balanced(t), rec.fn)
	if err != nil {
		t.Fatalf("Compress with total engine failure: %v", err)
	}
	if res.Strategy != StrategyPassthrough {
		t.Fatalf("strategy = %q, want passthrough", res.Strategy)
	}
	if res.CompressedSize != 500000 || res.Reduction != 0 {
		t.Fatalf("passthrough sizes = %d reduction = %v", res.CompressedSize, res.Reduction)
	}
	if len(res.Artifact.Data) != 500000 {
		t.Fatal("passthrough lost the original data")
	}
	if rec.final() != 100 {
		t.Fatalf("final progress = %v, want 100", rec.final())
	}
	rec.mu.Lock()
	lastStage := rec.stages[len(rec.stages)-1]
	rec.mu.Unlock()
	if lastStage != stagePassthrough {
		t.Fatalf("final stage = %q, want %q", lastStage, stagePassthrough)
	}
}

func TestCompressInitFailureDegradesToPassthrough(t *testing.T) {
	eng := &fakeEngine{initErr: errors.New("ffmpeg missing")}
	p := NewPipeline(eng)

	res, err := p.Compress(context.Background(), vp9Artifact(100), balanced(t), nil)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if res.Strategy != StrategyPassthrough {
		t.Fatalf("strategy = %q, want passthrough", res.Strategy)
	}
	if eng.remuxes != 0 || eng.transcodes != 0 {
		t.Fatal("strategies attempted without an engine")
	}

	// Initialization is retried on the next call.
	eng.mu.Lock()
	eng.initErr = nil
	eng.output = []byte("ok")
	eng.mu.Unlock()
	res, err = p.Compress(context.Background(), vp9Artifact(100), balanced(t), nil)
	if err != nil {
		t.Fatalf("second Compress: %v", err)
	}
	if res.Strategy != StrategyRemux {
		t.Fatalf("strategy after recovery = %q, want remux", res.Strategy)
	}
	if eng.inits != 2 {
		t.Fatalf("inits = %d, want 2", eng.inits)
	}
}

func TestCompressRejectsConcurrentJob(t *testing.T) {
	eng := &fakeEngine{block: make(chan struct{}), transErr: nil, output: []byte("x")}
	p := NewPipeline(eng)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		close(started)
		_, _ = p.Compress(context.Background(), h264Artifact(100), balanced(t), nil)
	}()
	<-started

	deadline := time.After(2 * time.Second)
	for !p.Busy() {
		select {
		case <-deadline:
			t.Fatal("pipeline never became busy")
		case <-time.After(5 * time.Millisecond):
		}
	}

	_, err := p.Compress(context.Background(), h264Artifact(100), balanced(t), nil)
	if !errors.Is(err, ErrJobInFlight) {
		t.Fatalf("concurrent Compress error = %v, want ErrJobInFlight", err)
	}

	close(eng.block)
	<-done
	if p.Busy() {
		t.Fatal("pipeline still busy after job finished")
	}
}

func TestCancelAbortsJobAndClosesEngine(t *testing.T) {
	eng := &fakeEngine{block: make(chan struct{}), output: []byte("x")}
	p := NewPipeline(eng)

	done := make(chan error, 1)
	go func() {
		_, err := p.Compress(context.Background(), h264Artifact(100), balanced(t), nil)
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for !p.Busy() {
		select {
		case <-deadline:
			t.Fatal("pipeline never became busy")
		case <-time.After(5 * time.Millisecond):
		}
	}

	p.Cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("cancelled Compress error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Compress did not return after Cancel")
	}
	if eng.closes != 1 {
		t.Fatalf("engine closes = %d, want 1", eng.closes)
	}

	// The engine is re-initialized on the next job.
	eng.mu.Lock()
	eng.block = nil
	eng.mu.Unlock()
	if _, err := p.Compress(context.Background(), h264Artifact(100), balanced(t), nil); err != nil {
		t.Fatalf("Compress after cancel: %v", err)
	}
	if eng.inits != 2 {
		t.Fatalf("inits = %d, want 2", eng.inits)
	}
}

func TestProgressNeverDecreases(t *testing.T) {
	rec := &progressRecorder{}
	guard := newProgressGuard(rec.fn)

	guard(0, "a")
	guard(50, "a")
	guard(30, "a")
	guard(75.55, "a")
	guard(100, "a")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	prev := -1.0
	for i, pct := range rec.pcts {
		if pct < prev {
			t.Fatalf("progress decreased at %d: %v after %v", i, pct, prev)
		}
		prev = pct
	}
	if rec.pcts[2] != 50 {
		t.Fatalf("regressed report = %v, want clamped to 50", rec.pcts[2])
	}
	if rec.pcts[3] != 75.6 {
		t.Fatalf("rounded report = %v, want 75.6", rec.pcts[3])
	}
}

func TestReductionPct(t *testing.T) {
	cases := []struct {
		original, compressed int
		want                 float64
	}{
		{1000, 250, 75},
		{1000, 1000, 0},
		{0, 100, 0},
		{3, 1, 66.7},
	}
	for _, tc := range cases {
		if got := reductionPct(tc.original, tc.compressed); got != tc.want {
			t.Fatalf("reductionPct(%d, %d) = %v, want %v", tc.original, tc.compressed, got, tc.want)
		}
	}
}

func TestFallbackSpecCapsFrameRate(t *testing.T) {
	high, _ := capture.ProfileByName("high")
	spec := fallbackSpec(high)
	if spec.FrameRate != 24 {
		t.Fatalf("fallback frame rate = %d, want 24", spec.FrameRate)
	}
	if spec.Width != 960 || spec.Height != 540 {
		t.Fatalf("fallback resolution = %dx%d, want 960x540", spec.Width, spec.Height)
	}

	compressed, _ := capture.ProfileByName("compressed")
	spec = fallbackSpec(compressed)
	if spec.FrameRate != 24 {
		t.Fatalf("fallback frame rate = %d, want 24", spec.FrameRate)
	}
}
