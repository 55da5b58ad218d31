package compress

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/john-rock/beeroll/internal/capture"
	"github.com/john-rock/beeroll/internal/logging"
)

// Strategy names the transcoding approach a job settled on.
type Strategy string

const (
	StrategyRemux       Strategy = "remux"
	StrategyTranscode   Strategy = "transcode"
	StrategyFallback    Strategy = "fallbackTranscode"
	StrategyPassthrough Strategy = "passthrough"
)

// Stage labels reported alongside progress.
const (
	stageRemux       = "Repackaging container"
	stageTranscode   = "Transcoding video"
	stageFallback    = "Retrying with reduced settings"
	stageComplete    = "Complete"
	stagePassthrough = "Compression failed, keeping original recording"
)

// ErrJobInFlight is returned when Compress is called while a job is live.
// It is the only error Compress returns for a well-formed artifact.
var ErrJobInFlight = errors.New("a compression job is already running")

// defaultStrategyTimeout bounds each strategy attempt.
const defaultStrategyTimeout = 30 * time.Second

// progressInterval is the cadence for re-emitting progress while a
// strategy runs, so slow encodes still produce a heartbeat.
const progressInterval = 500 * time.Millisecond

// ProgressFunc receives progress percentage (0-100, monotonically
// non-decreasing per job) and a human-readable stage label.
type ProgressFunc func(pct float64, stage string)

// Result reports the outcome of a compression job. A passthrough result
// carries the original artifact with Reduction zero.
type Result struct {
	Artifact       capture.Artifact `json:"-"`
	Strategy       Strategy         `json:"strategy"`
	OriginalSize   int              `json:"originalSize"`
	CompressedSize int              `json:"compressedSize"`
	Reduction      float64          `json:"reduction"`
	Elapsed        time.Duration    `json:"elapsedMs"`
}

// Pipeline degrades a finished recording through an ordered strategy chain
// and never loses it: the worst case outcome is the original artifact
// returned as passthrough. At most one job is live per pipeline.
type Pipeline struct {
	engine  Engine
	timeout time.Duration
	log     *slog.Logger

	mu          sync.Mutex
	busy        bool
	cancel      context.CancelFunc
	initialized bool
}

// NewPipeline creates a pipeline around an injected engine handle.
func NewPipeline(engine Engine) *Pipeline {
	return &Pipeline{
		engine:  engine,
		timeout: defaultStrategyTimeout,
		log:     logging.L("compress"),
	}
}

// Busy reports whether a job is currently live.
func (p *Pipeline) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

// attempt is one step of the degradation chain: try, on failure advance.
type attempt struct {
	strategy Strategy
	stage    string
	run      func(ctx context.Context, progress func(float64)) (capture.Artifact, error)
}

// Compress selects a strategy for the artifact and executes the chain.
// It rejects immediately with ErrJobInFlight when a job is live, and
// returns ctx's error when the job is cancelled; every other outcome is a
// non-nil Result.
func (p *Pipeline) Compress(ctx context.Context, a capture.Artifact, profile capture.Profile, onProgress ProgressFunc) (*Result, error) {
	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		return nil, ErrJobInFlight
	}
	jobCtx, cancel := context.WithCancel(ctx)
	p.busy = true
	p.cancel = cancel
	initialized := p.initialized
	p.mu.Unlock()

	defer func() {
		cancel()
		p.mu.Lock()
		p.busy = false
		p.cancel = nil
		p.mu.Unlock()
	}()

	started := time.Now()
	emit := newProgressGuard(onProgress)

	if !initialized {
		if err := p.engine.Init(jobCtx); err != nil {
			if jobCtx.Err() != nil {
				return nil, jobCtx.Err()
			}
			// No engine, no attempts: degrade straight to passthrough.
			// The next call retries initialization.
			p.log.Error("engine initialization failed", logging.KeyError, err)
			return p.passthrough(a, emit, started), nil
		}
		p.mu.Lock()
		p.initialized = true
		p.mu.Unlock()
	}

	info := ProbeCodecs(a)
	chain := p.buildChain(a, info, profile)

	for _, att := range chain {
		art, err := p.execute(jobCtx, att, emit)
		if err == nil {
			res := &Result{
				Artifact:       art,
				Strategy:       att.strategy,
				OriginalSize:   a.Size(),
				CompressedSize: art.Size(),
				Reduction:      reductionPct(a.Size(), art.Size()),
				Elapsed:        time.Since(started),
			}
			emit(100, stageComplete)
			p.log.Info("compression finished",
				"strategy", string(att.strategy),
				"originalBytes", res.OriginalSize,
				"compressedBytes", res.CompressedSize,
				logging.KeyDurationMs, res.Elapsed.Milliseconds(),
			)
			return res, nil
		}
		if jobCtx.Err() != nil {
			// Cancelled or the caller's deadline hit: discard job state.
			return nil, jobCtx.Err()
		}
		p.log.Warn("strategy failed, advancing",
			"strategy", string(att.strategy), logging.KeyError, err)
	}

	return p.passthrough(a, emit, started), nil
}

// Cancel aborts the in-flight job, terminates the engine instance, and
// discards job state. The next Compress call re-initializes the engine.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	cancel := p.cancel
	p.initialized = false
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := p.engine.Close(); err != nil {
		p.log.Warn("engine close failed", logging.KeyError, err)
	}
	p.log.Info("compression cancelled")
}

// buildChain picks remux for pre-compressed codecs, full transcode
// otherwise, and always ends with the reduced-settings fallback.
func (p *Pipeline) buildChain(a capture.Artifact, info CodecInfo, profile capture.Profile) []attempt {
	var chain []attempt
	if info.PreCompressed {
		container := info.Container
		if container == "" {
			container = "webm"
		}
		chain = append(chain, attempt{
			strategy: StrategyRemux,
			stage:    stageRemux,
			run: func(ctx context.Context, progress func(float64)) (capture.Artifact, error) {
				return p.engine.Remux(ctx, a, RemuxSpec{Container: container}, progress)
			},
		})
	} else {
		chain = append(chain, attempt{
			strategy: StrategyTranscode,
			stage:    stageTranscode,
			run: func(ctx context.Context, progress func(float64)) (capture.Artifact, error) {
				return p.engine.Transcode(ctx, a, TranscodeSpec{
					VideoBitrate: profile.VideoBitrate,
					AudioBitrate: profile.AudioBitrate,
					FrameRate:    profile.FrameRate,
					Width:        profile.Width,
					Height:       profile.Height,
				}, progress)
			},
		})
	}
	chain = append(chain, attempt{
		strategy: StrategyFallback,
		stage:    stageFallback,
		run: func(ctx context.Context, progress func(float64)) (capture.Artifact, error) {
			return p.engine.Transcode(ctx, a, fallbackSpec(profile), progress)
		},
	})
	return chain
}

// execute runs one attempt bounded by the strategy timeout, re-emitting
// progress at a fixed cadence while it runs.
func (p *Pipeline) execute(ctx context.Context, att attempt, emit ProgressFunc) (capture.Artifact, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	emit(0, att.stage)

	var lastMu sync.Mutex
	last := 0.0
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				lastMu.Lock()
				pct := last
				lastMu.Unlock()
				emit(pct, att.stage)
			}
		}
	}()
	defer close(done)

	return att.run(attemptCtx, func(pct float64) {
		lastMu.Lock()
		last = pct
		lastMu.Unlock()
		// Engine progress tops out below 100; completion is reported by
		// the pipeline itself.
		if pct > 99 {
			pct = 99
		}
		emit(pct, att.stage)
	})
}

// passthrough returns the original artifact with progress forced to 100.
func (p *Pipeline) passthrough(a capture.Artifact, emit ProgressFunc, started time.Time) *Result {
	emit(100, stagePassthrough)
	p.log.Warn("all strategies failed, returning original artifact",
		"bytes", a.Size())
	return &Result{
		Artifact:       a,
		Strategy:       StrategyPassthrough,
		OriginalSize:   a.Size(),
		CompressedSize: a.Size(),
		Reduction:      0,
		Elapsed:        time.Since(started),
	}
}

// fallbackSpec is the reduced best-effort configuration tried after the
// primary strategy fails: half the resolution and bitrate, fastest preset.
func fallbackSpec(profile capture.Profile) TranscodeSpec {
	fr := profile.FrameRate
	if fr > 24 {
		fr = 24
	}
	return TranscodeSpec{
		VideoBitrate: profile.VideoBitrate / 2,
		AudioBitrate: 96_000,
		FrameRate:    fr,
		Width:        profile.Width / 2,
		Height:       profile.Height / 2,
		Preset:       "ultrafast",
	}
}

// newProgressGuard wraps the caller's callback so reported progress never
// decreases within a job. A nil callback is valid.
func newProgressGuard(fn ProgressFunc) ProgressFunc {
	var mu sync.Mutex
	high := 0.0
	return func(pct float64, stage string) {
		mu.Lock()
		if pct < high {
			pct = high
		} else {
			high = pct
		}
		mu.Unlock()
		if fn != nil {
			fn(math.Round(pct*10)/10, stage)
		}
	}
}

func reductionPct(original, compressed int) float64 {
	if original <= 0 {
		return 0
	}
	return math.Round((1-float64(compressed)/float64(original))*1000) / 10
}
