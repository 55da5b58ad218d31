package compress

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/john-rock/beeroll/internal/capture"
	"github.com/john-rock/beeroll/internal/logging"
)

// RemuxSpec configures container-level repackaging without re-encoding.
type RemuxSpec struct {
	Container string // "webm" or "mp4"
}

// TranscodeSpec configures a full re-encode.
type TranscodeSpec struct {
	VideoBitrate int
	AudioBitrate int
	FrameRate    int
	Width        int
	Height       int
	Preset       string
}

// Engine executes transcoding work in an isolated background process. One
// engine handle is injected into a pipeline at construction; the pipeline
// enforces the one-job-at-a-time discipline.
type Engine interface {
	// Init prepares the engine. Called lazily, once per pipeline instance;
	// called again after Close.
	Init(ctx context.Context) error

	// Remux repackages the artifact into the target container, copying the
	// encoded streams. progress receives 0-100.
	Remux(ctx context.Context, a capture.Artifact, spec RemuxSpec, progress func(float64)) (capture.Artifact, error)

	// Transcode re-encodes the artifact with the given parameters.
	Transcode(ctx context.Context, a capture.Artifact, spec TranscodeSpec, progress func(float64)) (capture.Artifact, error)

	// Close terminates the engine and any in-flight work. Idempotent.
	Close() error
}

// FFmpegEngine runs strategies as ffmpeg child processes, reporting
// progress parsed from ffmpeg's machine-readable progress stream.
type FFmpegEngine struct {
	path string
	log  *slog.Logger

	mu       sync.Mutex
	resolved string
	workDir  string
}

// NewFFmpegEngine creates an engine for the given ffmpeg binary ("" = $PATH).
func NewFFmpegEngine(path string) *FFmpegEngine {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegEngine{path: path, log: logging.L("engine")}
}

// Init locates the ffmpeg binary and creates a scratch directory.
func (e *FFmpegEngine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resolved != "" {
		return nil
	}
	resolved, err := exec.LookPath(e.path)
	if err != nil {
		return fmt.Errorf("locating ffmpeg: %w", err)
	}
	workDir, err := os.MkdirTemp("", "beeroll-engine-")
	if err != nil {
		return err
	}
	e.resolved = resolved
	e.workDir = workDir
	e.log.Info("engine initialized", "ffmpeg", resolved)
	return nil
}

// Close removes engine state. In-flight work is aborted through its
// context by the pipeline before Close is called.
func (e *FFmpegEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resolved == "" {
		return nil
	}
	if e.workDir != "" {
		_ = os.RemoveAll(e.workDir)
	}
	e.resolved = ""
	e.workDir = ""
	return nil
}

func (e *FFmpegEngine) Remux(ctx context.Context, a capture.Artifact, spec RemuxSpec, progress func(float64)) (capture.Artifact, error) {
	container := spec.Container
	if container == "" {
		container = "mp4"
	}
	args := []string{"-c", "copy"}
	if container == "mp4" {
		args = append(args, "-movflags", "+faststart")
	}
	return e.run(ctx, a, args, container, progress)
}

func (e *FFmpegEngine) Transcode(ctx context.Context, a capture.Artifact, spec TranscodeSpec, progress func(float64)) (capture.Artifact, error) {
	preset := spec.Preset
	if preset == "" {
		preset = "veryfast"
	}
	args := []string{
		"-c:v", "libx264",
		"-preset", preset,
		"-b:v", strconv.Itoa(spec.VideoBitrate),
		"-maxrate", strconv.Itoa(spec.VideoBitrate),
		"-bufsize", strconv.Itoa(2 * spec.VideoBitrate),
		"-r", strconv.Itoa(spec.FrameRate),
		"-vf", fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease:force_divisible_by=2", spec.Width, spec.Height),
		"-c:a", "aac",
		"-b:a", strconv.Itoa(spec.AudioBitrate),
		"-movflags", "+faststart",
	}
	return e.run(ctx, a, args, "mp4", progress)
}

// run materializes the artifact to the scratch dir, executes ffmpeg with
// -progress on stdout, and reads the output file back.
func (e *FFmpegEngine) run(ctx context.Context, a capture.Artifact, codecArgs []string, container string, progress func(float64)) (capture.Artifact, error) {
	e.mu.Lock()
	resolved, workDir := e.resolved, e.workDir
	e.mu.Unlock()
	if resolved == "" {
		return capture.Artifact{}, fmt.Errorf("engine not initialized")
	}

	id := uuid.NewString()
	inPath := filepath.Join(workDir, id+".in")
	outPath := filepath.Join(workDir, id+"."+container)
	if err := os.WriteFile(inPath, a.Data, 0o600); err != nil {
		return capture.Artifact{}, err
	}
	defer os.Remove(inPath)
	defer os.Remove(outPath)

	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", inPath}
	args = append(args, codecArgs...)
	args = append(args, "-progress", "pipe:1", outPath)

	cmd := exec.CommandContext(ctx, resolved, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return capture.Artifact{}, err
	}
	if err := cmd.Start(); err != nil {
		return capture.Artifact{}, err
	}

	total := a.Duration
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok || progress == nil || total <= 0 {
			continue
		}
		var outUs int64 = -1
		switch key {
		case "out_time_us":
			outUs, _ = strconv.ParseInt(value, 10, 64)
		case "out_time_ms":
			// Despite the name this field is in microseconds in every
			// ffmpeg release to date.
			outUs, _ = strconv.ParseInt(value, 10, 64)
		}
		if outUs >= 0 {
			pct := float64(outUs) / float64(total.Microseconds()) * 100
			if pct > 100 {
				pct = 100
			}
			progress(pct)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return capture.Artifact{}, ctx.Err()
		}
		return capture.Artifact{}, fmt.Errorf("ffmpeg: %w", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return capture.Artifact{}, err
	}
	if len(data) == 0 {
		return capture.Artifact{}, fmt.Errorf("ffmpeg produced empty output")
	}

	return capture.Artifact{
		ID:        uuid.NewString(),
		MimeType:  containerMime(container),
		Data:      data,
		Duration:  a.Duration,
		CreatedAt: time.Now(),
	}, nil
}

func containerMime(container string) string {
	if container == "webm" {
		return "video/webm"
	}
	return "video/mp4"
}
