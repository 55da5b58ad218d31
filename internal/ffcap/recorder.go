package ffcap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/john-rock/beeroll/internal/capture"
	"github.com/john-rock/beeroll/internal/logging"
)

// Recorder muxes a live stream into an ordered segment sequence by piping
// the raw grab output through an ffmpeg encode process. One recording is
// active at a time; the segment channel is closed only after the encoder
// has flushed its final chunk.
type Recorder struct {
	ffmpegPath string
	log        *slog.Logger

	probeOnce sync.Once
	encoders  map[string]bool

	mu         sync.Mutex
	active     bool
	cmd        *exec.Cmd
	quit       chan struct{}
	readerDone chan struct{}
	pumps      sync.WaitGroup
}

// NewRecorder creates a recorder using the given ffmpeg binary ("" = $PATH).
func NewRecorder(ffmpegPath string) *Recorder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Recorder{ffmpegPath: ffmpegPath, log: logging.L("recorder")}
}

// codecPlan maps a container/codec MIME type onto concrete encoder flags.
type codecPlan struct {
	videoEncoder string
	audioEncoder string
	formatArgs   []string
}

var codecPlans = map[string]codecPlan{
	"video/webm;codecs=vp9,opus": {
		videoEncoder: "libvpx-vp9",
		audioEncoder: "libopus",
		formatArgs:   []string{"-deadline", "realtime", "-cpu-used", "5", "-f", "webm"},
	},
	"video/webm;codecs=vp8,opus": {
		videoEncoder: "libvpx",
		audioEncoder: "libopus",
		formatArgs:   []string{"-deadline", "realtime", "-cpu-used", "5", "-f", "webm"},
	},
	"video/mp4;codecs=h264,aac": {
		videoEncoder: "libx264",
		audioEncoder: "aac",
		formatArgs:   []string{"-preset", "veryfast", "-tune", "zerolatency", "-movflags", "frag_keyframe+empty_moov", "-f", "mp4"},
	},
	"video/webm": {
		videoEncoder: "libvpx",
		audioEncoder: "libopus",
		formatArgs:   []string{"-deadline", "realtime", "-cpu-used", "5", "-f", "webm"},
	},
}

// Supports reports whether ffmpeg on this system carries the encoders the
// MIME type needs. A missing ffmpeg binary supports nothing.
func (r *Recorder) Supports(mimeType string) bool {
	plan, ok := codecPlans[canonicalMime(mimeType)]
	if !ok {
		return false
	}
	r.probeOnce.Do(r.probeEncoders)
	return r.encoders[plan.videoEncoder] && r.encoders[plan.audioEncoder]
}

func (r *Recorder) probeEncoders() {
	r.encoders = map[string]bool{}
	out, err := exec.Command(r.ffmpegPath, "-hide_banner", "-encoders").Output()
	if err != nil {
		r.log.Warn("encoder probe failed", "error", err)
		return
	}
	for _, name := range []string{"libvpx-vp9", "libvpx", "libopus", "libx264", "aac"} {
		r.encoders[name] = strings.Contains(string(out), " "+name+" ")
	}
}

// canonicalMime normalizes parameter spacing, quoting, and casing so plan
// lookups do not depend on how the caller spelled the codecs parameter.
func canonicalMime(mimeType string) string {
	mt := mimeType
	rest := ""
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mt, rest = mimeType[:i], mimeType[i+1:]
	}
	mt = strings.ToLower(strings.TrimSpace(mt))

	for _, param := range strings.Split(rest, ";") {
		key, value, found := strings.Cut(param, "=")
		if !found || strings.ToLower(strings.TrimSpace(key)) != "codecs" {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		value = strings.ToLower(strings.ReplaceAll(value, " ", ""))
		if value != "" {
			return mt + ";codecs=" + value
		}
	}
	return mt
}

// Start spawns the encode process and begins pumping the stream's tracks
// into it. The first video track feeds stdin; the first audio track, when
// present, feeds an extra pipe. Muted audio tracks contribute silence so
// A/V sync is preserved.
func (r *Recorder) Start(stream *capture.MediaStream, mimeType string) (<-chan capture.Segment, error) {
	plan, ok := codecPlans[canonicalMime(mimeType)]
	if !ok {
		return nil, capture.ErrNotSupported
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return nil, errors.New("recorder already running")
	}

	video := stream.VideoTracks()
	audio := stream.AudioTracks()
	if len(video) == 0 && len(audio) == 0 {
		return nil, capture.ErrNoDevices
	}

	args := []string{"-hide_banner", "-loglevel", "error"}
	var audioTrack *capture.Track
	var videoTrack *capture.Track

	if len(video) > 0 {
		videoTrack = video[0]
		args = append(args, "-f", "nut", "-i", "pipe:0")
	}
	if len(audio) > 0 {
		if runtime.GOOS == "windows" && videoTrack != nil {
			// Extra input pipes are unavailable on Windows.
			r.log.Warn("audio mux unsupported on this platform, recording video only")
		} else {
			audioTrack = audio[0]
			input := "pipe:3"
			if videoTrack == nil {
				input = "pipe:0"
			}
			args = append(args,
				"-f", "s16le",
				"-ar", strconv.Itoa(SampleRate),
				"-ac", strconv.Itoa(Channels),
				"-i", input,
			)
		}
	}
	if videoTrack != nil {
		args = append(args, "-c:v", plan.videoEncoder)
	}
	if audioTrack != nil {
		args = append(args, "-c:a", plan.audioEncoder)
	} else {
		args = append(args, "-an")
	}
	args = append(args, plan.formatArgs...)
	args = append(args, "pipe:1")

	cmd := exec.Command(r.ffmpegPath, args...)

	var audioW *os.File
	if audioTrack != nil && videoTrack != nil {
		pr, pw, err := os.Pipe()
		if err != nil {
			return nil, err
		}
		cmd.ExtraFiles = []*os.File{pr}
		audioW = pw
		defer pr.Close()
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, classifySpawn(err)
	}

	quit := make(chan struct{})
	readerDone := make(chan struct{})
	segCh := make(chan capture.Segment, 64)

	r.active = true
	r.cmd = cmd
	r.quit = quit
	r.readerDone = readerDone

	if videoTrack != nil {
		r.pumps.Add(1)
		go r.pumpVideo(videoTrack, stdin, quit)
	}
	if audioTrack != nil {
		r.pumps.Add(1)
		if audioW != nil {
			go r.pumpAudio(audioTrack, audioW, quit)
		} else {
			// Audio-only recording: PCM feeds stdin directly.
			go r.pumpAudio(audioTrack, stdin, quit)
		}
	}

	go func() {
		defer close(readerDone)
		defer close(segCh)
		idx := 0
		buf := make([]byte, readChunk)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				segCh <- capture.Segment{Index: idx, Data: data}
				idx++
			}
			if err != nil {
				if err != io.EOF {
					r.log.Debug("encode output ended", "error", err)
				}
				return
			}
		}
	}()

	r.log.Info("recording started", "mimeType", mimeType,
		"video", videoTrack != nil, "audio", audioTrack != nil)
	return segCh, nil
}

func (r *Recorder) pumpVideo(t *capture.Track, w io.WriteCloser, quit chan struct{}) {
	defer r.pumps.Done()
	defer w.Close()
	for {
		select {
		case <-quit:
			return
		case <-t.Done():
			return
		case s := <-t.Samples():
			if len(s.Data) == 0 {
				continue
			}
			if _, err := w.Write(s.Data); err != nil {
				return
			}
		}
	}
}

func (r *Recorder) pumpAudio(t *capture.Track, w io.WriteCloser, quit chan struct{}) {
	defer r.pumps.Done()
	defer w.Close()
	for {
		select {
		case <-quit:
			return
		case <-t.Done():
			return
		case s := <-t.Samples():
			data := s.Data
			if len(data) == 0 {
				continue
			}
			if !t.Enabled() {
				// Muted: keep the clock running with silence.
				data = make([]byte, len(data))
			}
			if _, err := w.Write(data); err != nil {
				return
			}
		}
	}
}

// Stop signals the pumps to close the encoder's inputs, waits for the
// encoder to flush, and reaps the process. The segment channel closes once
// the final chunk has been read. Safe to call when idle.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return nil
	}
	r.active = false
	cmd := r.cmd
	quit := r.quit
	readerDone := r.readerDone
	r.cmd = nil
	r.mu.Unlock()

	close(quit)
	r.pumps.Wait()

	select {
	case <-readerDone:
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-readerDone
	}
	err := cmd.Wait()
	if err != nil && ctx.Err() == nil {
		r.log.Warn("encoder exited with error", "error", err)
	}
	return nil
}
