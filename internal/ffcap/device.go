// Package ffcap implements the capture Device and Recorder collaborators on
// top of the ffmpeg command line tools. The screen grabber emits raw video
// wrapped in a NUT stream; audio grabbers emit interleaved 16-bit PCM, so
// every audio track in the system is mixable with plain sample arithmetic.
package ffcap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/john-rock/beeroll/internal/capture"
	"github.com/john-rock/beeroll/internal/logging"
)

const (
	// PCM format shared by every audio grabber and the recorder mux input.
	SampleRate = 48000
	Channels   = 2

	readChunk = 64 * 1024
)

// Device acquires screen and microphone streams by spawning ffmpeg grab
// processes.
type Device struct {
	ffmpegPath string
	log        *slog.Logger
}

// NewDevice creates a device using the given ffmpeg binary ("" = $PATH).
func NewDevice(ffmpegPath string) *Device {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Device{ffmpegPath: ffmpegPath, log: logging.L("ffcap")}
}

// CaptureScreen spawns a screen grab process producing raw video in a NUT
// stream, plus a system audio grab when requested. The returned stream owns
// both processes; closing it kills them.
func (d *Device) CaptureScreen(ctx context.Context, c capture.ScreenConstraints) (*capture.MediaStream, error) {
	args, err := screenGrabArgs(c)
	if err != nil {
		return nil, err
	}

	video, err := d.spawnTrack(ctx, capture.TrackVideo, args)
	if err != nil {
		return nil, err
	}

	tracks := []*capture.Track{video}
	if c.SystemAudio {
		audioArgs, err := systemAudioArgs()
		if err != nil {
			// System audio is best-effort on platforms without a loopback
			// source; the screen capture itself still succeeds.
			d.log.Warn("system audio unavailable", "error", err)
		} else {
			audio, err := d.spawnTrack(ctx, capture.TrackAudio, audioArgs)
			if err != nil {
				d.log.Warn("system audio grab failed", "error", err)
			} else {
				tracks = append(tracks, audio)
			}
		}
	}

	return capture.NewMediaStream(tracks...), nil
}

// CaptureMicrophone spawns a microphone grab producing raw PCM. The grab
// fails independently of any screen capture.
func (d *Device) CaptureMicrophone(ctx context.Context, deviceID string) (*capture.MediaStream, error) {
	args, err := microphoneArgs(deviceID)
	if err != nil {
		return nil, err
	}
	audio, err := d.spawnTrack(ctx, capture.TrackAudio, args)
	if err != nil {
		return nil, err
	}
	return capture.NewMediaStream(audio), nil
}

// spawnTrack starts an ffmpeg grab process and pumps its stdout into a new
// track. The process dying on its own fires the track's ended signal.
func (d *Device) spawnTrack(ctx context.Context, kind capture.TrackKind, args []string) (*capture.Track, error) {
	cmd := exec.Command(d.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, classifySpawn(err)
	}

	track := capture.NewTrack(kind, 256, func() {
		_ = cmd.Process.Kill()
	})

	go func() {
		start := time.Now()
		buf := make([]byte, readChunk)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				track.Push(capture.Sample{Data: data, PTS: time.Since(start)})
			}
			if err != nil {
				if err != io.EOF {
					d.log.Debug("grab read ended", "kind", string(kind), "error", err)
				}
				break
			}
		}
		_ = cmd.Wait()
		// The source terminated on its own (display gone, device unplugged,
		// process killed externally). Deliberate Stop suppresses this.
		track.FireEnded()
	}()

	// Give ffmpeg a beat to fail fast on bad devices or denied access.
	select {
	case <-ctx.Done():
		track.Stop()
		return nil, ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}
	if cmd.ProcessState != nil && cmd.ProcessState.Exited() {
		track.Stop()
		return nil, fmt.Errorf("%w: ffmpeg grab exited immediately", capture.ErrNoDevices)
	}
	return track, nil
}

func classifySpawn(err error) error {
	return fmt.Errorf("%w: %v", capture.ErrNotSupported, err)
}
