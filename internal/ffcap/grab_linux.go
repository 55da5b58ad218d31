//go:build linux

package ffcap

import (
	"fmt"
	"os"
	"strconv"

	"github.com/john-rock/beeroll/internal/capture"
)

// screenGrabArgs builds x11grab arguments bounded by the profile
// constraints. Raw video in a NUT stream keeps the encode decision with the
// recorder, mirroring how a platform capture hands out unencoded frames.
func screenGrabArgs(c capture.ScreenConstraints) ([]string, error) {
	display := os.Getenv("DISPLAY")
	if display == "" {
		return nil, fmt.Errorf("%w: DISPLAY is not set", capture.ErrNoDevices)
	}
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "x11grab",
		"-framerate", strconv.Itoa(c.FrameRate),
		"-video_size", fmt.Sprintf("%dx%d", c.Width, c.Height),
		"-i", display,
		"-an",
		"-c:v", "rawvideo",
		"-f", "nut",
		"pipe:1",
	}, nil
}

// systemAudioArgs grabs the PulseAudio monitor source as raw PCM.
func systemAudioArgs() ([]string, error) {
	return pcmGrabArgs("pulse", "default"), nil
}

// microphoneArgs grabs a PulseAudio input as raw PCM.
func microphoneArgs(deviceID string) ([]string, error) {
	if deviceID == "" {
		deviceID = "default"
	}
	return pcmGrabArgs("pulse", deviceID), nil
}

func pcmGrabArgs(format, input string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", format,
		"-i", input,
		"-f", "s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"pipe:1",
	}
}
