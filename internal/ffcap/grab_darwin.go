//go:build darwin

package ffcap

import (
	"fmt"
	"strconv"

	"github.com/john-rock/beeroll/internal/capture"
)

// avfoundation device index "1" is the default screen on macOS; audio
// device ":0" is the default input.

func screenGrabArgs(c capture.ScreenConstraints) ([]string, error) {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "avfoundation",
		"-framerate", strconv.Itoa(c.FrameRate),
		"-video_size", fmt.Sprintf("%dx%d", c.Width, c.Height),
		"-capture_cursor", "1",
		"-i", "1:none",
		"-an",
		"-c:v", "rawvideo",
		"-f", "nut",
		"pipe:1",
	}, nil
}

// systemAudioArgs requires a loopback device (for example BlackHole); macOS
// has no built-in system audio source.
func systemAudioArgs() ([]string, error) {
	return nil, fmt.Errorf("%w: system audio needs a loopback device on macOS", capture.ErrNoDevices)
}

func microphoneArgs(deviceID string) ([]string, error) {
	if deviceID == "" {
		deviceID = "0"
	}
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "avfoundation",
		"-i", "none:" + deviceID,
		"-f", "s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"pipe:1",
	}, nil
}
