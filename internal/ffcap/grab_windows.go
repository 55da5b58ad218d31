//go:build windows

package ffcap

import (
	"fmt"
	"strconv"

	"github.com/john-rock/beeroll/internal/capture"
)

func screenGrabArgs(c capture.ScreenConstraints) ([]string, error) {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "gdigrab",
		"-framerate", strconv.Itoa(c.FrameRate),
		"-video_size", fmt.Sprintf("%dx%d", c.Width, c.Height),
		"-i", "desktop",
		"-an",
		"-c:v", "rawvideo",
		"-f", "nut",
		"pipe:1",
	}, nil
}

// systemAudioArgs needs a WASAPI loopback capture, which stock ffmpeg
// builds expose as a dshow virtual device when installed.
func systemAudioArgs() ([]string, error) {
	return pcmGrabArgs("virtual-audio-capturer")
}

func microphoneArgs(deviceID string) ([]string, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: microphone name required on Windows", capture.ErrNoDevices)
	}
	return pcmGrabArgs(deviceID)
}

func pcmGrabArgs(device string) ([]string, error) {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "dshow",
		"-i", "audio=" + device,
		"-f", "s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"pipe:1",
	}, nil
}
