//go:build !linux && !darwin && !windows

package ffcap

import (
	"github.com/john-rock/beeroll/internal/capture"
)

func screenGrabArgs(capture.ScreenConstraints) ([]string, error) {
	return nil, capture.ErrNotSupported
}

func systemAudioArgs() ([]string, error) {
	return nil, capture.ErrNotSupported
}

func microphoneArgs(string) ([]string, error) {
	return nil, capture.ErrNotSupported
}
