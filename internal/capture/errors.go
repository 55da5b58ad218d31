package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
)

// ErrorKind is the closed taxonomy of user-facing failure categories.
type ErrorKind string

const (
	KindPermissionDenied  ErrorKind = "permission_denied"
	KindNotSupported      ErrorKind = "not_supported"
	KindNoDevices         ErrorKind = "no_devices"
	KindRecordingFailed   ErrorKind = "recording_failed"
	KindStreamEnded       ErrorKind = "stream_ended"
	KindCompressionFailed ErrorKind = "compression_failed"
	KindDownloadFailed    ErrorKind = "download_failed"
	KindUnknown           ErrorKind = "unknown"
)

// Platform-level sentinels raised by Device and Recorder implementations.
// Classify maps them into the taxonomy above.
var (
	ErrPermissionDenied = errors.New("capture permission denied")
	ErrNoDevices        = errors.New("no capture devices available")
	ErrNotSupported     = errors.New("capture not supported")
	ErrStreamEnded      = errors.New("capture stream ended")
)

// DomainError is the classified error surfaced to callers. It is an
// immutable value: construct once, never mutate.
type DomainError struct {
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
	Suggestion  string    `json:"suggestion,omitempty"`
	Cause       error     `json:"-"`
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DomainError) Unwrap() error { return e.Cause }

// newValidationError reports caller mistakes (bad options, wrong state).
// These are recoverable: the caller can correct the request and retry.
func newValidationError(msg string) *DomainError {
	return &DomainError{
		Kind:        KindRecordingFailed,
		Message:     msg,
		Recoverable: true,
		Suggestion:  "Check the capture options and try again.",
	}
}

// Classify converts an arbitrary failure into a DomainError. It is total:
// every input, including nil, yields a usable DomainError. Existing
// DomainErrors pass through unchanged.
func Classify(err error) *DomainError {
	var de *DomainError
	if errors.As(err, &de) {
		return de
	}

	switch {
	case err == nil:
		return &DomainError{
			Kind:        KindUnknown,
			Message:     "unknown failure",
			Recoverable: false,
			Suggestion:  "Restart the recorder and try again.",
		}
	case errors.Is(err, ErrPermissionDenied) || errors.Is(err, fs.ErrPermission):
		return &DomainError{
			Kind:        KindPermissionDenied,
			Message:     "screen capture permission was denied",
			Recoverable: true,
			Suggestion:  "Grant screen recording permission and start again.",
			Cause:       err,
		}
	case errors.Is(err, ErrNoDevices):
		return &DomainError{
			Kind:        KindNoDevices,
			Message:     "no capture device was found",
			Recoverable: true,
			Suggestion:  "Connect a microphone or disable microphone capture.",
			Cause:       err,
		}
	case errors.Is(err, ErrNotSupported) || errors.Is(err, exec.ErrNotFound):
		return &DomainError{
			Kind:        KindNotSupported,
			Message:     "no supported capture encoder is available on this system",
			Recoverable: false,
			Suggestion:  "Install ffmpeg or run on a platform with screen capture support.",
			Cause:       err,
		}
	case errors.Is(err, ErrStreamEnded):
		return &DomainError{
			Kind:        KindStreamEnded,
			Message:     "the capture source ended",
			Recoverable: true,
			Suggestion:  "The recording was saved up to the point the source ended. Start a new capture to continue.",
			Cause:       err,
		}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return &DomainError{
			Kind:        KindCompressionFailed,
			Message:     "the operation timed out or was cancelled",
			Recoverable: true,
			Suggestion:  "Try again; the original recording is kept.",
			Cause:       err,
		}
	default:
		return &DomainError{
			Kind:        KindUnknown,
			Message:     "unexpected failure",
			Recoverable: false,
			Suggestion:  "Restart the recorder and try again.",
			Cause:       err,
		}
	}
}

// CompressionError wraps an encoder failure. The pipeline only logs these;
// it never propagates them to its caller.
func CompressionError(msg string, cause error) *DomainError {
	return &DomainError{
		Kind:        KindCompressionFailed,
		Message:     msg,
		Recoverable: true,
		Suggestion:  "The original recording is kept uncompressed.",
		Cause:       cause,
	}
}

// SaveError wraps a failure while writing an artifact out for the user.
func SaveError(msg string, cause error) *DomainError {
	return &DomainError{
		Kind:        KindDownloadFailed,
		Message:     msg,
		Recoverable: true,
		Suggestion:  "Free up disk space and save the recording again.",
		Cause:       cause,
	}
}
