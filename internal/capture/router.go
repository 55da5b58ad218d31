package capture

import (
	"context"
	"log/slog"

	"github.com/john-rock/beeroll/internal/logging"
)

// Router merges a secondary microphone source into a base capture stream.
// Merging is best-effort: on any failure the base stream is returned
// unchanged, never an error.
type Router struct {
	device Device
	log    *slog.Logger
}

// NewRouter creates a router acquiring microphones from the given device.
func NewRouter(device Device) *Router {
	return &Router{device: device, log: logging.L("audiorouter")}
}

// Merge acquires a microphone stream and returns a stream carrying the base
// stream's video tracks plus a single audio track that sums the base audio
// and the microphone. The microphone acquisition fails independently of the
// base stream; on failure the base stream is returned as-is.
func (r *Router) Merge(ctx context.Context, base *MediaStream, deviceID string) *MediaStream {
	mic, err := r.device.CaptureMicrophone(ctx, deviceID)
	if err != nil {
		r.log.Warn("microphone unavailable, keeping base audio", "device", deviceID, "error", err)
		return base
	}

	micAudio := mic.AudioTracks()
	if len(micAudio) == 0 {
		r.log.Warn("microphone stream has no audio track, keeping base audio")
		mic.Close()
		return base
	}

	tracks := append([]*Track{}, base.VideoTracks()...)

	baseAudio := base.AudioTracks()
	if len(baseAudio) == 0 {
		// Nothing to mix with; adopt the microphone track directly.
		tracks = append(tracks, micAudio[0])
		r.log.Info("routed microphone as sole audio source", "device", deviceID)
		return NewMediaStream(tracks...)
	}

	mixed := r.mix(baseAudio[0], micAudio[0], mic)
	tracks = append(tracks, mixed)
	r.log.Info("mixed microphone into capture audio", "device", deviceID)
	return NewMediaStream(tracks...)
}

// mix builds the summing graph: one goroutine reads both sources and pushes
// summed PCM into a new track. Stopping the mixed track stops both sources.
func (r *Router) mix(a, b *Track, micOwner *MediaStream) *Track {
	out := NewTrack(TrackAudio, 64, func() {
		a.Stop()
		micOwner.Close()
	})

	go func() {
		var pendingA, pendingB []Sample
		for {
			select {
			case <-out.Done():
				return
			case s, ok := <-a.Samples():
				if !ok {
					return
				}
				pendingA = append(pendingA, s)
			case s, ok := <-b.Samples():
				if !ok {
					return
				}
				pendingB = append(pendingB, s)
			case <-a.Done():
				return
			case <-b.Done():
				return
			}

			for len(pendingA) > 0 && len(pendingB) > 0 {
				sa, sb := pendingA[0], pendingB[0]
				pendingA, pendingB = pendingA[1:], pendingB[1:]
				out.Push(Sample{Data: sumPCM16(sa.Data, sb.Data), PTS: sa.PTS})
			}
		}
	}()

	return out
}

// sumPCM16 adds two interleaved 16-bit little-endian PCM buffers with
// clipping. The shorter buffer is treated as silence past its end.
func sumPCM16(a, b []byte) []byte {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	n -= n % 2
	out := make([]byte, n)
	for i := 0; i+1 < n; i += 2 {
		var sa, sb int32
		if i+1 < len(a) {
			sa = int32(int16(uint16(a[i]) | uint16(a[i+1])<<8))
		}
		if i+1 < len(b) {
			sb = int32(int16(uint16(b[i]) | uint16(b[i+1])<<8))
		}
		sum := sa + sb
		if sum > 32767 {
			sum = 32767
		} else if sum < -32768 {
			sum = -32768
		}
		out[i] = byte(uint16(int16(sum)))
		out[i+1] = byte(uint16(int16(sum)) >> 8)
	}
	return out
}
