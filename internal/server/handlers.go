package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/john-rock/beeroll/internal/capture"
	"github.com/john-rock/beeroll/internal/compress"
	"github.com/john-rock/beeroll/internal/journal"
	"github.com/john-rock/beeroll/internal/logging"
)

// artifactRegistry keeps finished recordings addressable by ID until the
// client downloads or replaces them.
type artifactRegistry struct {
	mu sync.Mutex
	m  map[string]capture.Artifact
}

func newArtifactRegistry() *artifactRegistry {
	return &artifactRegistry{m: map[string]capture.Artifact{}}
}

func (r *artifactRegistry) put(a capture.Artifact) {
	r.mu.Lock()
	r.m[a.ID] = a
	r.mu.Unlock()
}

func (r *artifactRegistry) get(id string) (capture.Artifact, bool) {
	r.mu.Lock()
	a, ok := r.m[id]
	r.mu.Unlock()
	return a, ok
}

func (r *artifactRegistry) list() []capture.Artifact {
	r.mu.Lock()
	out := make([]capture.Artifact, 0, len(r.m))
	for _, a := range r.m {
		out = append(out, a)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

type artifactSummary struct {
	ID        string    `json:"id"`
	MimeType  string    `json:"mimeType"`
	Size      int       `json:"size"`
	Duration  int64     `json:"durationMs"`
	CreatedAt time.Time `json:"createdAt"`
}

func summarize(a capture.Artifact) artifactSummary {
	return artifactSummary{
		ID:        a.ID,
		MimeType:  a.MimeType,
		Size:      a.Size(),
		Duration:  a.Duration.Milliseconds(),
		CreatedAt: a.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestError builds the error body for malformed or unsatisfiable
// requests that never reached the capture layer.
func requestError(msg string) *capture.DomainError {
	return &capture.DomainError{
		Kind:        capture.KindRecordingFailed,
		Message:     msg,
		Recoverable: true,
		Suggestion:  "Correct the request and try again.",
	}
}

// writeError maps an error onto the classified JSON shape the client
// renders. Validation failures stay 400; everything else is 500.
func writeError(w http.ResponseWriter, err error) {
	de := capture.Classify(err)
	status := http.StatusInternalServerError
	if de.Recoverable && de.Kind == capture.KindRecordingFailed {
		status = http.StatusBadRequest
	}
	switch de.Kind {
	case capture.KindPermissionDenied:
		status = http.StatusForbidden
	case capture.KindNoDevices, capture.KindNotSupported:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]any{"error": de})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var opts capture.Options
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": requestError("malformed request body")})
		return
	}
	if opts.Quality == "" {
		opts.Quality = s.prefs.Quality()
	}
	if err := s.controller.Start(r.Context(), opts); err != nil {
		writeError(w, err)
		return
	}
	s.hub.Broadcast(Event{Type: "state", State: string(capture.StateRecording)})
	s.history.Record(journal.EventSessionStarted, "", map[string]any{
		"quality":    opts.Quality,
		"video":      opts.Video,
		"microphone": opts.Audio.Microphone,
	})
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	art, err := s.controller.Stop(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	s.hub.Broadcast(Event{Type: "state", State: string(capture.StateInactive)})
	s.history.Record(journal.EventSessionStopped, art.ID, map[string]any{
		"durationMs": art.Duration.Milliseconds(),
		"bytes":      art.Size(),
	})
	s.finalize(*art)
	writeJSON(w, http.StatusOK, summarize(*art))
}

// Pause, resume and mute never fail: outside an active session they are
// no-ops and still answer 200 with the current status.

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.controller.Pause()
	st := s.controller.Status()
	s.hub.Broadcast(Event{Type: "state", State: string(st.State)})
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.controller.Resume()
	st := s.controller.Status()
	s.hub.Broadcast(Event{Type: "state", State: string(st.State)})
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	s.controller.ToggleMute()
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Status())
}

type compressRequest struct {
	ID      string `json:"id"`
	Quality string `json:"quality,omitempty"`
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	var req compressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": requestError("malformed request body")})
		return
	}
	art, ok := s.artifacts.get(req.ID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": requestError("no recording with id "+req.ID)})
		return
	}
	quality := req.Quality
	if quality == "" {
		quality = s.prefs.Quality()
	}
	profile, ok := capture.ProfileByName(quality)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": requestError("unknown quality profile "+quality)})
		return
	}

	if s.pipeline.Busy() {
		writeJSON(w, http.StatusConflict, map[string]any{"error": capture.CompressionError("a compression job is already running", compress.ErrJobInFlight)})
		return
	}

	// The compression itself runs off the request path; the websocket
	// stream carries progress and the terminal result.
	ok = s.pool.Submit(func() {
		res, err := s.pipeline.Compress(context.Background(), art, profile, func(pct float64, stage string) {
			s.hub.Broadcast(Event{Type: "compress", Progress: pct, Stage: stage})
		})
		if err != nil {
			if errors.Is(err, compress.ErrJobInFlight) || errors.Is(err, context.Canceled) {
				s.hub.Broadcast(Event{Type: "compress", Stage: "cancelled", Message: err.Error()})
				return
			}
			s.hub.Broadcast(Event{Type: "compress", Stage: "error", Message: err.Error()})
			return
		}
		s.artifacts.put(res.Artifact)
		path, saveErr := s.recordings.Save(res.Artifact, "")
		if saveErr != nil {
			s.log.Warn("saving compressed recording failed", logging.KeyError, saveErr)
		}
		s.history.Record(journal.EventCompressionDone, res.Artifact.ID, map[string]any{
			"strategy":  string(res.Strategy),
			"reduction": res.Reduction,
		})
		s.hub.Broadcast(Event{Type: "compress", Progress: 100, Stage: "done", Path: path})
	})
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": requestError("worker queue is full, try again shortly")})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "id": req.ID})
}

func (s *Server) handleCompressCancel(w http.ResponseWriter, r *http.Request) {
	s.pipeline.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleGetQuality(w http.ResponseWriter, r *http.Request) {
	name := s.prefs.Quality()
	profile, _ := capture.ProfileByName(name)
	writeJSON(w, http.StatusOK, map[string]any{"quality": name, "profile": profile, "available": capture.ProfileNames()})
}

type qualityRequest struct {
	Quality string `json:"quality"`
}

func (s *Server) handleSetQuality(w http.ResponseWriter, r *http.Request) {
	var req qualityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": requestError("malformed request body")})
		return
	}
	if err := s.prefs.SetQuality(req.Quality); err != nil {
		writeError(w, err)
		return
	}
	s.history.Record(journal.EventQualityChanged, "", map[string]any{"quality": req.Quality})
	writeJSON(w, http.StatusOK, map[string]string{"quality": req.Quality})
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	arts := s.artifacts.list()
	out := make([]artifactSummary, 0, len(arts))
	for _, a := range arts {
		out = append(out, summarize(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	a, ok := s.artifacts.get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": requestError("no recording with id "+id)})
		return
	}
	w.Header().Set("Content-Type", a.MimeType)
	w.Header().Set("Content-Disposition", "attachment")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Data)
}

// handleDevices reports microphone availability. The answer only drives
// UI affordances; capture itself stays best-effort regardless.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	micAvailable := false
	if stream, err := s.device.CaptureMicrophone(ctx, ""); err == nil {
		micAvailable = true
		stream.Close()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"microphone": micAvailable})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.history.Recent(100)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// onArtifact receives recordings finalized by the controller itself, for
// example when the display stream ends outside an explicit stop.
func (s *Server) onArtifact(a capture.Artifact) {
	s.hub.Broadcast(Event{Type: "state", State: string(capture.StateInactive)})
	s.history.Record(journal.EventSessionEnded, a.ID, map[string]any{
		"durationMs": a.Duration.Milliseconds(),
		"bytes":      a.Size(),
	})
	s.finalize(a)
}

// finalize registers the artifact and persists it, optionally queueing
// auto-compression.
func (s *Server) finalize(a capture.Artifact) {
	s.artifacts.put(a)
	s.pool.Submit(func() {
		path, err := s.recordings.Save(a, "")
		if err != nil {
			s.log.Error("saving recording failed", logging.KeyError, err)
		} else {
			s.history.Record(journal.EventRecordingSaved, a.ID, map[string]any{"path": path})
			s.hub.Broadcast(Event{Type: "saved", Path: path})
		}
		if !s.cfg.AutoCompress {
			return
		}
		profile, ok := capture.ProfileByName(s.prefs.Quality())
		if !ok {
			return
		}
		res, err := s.pipeline.Compress(context.Background(), a, profile, func(pct float64, stage string) {
			s.hub.Broadcast(Event{Type: "compress", Progress: pct, Stage: stage})
		})
		if err != nil {
			s.log.Warn("auto-compression skipped", logging.KeyError, err)
			return
		}
		s.artifacts.put(res.Artifact)
		if path, err := s.recordings.Save(res.Artifact, ""); err == nil {
			s.hub.Broadcast(Event{Type: "compress", Progress: 100, Stage: "done", Path: path})
		}
	})
}
