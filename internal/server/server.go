package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/john-rock/beeroll/internal/capture"
	"github.com/john-rock/beeroll/internal/compress"
	"github.com/john-rock/beeroll/internal/config"
	"github.com/john-rock/beeroll/internal/journal"
	"github.com/john-rock/beeroll/internal/logging"
	"github.com/john-rock/beeroll/internal/store"
	"github.com/john-rock/beeroll/internal/workerpool"
)

// Server exposes the capture controller and compression pipeline over
// HTTP. One controller, one pipeline, one recording store.
type Server struct {
	log   *slog.Logger
	cfg   config.Config
	prefs *config.PreferenceStore

	controller *capture.Controller
	pipeline   *compress.Pipeline
	recordings *store.RecordingStore
	device     capture.Device
	history    *journal.Journal

	hub  *eventHub
	pool *workerpool.Pool

	artifacts *artifactRegistry

	httpSrv *http.Server
}

// New builds a server around the given components. The controller's
// artifact callback is claimed by the server so finished sessions flow
// into the finalize path. hist may be nil to disable history.
func New(cfg config.Config, prefs *config.PreferenceStore, ctrl *capture.Controller, pipe *compress.Pipeline, rec *store.RecordingStore, dev capture.Device, hist *journal.Journal) *Server {
	s := &Server{
		log:        logging.L("server"),
		cfg:        cfg,
		prefs:      prefs,
		controller: ctrl,
		pipeline:   pipe,
		recordings: rec,
		device:     dev,
		history:    hist,
		hub:        newEventHub(),
		pool:       workerpool.New(2, 16),
		artifacts:  newArtifactRegistry(),
	}
	ctrl.OnArtifact = s.onArtifact
	return s
}

// Handler assembles the full routed and CORS-wrapped HTTP surface.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/capture/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/capture/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/capture/pause", s.handlePause).Methods(http.MethodPost)
	api.HandleFunc("/capture/resume", s.handleResume).Methods(http.MethodPost)
	api.HandleFunc("/capture/mute", s.handleMute).Methods(http.MethodPost)
	api.HandleFunc("/capture/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/compress", s.handleCompress).Methods(http.MethodPost)
	api.HandleFunc("/compress/cancel", s.handleCompressCancel).Methods(http.MethodPost)
	api.HandleFunc("/quality", s.handleGetQuality).Methods(http.MethodGet)
	api.HandleFunc("/quality", s.handleSetQuality).Methods(http.MethodPut)
	api.HandleFunc("/recordings", s.handleListRecordings).Methods(http.MethodGet)
	api.HandleFunc("/recordings/{id}", s.handleDownload).Methods(http.MethodGet)
	api.HandleFunc("/devices", s.handleDevices).Methods(http.MethodGet)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)

	r.HandleFunc("/ws/events", s.hub.handle)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(r)
}

// Run starts listening and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", s.cfg.ListenAddr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the listener, closes websocket clients and drains the
// finalize pool.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	s.hub.closeAll()
	s.pool.Shutdown(ctx)
	s.controller.Close()
	s.pipeline.Cancel()
	_ = s.history.Close()
	return err
}
