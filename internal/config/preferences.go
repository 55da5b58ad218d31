package config

import (
	"sync"

	"github.com/john-rock/beeroll/internal/capture"
)

// PreferenceStore is the persisted user-preference surface consumed by the
// UI: a simple get/set of the quality name, written through to the config
// file. No transactional semantics.
type PreferenceStore struct {
	mu      sync.Mutex
	cfg     *Config
	cfgFile string
}

// NewPreferenceStore wraps a loaded config. cfgFile may be empty to use
// the default location.
func NewPreferenceStore(cfg *Config, cfgFile string) *PreferenceStore {
	return &PreferenceStore{cfg: cfg, cfgFile: cfgFile}
}

// Quality returns the preferred quality name, falling back to balanced for
// values that no longer resolve to a profile.
func (s *PreferenceStore) Quality() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := capture.ProfileByName(s.cfg.Quality); !ok {
		return capture.QualityBalanced
	}
	return s.cfg.Quality
}

// SetQuality validates and persists a new preferred quality.
func (s *PreferenceStore) SetQuality(name string) error {
	if _, ok := capture.ProfileByName(name); !ok {
		return &capture.DomainError{
			Kind:        capture.KindRecordingFailed,
			Message:     "unknown quality name " + name,
			Recoverable: true,
			Suggestion:  "Choose one of high, balanced, or compressed.",
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Quality = name
	return SaveTo(s.cfg, s.cfgFile)
}
