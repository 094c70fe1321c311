// Package settings persists the operator-editable settings.json file:
// external proxy config, MapLocal rules, breakpoints, the current
// listen session id, and the Charles-export path. Grounded on the
// teacher's saveAll/loadAll (src/persist.go) atomic temp+rename
// pattern, generalized from a fixed capture/rules pair to the spec's
// five-key store.
package settings

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/ezshark/ezshark-go/internal/model"
)

// Settings is the full on-disk settings.json document.
type Settings struct {
	ExternalProxy        model.ExternalProxyConfig `json:"externalProxy"`
	MapLocal             model.MapLocalConfig      `json:"mapLocal"`
	Breakpoints          map[string]model.Breakpoint `json:"breakpoints"`
	CurrentListenSession string                    `json:"currentListenSession"`
	CharlesPath          string                    `json:"charlesPath,omitempty"`
}

// Default returns a Settings value under which no feature acts: MapLocal
// off, no breakpoints, and an external proxy config that is enabled but
// has no host configured, so every request bypasses it. This is the
// ConfigError-as-feature-disabled default the pipeline falls back to
// when no file exists yet.
func Default() Settings {
	return Settings{
		ExternalProxy: *model.NewDefaultExternalProxyConfig(),
		MapLocal:      model.MapLocalConfig{Rules: map[string]model.MapLocalRule{}},
		Breakpoints:   map[string]model.Breakpoint{},
	}
}

// Store guards a Settings value and its backing file path.
type Store struct {
	mu   sync.RWMutex
	path string
	data Settings
}

// Load reads path, defaulting to Default() if the file is absent or
// fails to parse — a garbled settings.json is a ConfigError, treated
// as "every feature disabled" rather than a fatal startup error.
func Load(path string) *Store {
	s := &Store{path: path, data: Default()}
	b, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	var parsed Settings
	if err := json.Unmarshal(b, &parsed); err != nil {
		return s
	}
	if parsed.Breakpoints == nil {
		parsed.Breakpoints = map[string]model.Breakpoint{}
	}
	if parsed.MapLocal.Rules == nil {
		parsed.MapLocal.Rules = map[string]model.MapLocalRule{}
	}
	s.data = parsed
	return s
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

// Update applies mutate to the settings under write lock and persists
// the result atomically.
func (s *Store) Update(mutate func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(&s.data)
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
