package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// UpdateResult is what Store.Update hands back to the caller. On failure
// the in-memory snapshot and the on-disk file are untouched.
type UpdateResult struct {
	Success  bool     `json:"success"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Diff     Diff     `json:"diff"`
}

// UpdateEvent is delivered to every subscriber after a snapshot swap. All
// members are copies; listeners may keep them.
type UpdateEvent struct {
	New      Config
	Previous Config
	Warnings []string
	Diff     Diff
}

// Listener receives configuration update events. Listeners must not assume
// any particular calling goroutine.
type Listener func(UpdateEvent)

// Store is the single source of truth for runtime configuration. It owns
// the current snapshot, persists accepted updates to the YAML file before
// swapping, and broadcasts diffs to subscribers outside its lock.
type Store struct {
	mu        sync.RWMutex
	path      string
	current   Config
	listeners map[string]Listener
}

// NewStore wraps an already validated snapshot. Most callers want
// OpenStore instead.
func NewStore(path string, initial Config) *Store {
	return &Store{
		path:      path,
		current:   initial.Clone(),
		listeners: make(map[string]Listener),
	}
}

// OpenStore loads, validates and wraps the configuration file at path.
func OpenStore(path string) (*Store, []string, error) {
	cfg, warnings, err := Load(path)
	if err != nil {
		return nil, warnings, err
	}
	return NewStore(path, cfg), warnings, nil
}

// Get returns a deep copy of the current snapshot.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Subscribe registers a named listener. Re-subscribing under the same name
// replaces the previous listener, which makes the call idempotent.
func (s *Store) Subscribe(name string, fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[name] = fn
}

// Unsubscribe removes a listener. Unknown names are ignored.
func (s *Store) Unsubscribe(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, name)
}

// Update validates the candidate mapping and, when accepted, persists it,
// swaps the snapshot and notifies subscribers. An update identical to the
// current snapshot short-circuits: subscribers see an event with an empty
// diff and the file is not rewritten. Validation failures leave every
// observable state untouched.
func (s *Store) Update(candidate map[string]any) UpdateResult {
	cfg, warnings, errs := Normalize(candidate)
	overlayEnv(&cfg)
	errs = append(errs, Validate(cfg)...)
	if len(errs) > 0 {
		return UpdateResult{Success: false, Errors: errs, Warnings: warnings}
	}

	s.mu.Lock()
	previous := s.current
	diff := ComputeDiff(previous, cfg)

	if diff.Empty() {
		current := s.current.Clone()
		s.mu.Unlock()
		s.notify(UpdateEvent{New: current, Previous: current, Warnings: warnings, Diff: diff})
		return UpdateResult{Success: true, Warnings: warnings, Diff: diff}
	}

	if err := Save(s.path, cfg); err != nil {
		s.mu.Unlock()
		return UpdateResult{
			Success:  false,
			Errors:   []string{fmt.Sprintf("persist failed: %v", err)},
			Warnings: warnings,
		}
	}
	s.current = cfg.Clone()
	s.mu.Unlock()

	log.Info().Strs("changed", diff.ChangedKeys).Msg("configuration updated")
	s.notify(UpdateEvent{New: cfg.Clone(), Previous: previous.Clone(), Warnings: warnings, Diff: diff})
	return UpdateResult{Success: true, Warnings: warnings, Diff: diff}
}

// ReloadFromDisk re-reads and revalidates the backing file. When the file
// content differs from the current snapshot the store swaps and notifies
// exactly like Update, except nothing is written back. Invalid file
// content keeps the current snapshot and returns an error.
func (s *Store) ReloadFromDisk() (Config, error) {
	cfg, warnings, err := Load(s.path)
	if err != nil {
		return Config{}, err
	}

	s.mu.Lock()
	previous := s.current
	diff := ComputeDiff(previous, cfg)
	if diff.Empty() {
		current := s.current.Clone()
		s.mu.Unlock()
		return current, nil
	}
	s.current = cfg.Clone()
	s.mu.Unlock()

	log.Info().Strs("changed", diff.ChangedKeys).Msg("configuration reloaded from disk")
	s.notify(UpdateEvent{New: cfg.Clone(), Previous: previous.Clone(), Warnings: warnings, Diff: diff})
	return cfg.Clone(), nil
}

// notify invokes every listener outside the store lock. A panicking
// listener is logged and does not break the chain.
func (s *Store) notify(event UpdateEvent) {
	s.mu.RLock()
	names := make([]string, 0, len(s.listeners))
	for name := range s.listeners {
		names = append(names, name)
	}
	sort.Strings(names)
	fns := make([]Listener, len(names))
	for i, name := range names {
		fns[i] = s.listeners[name]
	}
	s.mu.RUnlock()

	for i, fn := range fns {
		func(name string) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("listener", name).Interface("panic", r).Msg("config listener panicked")
				}
			}()
			fn(event)
		}(names[i])
	}
}
