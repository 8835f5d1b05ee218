// Package observer fans detector output out to side consumers: the ops
// server, the Redis snapshot channel and the Postgres alert archive.
// Publication never blocks or fails the supervisor loop.
package observer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pricesentry/internal/alert"
	"github.com/sawpanic/pricesentry/internal/net/circuit"
	"github.com/sawpanic/pricesentry/internal/pricecache"
	"github.com/sawpanic/pricesentry/internal/telemetry"
)

// publishTimeout bounds one observer call.
const publishTimeout = 5 * time.Second

// Stats is the operational part of a snapshot.
type Stats struct {
	Performance telemetry.Performance    `json:"performance"`
	Cache       pricecache.Stats         `json:"cache"`
	Breakers    map[string]circuit.Stats `json:"breakers,omitempty"`
	Counters    map[string]float64       `json:"counters,omitempty"`
}

// Snapshot is the derived state published after state-changing loop
// iterations.
type Snapshot struct {
	Exchange  string             `json:"exchange"`
	Connected bool               `json:"connected"`
	Timestamp time.Time          `json:"ts"`
	Symbols   []string           `json:"symbols"`
	Prices    map[string]float64 `json:"prices"`
	Alerts    []alert.Record     `json:"alerts"`
	Stats     Stats              `json:"stats"`
}

// Observer consumes published state. Implementations own their delivery
// guarantees; returned errors are logged by the registry and go no
// further.
type Observer interface {
	Name() string
	PublishSnapshot(ctx context.Context, snap Snapshot) error
	PublishAlert(ctx context.Context, rec alert.Record) error
}

// Registry fans publications out to all registered observers, one
// goroutine per observer per event, with panic isolation.
type Registry struct {
	mu        sync.RWMutex
	observers []Observer
}

func NewRegistry(observers ...Observer) *Registry {
	return &Registry{observers: observers}
}

// Register adds an observer. Safe while publishing.
func (r *Registry) Register(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Len reports the number of registered observers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers)
}

// PublishSnapshot delivers snap to every observer and returns
// immediately.
func (r *Registry) PublishSnapshot(snap Snapshot) {
	for _, o := range r.snapshotList() {
		o := o
		go r.deliver(o, "snapshot", func(ctx context.Context) error {
			return o.PublishSnapshot(ctx, snap)
		})
	}
}

// PublishAlert delivers rec to every observer and returns immediately.
func (r *Registry) PublishAlert(rec alert.Record) {
	for _, o := range r.snapshotList() {
		o := o
		go r.deliver(o, "alert", func(ctx context.Context) error {
			return o.PublishAlert(ctx, rec)
		})
	}
}

func (r *Registry) snapshotList() []Observer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Observer(nil), r.observers...)
}

func (r *Registry) deliver(o Observer, kind string, fn func(ctx context.Context) error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("observer", o.Name()).
				Str("kind", kind).
				Interface("panic", rec).
				Msg("observer panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn().Err(err).Str("observer", o.Name()).Str("kind", kind).Msg("observer publish failed")
	}
}
