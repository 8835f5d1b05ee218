// Package notify defines the outbound notification boundary. Delivery is
// best effort: send failures are logged with context and never block the
// supervisor loop.
package notify

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pricesentry/internal/alert"
)

// Message is one composed notification. Chart is an optional rendered
// image attached alongside the text.
type Message struct {
	Text   string
	Alerts []alert.Record
	Chart  []byte
}

// Sender delivers a message to one channel. The telegram transport and
// webhooks implement this outside the core.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the structured log. It is the default
// sender when no transport is wired in.
type LogSender struct{}

func (LogSender) Name() string { return "log" }

func (LogSender) Send(_ context.Context, msg Message) error {
	log.Info().
		Int("alerts", len(msg.Alerts)).
		Bool("chart", len(msg.Chart) > 0).
		Msg("alert notification\n" + msg.Text)
	return nil
}

// Fanout delivers to every wrapped sender in order. Individual failures
// are logged with the target and detail; Fanout itself never fails.
type Fanout []Sender

func (f Fanout) Name() string { return "fanout" }

func (f Fanout) Send(ctx context.Context, msg Message) error {
	for _, s := range f {
		if err := s.Send(ctx, msg); err != nil {
			log.Error().
				Err(err).
				Str("target", s.Name()).
				Msg("notification send failed")
		}
	}
	return nil
}
