package market

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Market describes one tradeable contract as reported by an exchange.
type Market struct {
	Symbol string // canonical BASE/QUOTE:SETTLE
	Base   string
	Quote  string
	Settle string
	Type   string // swap, future, spot
	Active bool
}

// Lister is the slice of the exchange adapter the catalog refresh needs.
type Lister interface {
	Name() string
	Markets(ctx context.Context) ([]Market, error)
}

// Refresh fetches the live market list for the lister's exchange, filters
// it to active USDT-quoted, USDT-settled derivatives and replaces the
// catalog entry. The previous entry survives any failure.
func (c *Catalog) Refresh(ctx context.Context, lister Lister) (int, error) {
	markets, err := lister.Markets(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch markets for %s: %w", lister.Name(), err)
	}

	symbols := FilterDerivatives(markets)
	if len(symbols) == 0 {
		return 0, fmt.Errorf("no USDT derivatives found for %s", lister.Name())
	}

	if err := c.Replace(lister.Name(), symbols); err != nil {
		return 0, err
	}
	log.Info().Str("exchange", lister.Name()).Int("symbols", len(symbols)).Msg("market catalog refreshed")
	return len(symbols), nil
}

// FilterDerivatives keeps active swap/future contracts quoted and settled
// in USDT, preserving exchange order.
func FilterDerivatives(markets []Market) []string {
	var out []string
	for _, m := range markets {
		if !m.Active {
			continue
		}
		if m.Type != "swap" && m.Type != "future" {
			continue
		}
		if m.Quote != "USDT" || m.Settle != "USDT" {
			continue
		}
		symbol := m.Symbol
		if symbol == "" {
			symbol = Canonical(m.Base)
		}
		out = append(out, symbol)
	}
	return out
}
