// Package exchange maintains the live ticker subscription to one
// exchange, exposes synchronous price reads with cache and REST fallback,
// and hides the reconnection state machine behind the Adapter contract.
package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sawpanic/pricesentry/internal/chart"
	"github.com/sawpanic/pricesentry/internal/market"
)

// Supported exchange names. They double as the config enum.
const (
	Binance = "binance"
	OKX     = "okx"
	Bybit   = "bybit"
)

// Adapter is the contract the detector and the supervisor consume. One
// adapter is bound to one exchange and one symbol set at a time.
type Adapter interface {
	Name() string

	// Start subscribes to live tickers for the given canonical symbols.
	// It is idempotent while connected and returns after the first
	// successful handshake or with an error once retries are exhausted.
	Start(ctx context.Context, symbols []string) error

	// Current returns the most recent price per requested symbol.
	// Symbols with no price from any source are absent from the result.
	Current(ctx context.Context, symbols []string) map[string]float64

	// Historical returns the reference price from `minutes` ago per
	// requested symbol, from the in-memory history when fresh enough and
	// from REST OHLCV otherwise.
	Historical(ctx context.Context, symbols []string, minutes float64) map[string]float64

	IsConnected() bool
	CheckAndReconnect(ctx context.Context) bool
	Close() error

	// Markets and OHLCV back the catalog refresh and the chart lookback.
	Markets(ctx context.Context) ([]market.Market, error)
	OHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]chart.Candle, error)
}

// tick is one decoded price update from the live stream.
type tick struct {
	symbol string // canonical form
	price  float64
}

// variant supplies everything that differs between the supported
// exchanges: endpoints, wire envelopes and symbol forms. The adapter
// behavior on top is shared.
type variant interface {
	name() string

	// Live stream.
	wsURL(symbols []string) string
	subscribeFrames(symbols []string) [][]byte
	// keepalive returns the client ping payload and its interval; a nil
	// payload means the transport-level ping/pong suffices.
	keepalive() ([]byte, time.Duration)
	// decodeFrame extracts ticks from one frame. A non-nil pong is
	// written back verbatim; control and ack frames yield no ticks.
	decodeFrame(data []byte) (ticks []tick, pong []byte, err error)

	// REST.
	tickerURL(symbol string) string
	parseTicker(data []byte) (float64, error)
	ohlcvURL(symbol, timeframe string, startMs int64, limit int) string
	parseOHLCV(data []byte) ([]chart.Candle, error)
	marketsURL() string
	parseMarkets(data []byte) ([]market.Market, error)

	// Symbol mapping between the canonical BASE/USDT:USDT form and the
	// exchange wire form.
	wireSymbol(canonical string) string
	canonicalSymbol(wire string) string

	// withRESTBase rebinds the REST endpoints, for tests.
	withRESTBase(base string) variant
}

func variantFor(name string) (variant, error) {
	switch name {
	case Binance:
		return binanceVariant{}, nil
	case OKX:
		return okxVariant{}, nil
	case Bybit:
		return bybitVariant{}, nil
	default:
		return nil, fmt.Errorf("unsupported exchange %q", name)
	}
}

// baseOf extracts the base currency from a canonical symbol.
func baseOf(canonical string) string {
	if i := strings.Index(canonical, "/"); i >= 0 {
		return canonical[:i]
	}
	return canonical
}

// canonical attaches the USDT contract suffix to a base currency.
func canonical(base string) string {
	return strings.ToUpper(base) + "/USDT:USDT"
}

func parsePrice(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad price %q: %w", s, err)
	}
	return v, nil
}
