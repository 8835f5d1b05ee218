package exchange

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pricesentry/internal/chart"
	"github.com/sawpanic/pricesentry/internal/history"
	"github.com/sawpanic/pricesentry/internal/market"
	"github.com/sawpanic/pricesentry/internal/net/budget"
	"github.com/sawpanic/pricesentry/internal/net/circuit"
	"github.com/sawpanic/pricesentry/internal/net/client"
	"github.com/sawpanic/pricesentry/internal/net/ratelimit"
	"github.com/sawpanic/pricesentry/internal/pricecache"
	"github.com/sawpanic/pricesentry/internal/telemetry"
)

const (
	// StartTimeout bounds the websocket handshake during Start.
	StartTimeout = 10 * time.Second
	// MaxStartRetries is the attempt budget of one Start invocation.
	MaxStartRetries = 3

	startRetryDelay  = 5 * time.Second
	readDeadline     = 60 * time.Second
	closeJoinTimeout = 5 * time.Second

	// staleCutoff is how far a ring point may sit from the reference
	// target before Historical falls through to REST OHLCV.
	staleCutoff = 10 * time.Minute
)

// State is the adapter connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// Deps carries the process-wide collaborators an adapter plugs into. Any
// nil member is tolerated; the corresponding protection is skipped.
type Deps struct {
	Cache    *pricecache.Cache
	Breakers *circuit.Registry
	Limiter  *ratelimit.Limiter
	Budget   *budget.Tracker
	Metrics  *telemetry.Metrics

	// WSURL and RESTURL override the exchange endpoints, for tests.
	WSURL   string
	RESTURL string
}

// New builds the adapter for one of the supported exchanges.
func New(name string, deps Deps) (Adapter, error) {
	v, err := variantFor(name)
	if err != nil {
		return nil, &AdapterError{Exchange: name, Category: CategoryConfiguration, Err: err}
	}
	if deps.RESTURL != "" {
		v = v.withRESTBase(deps.RESTURL)
	}

	if deps.Breakers != nil {
		deps.Breakers.Configure(circuit.Settings{Name: circuit.BreakerStart, FailureThreshold: 5, RecoveryTimeout: 60 * time.Second})
		deps.Breakers.Configure(circuit.Settings{Name: circuit.BreakerReconnect, FailureThreshold: 3, RecoveryTimeout: 30 * time.Second})
	}

	httpc := client.New(name, deps.Limiter, deps.Budget, deps.Breakers)
	a := &adapter{
		v:        v,
		rest:     newRESTClient(name, httpc, deps.Metrics),
		cache:    deps.Cache,
		breakers: deps.Breakers,
		metrics:  deps.Metrics,
		wsURL:    deps.WSURL,
		last:     make(map[string]float64),
		ring:     history.NewRing(),
		now:      time.Now,
		sleep:    sleepCtx,
	}
	return a, nil
}

type adapter struct {
	v        variant
	rest     *restClient
	cache    *pricecache.Cache
	breakers *circuit.Registry
	metrics  *telemetry.Metrics
	wsURL    string

	mu      sync.RWMutex
	state   State
	conn    *websocket.Conn
	wmu     sync.Mutex // serializes websocket writes
	symbols []string
	last    map[string]float64
	ring    *history.Ring
	closing chan struct{}
	done    chan struct{}

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func (a *adapter) Name() string { return a.v.name() }

// Ring exposes the price history, read by tests and the supervisor's
// status snapshot.
func (a *adapter) Ring() *history.Ring { return a.ring }

// State reports the current connection state.
func (a *adapter) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *adapter) IsConnected() bool { return a.State() == StateConnected }

// Start subscribes to live tickers for the canonical symbols. Starting a
// connected adapter is a no-op. The whole invocation counts as one
// ws_start breaker event regardless of how many dial attempts it took.
func (a *adapter) Start(ctx context.Context, symbols []string) error {
	normalized := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		normalized = append(normalized, ensureCanonical(sym))
	}
	if len(normalized) == 0 {
		return &AdapterError{Exchange: a.Name(), Category: CategoryConfiguration, Err: ErrNoSymbols}
	}

	a.mu.Lock()
	if a.state == StateConnected {
		a.mu.Unlock()
		return nil
	}
	a.state = StateConnecting
	a.symbols = normalized
	a.mu.Unlock()

	err := a.execBreaker(circuit.BreakerStart, func() error {
		return a.connect(ctx)
	})
	if err != nil {
		a.setState(StateDisconnected)
		return wrapErr(a.Name(), err)
	}
	return nil
}

// connect runs the per-Start attempt loop: up to MaxStartRetries dials
// with startRetryDelay between them.
func (a *adapter) connect(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < MaxStartRetries; attempt++ {
		if attempt > 0 {
			log.Warn().
				Str("exchange", a.Name()).
				Int("attempt", attempt+1).
				Err(lastErr).
				Msg("websocket start retry")
			if err := a.sleep(ctx, startRetryDelay); err != nil {
				return err
			}
		}
		if err := a.dial(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("start failed after %d attempts: %w", MaxStartRetries, lastErr)
}

// dial performs one handshake and, on success, hands the connection to a
// fresh stream worker.
func (a *adapter) dial(ctx context.Context) error {
	a.mu.RLock()
	symbols := append([]string(nil), a.symbols...)
	a.mu.RUnlock()

	url := a.wsURL
	if url == "" {
		url = a.v.wsURL(symbols)
	}

	dialer := websocket.Dialer{HandshakeTimeout: StartTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", url, err)
	}

	for _, frame := range a.v.subscribeFrames(symbols) {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			conn.Close()
			return fmt.Errorf("websocket subscribe: %w", err)
		}
	}

	closing := make(chan struct{})
	done := make(chan struct{})

	a.mu.Lock()
	a.conn = conn
	a.closing = closing
	a.done = done
	a.state = StateConnected
	a.mu.Unlock()

	a.setConnectedGauge(1)
	log.Info().Str("exchange", a.Name()).Int("symbols", len(symbols)).Msg("live stream connected")

	go a.worker(conn, closing, done)
	return nil
}

// worker is the stream read loop and the sole writer of the last-price
// map and the history ring.
func (a *adapter) worker(conn *websocket.Conn, closing <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	if payload, interval := a.v.keepalive(); payload != nil {
		go a.keepaliveLoop(conn, closing, payload, interval)
	}

	for {
		select {
		case <-closing:
			return
		default:
		}

		conn.SetReadDeadline(a.now().Add(readDeadline))
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-closing:
				return
			default:
			}
			log.Warn().Err(err).Str("exchange", a.Name()).Msg("live stream lost")
			a.setState(StateDisconnected)
			a.setConnectedGauge(0)
			return
		}

		ticks, pong, err := a.v.decodeFrame(data)
		if err != nil {
			// Decode failures never tear the stream down.
			log.Debug().Err(err).Str("exchange", a.Name()).Msg("skipping undecodable frame")
			continue
		}
		if pong != nil {
			a.write(conn, pong)
		}
		for _, t := range ticks {
			a.record(t)
		}
	}
}

func (a *adapter) keepaliveLoop(conn *websocket.Conn, closing <-chan struct{}, payload []byte, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-closing:
			return
		case <-ticker.C:
			if err := a.write(conn, payload); err != nil {
				log.Debug().Err(err).Str("exchange", a.Name()).Msg("keepalive write failed")
				return
			}
		}
	}
}

func (a *adapter) write(conn *websocket.Conn, payload []byte) error {
	a.wmu.Lock()
	defer a.wmu.Unlock()
	conn.SetWriteDeadline(a.now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (a *adapter) record(t tick) {
	a.mu.Lock()
	a.last[t.symbol] = t.price
	a.mu.Unlock()
	a.ring.Record(t.symbol, t.price)
	if a.metrics != nil {
		a.metrics.WSMessages.WithLabelValues(a.Name()).Inc()
	}
}

// Current resolves the latest price per symbol: cache, then the live map
// while the stream is healthy, then a REST ticker fetch that repopulates
// the cache. Unresolvable symbols are absent from the result.
func (a *adapter) Current(ctx context.Context, symbols []string) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	healthy := a.IsConnected()
	var missing []string

	for _, sym := range symbols {
		sym = ensureCanonical(sym)
		if a.cache != nil {
			if price, ok := a.cache.Get(a.cacheKey(sym)); ok {
				out[sym] = price
				a.countCache(true)
				continue
			}
			a.countCache(false)
		}
		if healthy {
			a.mu.RLock()
			price, ok := a.last[sym]
			a.mu.RUnlock()
			if ok {
				out[sym] = price
				continue
			}
		}
		missing = append(missing, sym)
	}

	for _, sym := range missing {
		price, err := a.restTicker(ctx, sym)
		if err != nil {
			log.Warn().Err(err).Str("exchange", a.Name()).Str("symbol", sym).Msg("ticker fetch failed")
			continue
		}
		out[sym] = price
		if a.cache != nil {
			a.cache.Set(a.cacheKey(sym), price)
		}
	}
	return out
}

// Historical returns the reference price `minutes` ago per symbol. A
// healthy stream answers from the ring unless the closest retained point
// sits more than staleCutoff from the target; everything else goes to
// REST OHLCV, taking the close of the single 1m candle at the target.
func (a *adapter) Historical(ctx context.Context, symbols []string, minutes float64) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	targetMs := a.now().UnixMilli() - int64(minutes*60_000)
	healthy := a.IsConnected()

	for _, sym := range symbols {
		sym = ensureCanonical(sym)
		if healthy {
			if pt, ok := a.ring.Closest(sym, targetMs); ok {
				if math.Abs(float64(pt.Timestamp-targetMs)) <= float64(staleCutoff.Milliseconds()) {
					out[sym] = pt.Price
					continue
				}
			}
		}

		candles, err := a.OHLCV(ctx, sym, "1m", time.UnixMilli(targetMs), 1)
		if err != nil || len(candles) == 0 {
			log.Warn().Err(err).Str("exchange", a.Name()).Str("symbol", sym).Msg("reference price fetch failed")
			continue
		}
		out[sym] = candles[0].Close
	}
	return out
}

// CheckAndReconnect re-enters the start sequence with the symbols the
// stream has already seen. It reports whether the adapter is connected
// afterwards.
func (a *adapter) CheckAndReconnect(ctx context.Context) bool {
	if a.IsConnected() {
		return true
	}

	a.mu.RLock()
	known := make([]string, 0, len(a.last))
	for sym := range a.last {
		known = append(known, sym)
	}
	a.mu.RUnlock()
	if len(known) == 0 {
		log.Warn().Str("exchange", a.Name()).Msg("reconnect skipped: no known symbols")
		return false
	}

	if a.metrics != nil {
		a.metrics.WSReconnects.WithLabelValues(a.Name()).Inc()
	}

	a.mu.Lock()
	a.state = StateConnecting
	a.symbols = known
	a.mu.Unlock()

	err := a.execBreaker(circuit.BreakerReconnect, func() error {
		return a.dial(ctx)
	})
	if err != nil {
		a.setState(StateDisconnected)
		log.Warn().Err(err).Str("exchange", a.Name()).Msg("reconnect failed")
		return false
	}
	return true
}

// Close tears down the stream and joins the worker. Past the join
// timeout the leak is logged and accepted.
func (a *adapter) Close() error {
	a.mu.Lock()
	if a.state == StateDisconnected && a.conn == nil {
		a.mu.Unlock()
		return nil
	}
	a.state = StateClosing
	conn, closing, done := a.conn, a.closing, a.done
	a.conn, a.closing, a.done = nil, nil, nil
	a.mu.Unlock()

	if closing != nil {
		close(closing)
	}
	var err error
	if conn != nil {
		a.wmu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), a.now().Add(time.Second))
		a.wmu.Unlock()
		err = conn.Close()
	}

	if done != nil {
		select {
		case <-done:
		case <-time.After(closeJoinTimeout):
			log.Error().Str("exchange", a.Name()).Msg("stream worker did not exit in time")
		}
	}

	a.setState(StateDisconnected)
	a.setConnectedGauge(0)
	log.Info().Str("exchange", a.Name()).Msg("adapter closed")
	return err
}

// Markets fetches the live market list for catalog refresh.
func (a *adapter) Markets(ctx context.Context) ([]market.Market, error) {
	var out []market.Market
	err := a.rest.getJSON(ctx, "markets", a.v.marketsURL(), func(body []byte) error {
		var err error
		out, err = a.v.parseMarkets(body)
		return err
	})
	return out, err
}

// OHLCV fetches candles starting at since.
func (a *adapter) OHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]chart.Candle, error) {
	symbol = ensureCanonical(symbol)
	var out []chart.Candle
	url := a.v.ohlcvURL(symbol, timeframe, since.UnixMilli(), limit)
	err := a.rest.getJSON(ctx, "ohlcv", url, func(body []byte) error {
		var err error
		out, err = a.v.parseOHLCV(body)
		return err
	})
	return out, err
}

func (a *adapter) restTicker(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := a.rest.getJSON(ctx, "ticker", a.v.tickerURL(symbol), func(body []byte) error {
		var err error
		price, err = a.v.parseTicker(body)
		return err
	})
	return price, err
}

func (a *adapter) execBreaker(name string, fn func() error) error {
	if a.breakers == nil {
		return fn()
	}
	return a.breakers.Execute(name, fn)
}

func (a *adapter) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *adapter) setConnectedGauge(v float64) {
	if a.metrics != nil {
		a.metrics.Connected.WithLabelValues(a.Name()).Set(v)
	}
}

func (a *adapter) cacheKey(symbol string) string {
	return a.Name() + ":" + symbol
}

func (a *adapter) countCache(hit bool) {
	if a.metrics == nil {
		return
	}
	if hit {
		a.metrics.CacheHits.Inc()
	} else {
		a.metrics.CacheMisses.Inc()
	}
}

// ensureCanonical normalizes user-supplied symbols to the
// BASE/USDT:USDT contract form.
func ensureCanonical(symbol string) string {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return symbol
	}
	if !strings.Contains(symbol, "/") {
		return canonical(symbol)
	}
	if !strings.Contains(symbol, ":") {
		return symbol + ":USDT"
	}
	return symbol
}
