// Package sentry owns the supervisor loop: it boots the exchange
// adapter, runs periodic movement detection, applies configuration
// updates live and publishes state to observers.
package sentry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pricesentry/internal/alert"
	"github.com/sawpanic/pricesentry/internal/chart"
	"github.com/sawpanic/pricesentry/internal/config"
	"github.com/sawpanic/pricesentry/internal/detect"
	"github.com/sawpanic/pricesentry/internal/exchange"
	"github.com/sawpanic/pricesentry/internal/market"
	"github.com/sawpanic/pricesentry/internal/net/circuit"
	"github.com/sawpanic/pricesentry/internal/notify"
	"github.com/sawpanic/pricesentry/internal/observer"
	"github.com/sawpanic/pricesentry/internal/pricecache"
	"github.com/sawpanic/pricesentry/internal/telemetry"
)

const (
	// loopInterval is the supervisor cadence.
	loopInterval = time.Second
	// eventBudget is the soft processing budget for one config event.
	eventBudget = 5 * time.Second
	// reconnectEvery spaces the disconnect checks.
	reconnectEvery = time.Minute

	eventQueueCap = 16
)

// Deps wires the supervisor to the rest of the process. Store, Catalog
// and NewAdapter are required; everything else is optional.
type Deps struct {
	Store     *config.Store
	Catalog   *market.Catalog
	Sender    notify.Sender
	Observers *observer.Registry
	Metrics   *telemetry.Metrics
	Monitor   *telemetry.Monitor
	Cache     *pricecache.Cache
	Breakers  *circuit.Registry
	Renderer  chart.Renderer

	NewAdapter func(name string) (exchange.Adapter, error)
}

// derived is the state recomputed from config on boot and on every
// accepted update.
type derived struct {
	cfg           config.Config
	minutes       float64
	threshold     float64
	checkInterval float64 // seconds
	symbols       []string
}

// Sentry is the supervisor. All loop state is owned by the Run
// goroutine; config events arrive through a buffered FIFO queue.
type Sentry struct {
	deps     Deps
	cooldown *alert.Cooldown
	history  *alert.History
	detector *detect.Detector

	// amu guards adapter swaps; the cron job and external probes read
	// the adapter outside the loop goroutine.
	amu     sync.RWMutex
	adapter exchange.Adapter

	events chan config.UpdateEvent
	state  derived

	lastTick      time.Time
	lastReconnect time.Time

	cron *cron.Cron

	now func() time.Time
}

// New builds a supervisor around the given dependencies.
func New(deps Deps) (*Sentry, error) {
	if deps.Store == nil || deps.Catalog == nil || deps.NewAdapter == nil {
		return nil, fmt.Errorf("sentry: store, catalog and adapter factory are required")
	}
	if deps.Sender == nil {
		deps.Sender = notify.LogSender{}
	}
	if deps.Observers == nil {
		deps.Observers = observer.NewRegistry()
	}
	return &Sentry{
		deps:     deps,
		cooldown: alert.NewCooldown(),
		history:  alert.NewHistory(alert.DefaultHistoryCap),
		events:   make(chan config.UpdateEvent, eventQueueCap),
		now:      time.Now,
	}, nil
}

// History exposes the in-process alert buffer.
func (s *Sentry) History() *alert.History { return s.history }

// Adapter returns the active exchange adapter; it may be nil before
// boot and changes across reloads.
func (s *Sentry) Adapter() exchange.Adapter {
	s.amu.RLock()
	defer s.amu.RUnlock()
	return s.adapter
}

// Connected reports the active adapter's stream state, for health
// probes.
func (s *Sentry) Connected() bool {
	ad := s.Adapter()
	return ad != nil && ad.IsConnected()
}

// Run boots the adapter and loops until ctx is canceled. Boot failures
// are returned; runtime failures are logged and absorbed.
func (s *Sentry) Run(ctx context.Context) error {
	if err := s.boot(ctx); err != nil {
		return err
	}
	defer s.shutdown()

	ticker := time.NewTicker(loopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.iterate(ctx)
		}
	}
}

func (s *Sentry) boot(ctx context.Context) error {
	cfg := s.deps.Store.Get()
	st, err := deriveState(cfg, s.deps.Catalog)
	if err != nil {
		return err
	}
	if len(st.symbols) == 0 {
		return fmt.Errorf("no supported symbols matched for %s", cfg.Exchange)
	}

	adapter, err := s.deps.NewAdapter(cfg.Exchange)
	if err != nil {
		return fmt.Errorf("build %s adapter: %w", cfg.Exchange, err)
	}
	if err := adapter.Start(ctx, st.symbols); err != nil {
		adapter.Close()
		return fmt.Errorf("start %s adapter: %w", cfg.Exchange, err)
	}

	s.amu.Lock()
	s.adapter = adapter
	s.amu.Unlock()
	s.detector = detect.New(adapter, s.cooldown, s.deps.Metrics)
	s.state = st
	s.lastTick = time.Time{}
	s.lastReconnect = s.now()

	s.deps.Store.Subscribe("sentry", func(ev config.UpdateEvent) {
		select {
		case s.events <- ev:
		default:
			log.Warn().Msg("config event queue full, dropping update")
		}
	})

	s.startCron(cfg.MarketRefreshCron)

	log.Info().
		Str("exchange", cfg.Exchange).
		Int("symbols", len(st.symbols)).
		Float64("threshold", st.threshold).
		Float64("minutes", st.minutes).
		Msg("sentry started")
	return nil
}

func (s *Sentry) shutdown() {
	s.deps.Store.Unsubscribe("sentry")
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.adapter != nil {
		if err := s.adapter.Close(); err != nil {
			log.Warn().Err(err).Msg("adapter close failed on shutdown")
		}
	}
	log.Info().Msg("sentry stopped")
}

// iterate is one pass of the supervisor loop: drain config events,
// maybe tick the detector, maybe check the connection, publish state.
func (s *Sentry) iterate(ctx context.Context) {
	changed := s.drainEvents(ctx)

	now := s.now()
	if now.Sub(s.lastTick).Seconds() >= s.state.checkInterval || s.lastTick.IsZero() {
		s.tick(ctx)
		// The tick timestamp advances even when nothing was sent, so a
		// slow or failing pass cannot cause a burst of retries.
		s.lastTick = now
		changed = true
	}

	if now.Sub(s.lastReconnect) >= reconnectEvery {
		s.lastReconnect = now
		if !s.adapter.IsConnected() {
			log.Warn().Str("exchange", s.adapter.Name()).Msg("adapter disconnected, attempting reconnect")
			s.adapter.CheckAndReconnect(ctx)
		}
	}

	if changed {
		s.publish(ctx)
	}
}

// drainEvents applies every queued config update in arrival order.
func (s *Sentry) drainEvents(ctx context.Context) bool {
	applied := false
	for {
		select {
		case ev := <-s.events:
			started := s.now()
			s.applyEvent(ctx, ev)
			applied = true
			if took := s.now().Sub(started); took > eventBudget {
				log.Warn().Dur("took", took).Msg("config event processing exceeded budget")
			}
		default:
			return applied
		}
	}
}

func (s *Sentry) applyEvent(ctx context.Context, ev config.UpdateEvent) {
	st, err := deriveState(ev.New, s.deps.Catalog)
	if err != nil {
		log.Error().Err(err).Msg("rejecting config update with underivable state")
		return
	}

	if ev.Diff.RequiresExchangeReload || ev.Diff.RequiresSymbolReload {
		if err := s.reload(ctx, st); err != nil {
			log.Error().Err(err).Msg("adapter reload failed, keeping previous derived state")
			return
		}
	}

	s.state = st
	if s.deps.Metrics != nil {
		s.deps.Metrics.ConfigReloads.Inc()
	}
	log.Info().
		Strs("changed", ev.Diff.ChangedKeys).
		Float64("minutes", st.minutes).
		Float64("threshold", st.threshold).
		Msg("config update applied")
}

// reload swaps the adapter for the new exchange/symbol set. The tick
// timestamp is deliberately left alone so a reload cannot force an
// immediate detection burst.
func (s *Sentry) reload(ctx context.Context, st derived) error {
	if len(st.symbols) == 0 {
		return fmt.Errorf("no supported symbols matched for %s", st.cfg.Exchange)
	}

	if err := s.adapter.Close(); err != nil {
		log.Warn().Err(err).Msg("closing previous adapter failed")
	}

	adapter, err := s.deps.NewAdapter(st.cfg.Exchange)
	if err != nil {
		return fmt.Errorf("build %s adapter: %w", st.cfg.Exchange, err)
	}
	if err := adapter.Start(ctx, st.symbols); err != nil {
		adapter.Close()
		return fmt.Errorf("start %s adapter: %w", st.cfg.Exchange, err)
	}

	s.amu.Lock()
	s.adapter = adapter
	s.amu.Unlock()
	s.detector = detect.New(adapter, s.cooldown, s.deps.Metrics)
	log.Info().Str("exchange", st.cfg.Exchange).Int("symbols", len(st.symbols)).Msg("adapter reloaded")
	return nil
}

// tick runs one detection pass and dispatches the result.
func (s *Sentry) tick(ctx context.Context) {
	started := s.now()
	cfg := s.state.cfg

	res, err := s.detector.Detect(ctx, detect.Params{
		Minutes:            s.state.minutes,
		Symbols:            s.state.symbols,
		Threshold:          s.state.threshold,
		Timezone:           cfg.NotificationTimezone,
		MediumThreshold:    cfg.PriorityThresholds.Medium,
		HighThreshold:      cfg.PriorityThresholds.High,
		CooldownSeconds:    cfg.CooldownSeconds(),
		BypassHighCooldown: cfg.HighPriorityBypass,
	})

	if s.deps.Metrics != nil {
		s.deps.Metrics.Ticks.Inc()
	}
	if s.deps.Monitor != nil {
		s.deps.Monitor.RecordTick(s.now().Sub(started))
	}

	if err != nil {
		log.Warn().Err(err).Msg("detection pass failed")
		return
	}
	if res == nil {
		return
	}

	s.dispatch(ctx, cfg, res)
}

// dispatch sends the composed alert and records the outcome.
func (s *Sentry) dispatch(ctx context.Context, cfg config.Config, res *detect.Result) {
	msg := notify.Message{Text: res.Message}

	for i := range res.Records {
		rec := s.history.Add(res.Records[i])
		res.Records[i] = rec
		msg.Alerts = append(msg.Alerts, rec)
		s.deps.Observers.PublishAlert(rec)
		if s.deps.Metrics != nil {
			s.deps.Metrics.Alerts.WithLabelValues(res.Movers[i].Priority.String()).Inc()
		}
	}

	if cfg.AttachChart && s.deps.Renderer != nil {
		msg.Chart = s.renderChart(ctx, cfg, res.Movers[0].Symbol)
	}

	if err := s.deps.Sender.Send(ctx, msg); err != nil {
		log.Error().Err(err).Msg("alert send failed, cooldown not recorded")
		return
	}
	for _, m := range res.Movers {
		s.cooldown.Record(m.Symbol)
	}
}

// renderChart fetches the lookback candles for the top mover and renders
// them. Failures degrade to a text-only alert.
func (s *Sentry) renderChart(ctx context.Context, cfg config.Config, symbol string) []byte {
	lookback := cfg.ChartLookbackMinutes
	if lookback <= 0 {
		lookback = 60
	}
	timeframe := cfg.ChartTimeframe
	if timeframe == "" {
		timeframe = "1m"
	}

	since := s.now().Add(-time.Duration(lookback) * time.Minute)
	candles, err := s.adapter.OHLCV(ctx, symbol, timeframe, since, lookback)
	if err != nil || len(candles) == 0 {
		log.Warn().Err(err).Str("symbol", symbol).Msg("chart lookback fetch failed")
		return nil
	}

	img, err := s.deps.Renderer.Render(ctx, symbol, candles, chart.Options{
		Timeframe: timeframe,
		Theme:     cfg.ChartTheme,
		Width:     cfg.ChartImageWidth,
		Height:    cfg.ChartImageHeight,
		Scale:     cfg.ChartImageScale,
	})
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("chart render failed")
		return nil
	}
	return img
}

// publish pushes the current derived state to all observers.
func (s *Sentry) publish(ctx context.Context) {
	snap := observer.Snapshot{
		Exchange:  s.state.cfg.Exchange,
		Connected: s.adapter.IsConnected(),
		Timestamp: s.now(),
		Symbols:   s.state.symbols,
		Prices:    s.adapter.Current(ctx, s.state.symbols),
		Alerts:    s.history.Latest(10),
	}
	if s.deps.Monitor != nil {
		snap.Stats.Performance = s.deps.Monitor.Snapshot()
	}
	if s.deps.Cache != nil {
		snap.Stats.Cache = s.deps.Cache.Stats()
	}
	if s.deps.Breakers != nil {
		snap.Stats.Breakers = s.deps.Breakers.Stats()
	}
	if s.deps.Metrics != nil {
		snap.Stats.Counters = s.deps.Metrics.Gathered()
	}
	s.deps.Observers.PublishSnapshot(snap)
}

// startCron schedules the periodic market catalog refresh when
// configured.
func (s *Sentry) startCron(spec string) {
	if spec == "" {
		return
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := s.deps.Catalog.Refresh(ctx, s.Adapter())
		if err != nil {
			log.Warn().Err(err).Msg("scheduled market refresh failed")
			return
		}
		log.Info().Int("symbols", n).Msg("market catalog refreshed")
	})
	if err != nil {
		log.Error().Err(err).Str("cron", spec).Msg("invalid market refresh schedule")
		return
	}
	c.Start()
	s.cron = c
}

// deriveState recomputes the loop parameters from a config snapshot.
func deriveState(cfg config.Config, catalog *market.Catalog) (derived, error) {
	minutes := cfg.Minutes()
	if minutes <= 0 {
		return derived{}, fmt.Errorf("bad timeframe %q", cfg.DefaultTimeframe)
	}
	return derived{
		cfg:           cfg,
		minutes:       minutes,
		threshold:     cfg.DefaultThreshold,
		checkInterval: cfg.CheckIntervalSeconds(),
		symbols:       catalog.Match(market.ScopeSymbols(cfg.NotificationSymbols), cfg.Exchange),
	}, nil
}
