package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/pricesentry/internal/config"
	"github.com/sawpanic/pricesentry/internal/exchange"
	"github.com/sawpanic/pricesentry/internal/market"
	"github.com/sawpanic/pricesentry/internal/net/budget"
	"github.com/sawpanic/pricesentry/internal/net/circuit"
	"github.com/sawpanic/pricesentry/internal/net/ratelimit"
	"github.com/sawpanic/pricesentry/internal/notify"
	"github.com/sawpanic/pricesentry/internal/observer"
	"github.com/sawpanic/pricesentry/internal/ops"
	"github.com/sawpanic/pricesentry/internal/pricecache"
	"github.com/sawpanic/pricesentry/internal/sentry"
	"github.com/sawpanic/pricesentry/internal/telemetry"
)

// signalExit carries the exit code requested by a termination signal.
var signalExit atomic.Int32

func configPath(flags *pflag.FlagSet) string {
	path, _ := flags.GetString("config")
	if path == "" {
		path = defaultConfigPath
	}
	return path
}

func runRun(cmd *cobra.Command, args []string) error {
	path := configPath(cmd.Flags())
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	store, warnings, err := config.OpenStore(path)
	if err != nil {
		return err
	}
	cfg := store.Get()
	applyLogLevel(cfg.LogLevel)
	for _, w := range warnings {
		log.Warn().Str("config", path).Msg(w)
	}

	catalog := market.LoadCatalog(market.CatalogPath)
	symbols := catalog.Match(market.ScopeSymbols(cfg.NotificationSymbols), cfg.Exchange)

	if dryRun {
		fmt.Printf("config ok: exchange=%s timeframe=%s threshold=%.2f%%\n",
			cfg.Exchange, cfg.DefaultTimeframe, cfg.DefaultThreshold)
		fmt.Printf("matched %d symbols: %v\n", len(symbols), symbols)
		if len(symbols) == 0 {
			return fmt.Errorf("no supported symbols matched for %s", cfg.Exchange)
		}
		return nil
	}

	metrics := telemetry.NewMetrics()
	monitor := telemetry.NewMonitor()
	cache := pricecache.New()
	defer cache.Close()
	breakers := circuit.NewRegistry()
	limiter := ratelimit.NewLimiter(ratelimit.DefaultRPS, ratelimit.DefaultBurst)

	newAdapter := func(name string) (exchange.Adapter, error) {
		return exchange.New(name, exchange.Deps{
			Cache:    cache,
			Breakers: breakers,
			Limiter:  limiter,
			Budget:   budget.NewTracker(name, cfg.RESTBudgetDaily),
			Metrics:  metrics,
		})
	}

	observers := observer.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Redis.Addr != "" {
		pub, err := observer.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.SnapshotChannel, cfg.Redis.AlertChannel)
		if err != nil {
			log.Warn().Err(err).Msg("redis publisher disabled")
		} else {
			defer pub.Close()
			observers.Register(pub)
		}
	}
	if cfg.Postgres.DSN != "" {
		archive, err := observer.DialPostgres(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.Warn().Err(err).Msg("postgres archive disabled")
		} else {
			defer archive.Close()
			observers.Register(archive)
		}
	}

	sry, err := sentry.New(sentry.Deps{
		Store:      store,
		Catalog:    catalog,
		Sender:     notify.Fanout{notify.LogSender{}},
		Observers:  observers,
		Metrics:    metrics,
		Monitor:    monitor,
		Cache:      cache,
		Breakers:   breakers,
		NewAdapter: newAdapter,
	})
	if err != nil {
		return err
	}

	if cfg.Ops.Enabled {
		srv, err := ops.NewServer(ops.Config{Host: cfg.Ops.Host, Port: cfg.Ops.Port},
			metrics, monitor, cfg.Exchange, sry.Connected)
		if err != nil {
			return err
		}
		observers.Register(srv)
		srv.Start()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	watcher := config.NewWatcher(store, 2*time.Second)
	watcher.Start()
	defer watcher.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		if sig == syscall.SIGINT {
			signalExit.Store(130)
		}
		cancel()
	}()

	return sry.Run(ctx)
}

func runCheckConfig(cmd *cobra.Command, args []string) error {
	path := configPath(cmd.Flags())

	cfg, warnings, err := config.Load(path)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Printf("warning: %s\n", w)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Printf("%s", out)
	return nil
}

func runMarketsRefresh(cmd *cobra.Command, args []string) error {
	path := configPath(cmd.Flags())

	cfg, _, err := config.Load(path)
	if err != nil {
		return err
	}

	adapter, err := exchange.New(cfg.Exchange, exchange.Deps{
		Breakers: circuit.NewRegistry(),
		Limiter:  ratelimit.NewLimiter(ratelimit.DefaultRPS, ratelimit.DefaultBurst),
	})
	if err != nil {
		return err
	}
	defer adapter.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	catalog := market.LoadCatalog(market.CatalogPath)
	n, err := catalog.Refresh(ctx, adapter)
	if err != nil {
		return err
	}
	fmt.Printf("refreshed %s: %d symbols written to %s\n", cfg.Exchange, n, catalog.Path())
	return nil
}

func runMarketsList(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("exchange")

	catalog := market.LoadCatalog(market.CatalogPath)
	exchanges := catalog.Exchanges()
	if name != "" {
		exchanges = []string{name}
	}

	for _, ex := range exchanges {
		symbols := catalog.Symbols(ex)
		fmt.Printf("%s (%d symbols)\n", ex, len(symbols))
		for _, sym := range symbols {
			fmt.Printf("  %s\n", sym)
		}
	}
	return nil
}
