package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/pricesentry/internal/config"
)

const (
	appName = "pricesentry"
	version = "v1.0.0"
)

const defaultConfigPath = "config/config.yaml"

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	config.LoadEnvFile()

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Price movement sentry for crypto perpetual markets",
		Version: version,
		Long: `PriceSentry watches live ticker streams on a derivatives exchange
(binance, okx or bybit), detects short-window percent price moves above a
configured threshold and emits prioritized, cooldown-gated alerts.`,
		SilenceUsage: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sentry service",
		Long:  "Boots the supervisor: connects to the exchange, watches prices and emits alerts until interrupted.",
		RunE:  runRun,
	}
	runCmd.Flags().String("config", defaultConfigPath, "Path to the YAML configuration file")
	runCmd.Flags().Bool("dry-run", false, "Validate config and market matching, then exit")

	checkCmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration file",
		Long:  "Loads, coerces and validates the configuration, printing the normalized result and any warnings.",
		RunE:  runCheckConfig,
	}
	checkCmd.Flags().String("config", defaultConfigPath, "Path to the YAML configuration file")

	marketsCmd := &cobra.Command{
		Use:   "markets",
		Short: "Market catalog commands",
		Long:  "Inspect and refresh the supported-markets catalog.",
	}

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the catalog from the configured exchange",
		RunE:  runMarketsRefresh,
	}
	refreshCmd.Flags().String("config", defaultConfigPath, "Path to the YAML configuration file")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog entries for an exchange",
		RunE:  runMarketsList,
	}
	listCmd.Flags().String("exchange", "", "Exchange to list (defaults to every exchange in the catalog)")

	marketsCmd.AddCommand(refreshCmd)
	marketsCmd.AddCommand(listCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", appName, version)
		},
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(marketsCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
	if code := signalExit.Load(); code != 0 {
		os.Exit(int(code))
	}
}

func applyLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
