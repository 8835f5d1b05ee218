// Package config owns the runtime configuration of the sentry: the typed
// snapshot, the coercion and validation rule table, atomic persistence to
// the YAML file, diffing, and the subscriber broadcast used for hot
// reloads.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPath is where the sentry looks for its configuration when no
	// --config flag is given.
	DefaultPath = "config/config.yaml"

	// EnvTelegramToken and EnvTelegramChatID overlay the corresponding
	// telegram keys after the file is loaded, so credentials can stay out
	// of the YAML.
	EnvTelegramToken  = "PRICESENTRY_TELEGRAM_TOKEN"
	EnvTelegramChatID = "PRICESENTRY_TELEGRAM_CHAT_ID"
)

// Config is the full runtime configuration snapshot. Zero values are not
// meaningful defaults; build instances via Defaults, Load or
// Store.Update so the defaulting and validation rules apply.
type Config struct {
	Exchange             string             `yaml:"exchange"`
	DefaultTimeframe     string             `yaml:"defaultTimeframe"`
	CheckInterval        string             `yaml:"checkInterval,omitempty"`
	DefaultThreshold     float64            `yaml:"defaultThreshold"`
	SymbolsFilePath      string             `yaml:"symbolsFilePath,omitempty"`
	NotificationChannels []string           `yaml:"notificationChannels"`
	NotificationSymbols  SymbolScope        `yaml:"notificationSymbols"`
	NotificationTimezone string             `yaml:"notificationTimezone,omitempty"`
	NotificationCooldown string             `yaml:"notificationCooldown,omitempty"`
	PriorityThresholds   PriorityThresholds `yaml:"priorityThresholds,omitempty"`
	HighPriorityBypass   bool               `yaml:"highPriorityBypassCooldown"`
	Telegram             TelegramConfig     `yaml:"telegram,omitempty"`
	AttachChart          bool               `yaml:"attachChart,omitempty"`
	ChartTimeframe       string             `yaml:"chartTimeframe,omitempty"`
	ChartLookbackMinutes int                `yaml:"chartLookbackMinutes,omitempty"`
	ChartTheme           string             `yaml:"chartTheme,omitempty"`
	ChartImageWidth      int                `yaml:"chartImageWidth,omitempty"`
	ChartImageHeight     int                `yaml:"chartImageHeight,omitempty"`
	ChartImageScale      int                `yaml:"chartImageScale,omitempty"`
	LogLevel             string             `yaml:"logLevel,omitempty"`
	MarketRefreshCron    string             `yaml:"marketRefreshCron,omitempty"`
	RESTBudgetDaily      int64              `yaml:"restBudgetDaily,omitempty"`
	Ops                  OpsConfig          `yaml:"ops,omitempty"`
	Redis                RedisConfig        `yaml:"redis,omitempty"`
	Postgres             PostgresConfig     `yaml:"postgres,omitempty"`
}

// PriorityThresholds holds the |pct| cutoffs used by the priority
// classifier.
type PriorityThresholds struct {
	Low    float64 `yaml:"low"`
	Medium float64 `yaml:"medium"`
	High   float64 `yaml:"high"`
}

// TelegramConfig carries the telegram channel credentials. The core only
// validates them; the transport lives outside this module.
type TelegramConfig struct {
	Token         string `yaml:"token,omitempty"`
	ChatID        string `yaml:"chatId,omitempty"`
	WebhookSecret string `yaml:"webhookSecret,omitempty"`
}

// OpsConfig configures the local operational HTTP server.
type OpsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

// RedisConfig configures the optional snapshot publisher. An empty Addr
// disables it.
type RedisConfig struct {
	Addr            string `yaml:"addr,omitempty"`
	SnapshotChannel string `yaml:"snapshotChannel,omitempty"`
	AlertChannel    string `yaml:"alertChannel,omitempty"`
}

// PostgresConfig configures the optional alert archive. An empty DSN
// disables it.
type PostgresConfig struct {
	DSN string `yaml:"dsn,omitempty"`
}

// Defaults returns the configuration every load and update starts from.
// Exchange and the notification scope are deliberately left unset; they
// are required and validation rejects their absence.
func Defaults() Config {
	return Config{
		DefaultTimeframe:     "5m",
		DefaultThreshold:     1.0,
		SymbolsFilePath:      "config/symbols.txt",
		NotificationChannels: []string{"telegram"},
		NotificationTimezone: "Asia/Shanghai",
		NotificationCooldown: "5m",
		PriorityThresholds:   PriorityThresholds{Low: 0.5, Medium: 1, High: 3},
		HighPriorityBypass:   true,
		ChartTimeframe:       "1m",
		ChartLookbackMinutes: 60,
		ChartTheme:           "dark",
		ChartImageWidth:      1200,
		ChartImageHeight:     800,
		ChartImageScale:      2,
		LogLevel:             "info",
		Ops: OpsConfig{
			Host: "127.0.0.1",
			Port: 8099,
		},
		Redis: RedisConfig{
			SnapshotChannel: "pricesentry.snapshots",
			AlertChannel:    "pricesentry.alerts",
		},
	}
}

// Clone returns a deep copy of the configuration. Slices are the only
// reference-typed members.
func (c Config) Clone() Config {
	out := c
	if c.NotificationChannels != nil {
		out.NotificationChannels = append([]string(nil), c.NotificationChannels...)
	}
	out.NotificationSymbols = c.NotificationSymbols.clone()
	return out
}

// Minutes returns the detection window in minutes derived from
// defaultTimeframe. The value is validated on the way in, so parse
// failures collapse to the 5m default.
func (c Config) Minutes() float64 {
	minutes, err := ParseTimeframe(c.DefaultTimeframe)
	if err != nil {
		return 5
	}
	return minutes
}

// CheckIntervalSeconds returns the detector cadence in seconds. When
// checkInterval is unset it follows defaultTimeframe.
func (c Config) CheckIntervalSeconds() float64 {
	source := c.CheckInterval
	if source == "" {
		source = c.DefaultTimeframe
	}
	minutes, err := ParseTimeframe(source)
	if err != nil {
		return c.Minutes() * 60
	}
	return minutes * 60
}

// CooldownSeconds returns the per-symbol notification cooldown in seconds.
func (c Config) CooldownSeconds() float64 {
	minutes, err := ParseTimeframe(c.NotificationCooldown)
	if err != nil {
		return 300
	}
	return minutes * 60
}

// TelegramEnabled reports whether the telegram channel is active.
func (c Config) TelegramEnabled() bool {
	for _, ch := range c.NotificationChannels {
		if ch == "telegram" {
			return true
		}
	}
	return false
}

// Load reads, coerces and validates the configuration file at path. The
// returned warnings cover non-fatal findings such as unknown keys. A
// validation failure returns an error and no config.
func Load(path string) (Config, []string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var candidate map[string]any
	if err := yaml.Unmarshal(raw, &candidate); err != nil {
		return Config{}, nil, fmt.Errorf("failed to unmarshal config %s: %w", path, err)
	}

	cfg, warnings, errs := Normalize(candidate)
	overlayEnv(&cfg)
	errs = append(errs, Validate(cfg)...)
	if len(errs) > 0 {
		return Config{}, warnings, fmt.Errorf("invalid config %s: %s", path, joinErrors(errs))
	}
	return cfg, warnings, nil
}

// LoadEnvFile loads a .env file if one is present next to the working
// directory. Absence is not an error.
func LoadEnvFile() {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env file")
	}
}

// overlayEnv applies credential overrides from the environment.
func overlayEnv(cfg *Config) {
	if token := os.Getenv(EnvTelegramToken); token != "" {
		cfg.Telegram.Token = token
	}
	if chatID := os.Getenv(EnvTelegramChatID); chatID != "" {
		cfg.Telegram.ChatID = chatID
	}
}

// Save writes the configuration to path atomically: marshal, write a
// temporary sibling, rename over the target.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace config %s: %w", path, err)
	}
	return nil
}

func joinErrors(errs []string) string {
	out := ""
	for i, e := range errs {
		if i > 0 {
			out += "; "
		}
		out += e
	}
	return out
}
