package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validCandidate returns the smallest mapping that passes normalization
// and validation.
func validCandidate() map[string]any {
	return map[string]any{
		"exchange":            "binance",
		"notificationSymbols": "default",
		"notificationChannels": []any{},
	}
}

func TestNormalizeCoercion(t *testing.T) {
	t.Run("numeric_strings_become_numbers", func(t *testing.T) {
		cfg, _, errs := Normalize(map[string]any{
			"exchange":            "okx",
			"defaultThreshold":    "2.5",
			"chartImageWidth":     "1600",
			"restBudgetDaily":     "10000",
			"notificationSymbols": "default",
		})
		require.Empty(t, errs)
		assert.Equal(t, 2.5, cfg.DefaultThreshold)
		assert.Equal(t, 1600, cfg.ChartImageWidth)
		assert.Equal(t, int64(10000), cfg.RESTBudgetDaily)
	})

	t.Run("comma_string_becomes_list", func(t *testing.T) {
		cfg, _, errs := Normalize(map[string]any{
			"exchange":             "okx",
			"notificationChannels": "telegram, telegram",
			"notificationSymbols":  "BTC, ETH ,SOL",
		})
		require.Empty(t, errs)
		assert.Equal(t, []string{"telegram", "telegram"}, cfg.NotificationChannels)
		assert.Equal(t, []string{"BTC", "ETH", "SOL"}, cfg.NotificationSymbols.Symbols)
		assert.False(t, cfg.NotificationSymbols.Default)
	})

	t.Run("boolean_strings_become_bools", func(t *testing.T) {
		cfg, _, errs := Normalize(map[string]any{
			"exchange":                   "okx",
			"notificationSymbols":        "default",
			"highPriorityBypassCooldown": "false",
			"attachChart":                "yes",
		})
		require.Empty(t, errs)
		assert.False(t, cfg.HighPriorityBypass)
		assert.True(t, cfg.AttachChart)
	})

	t.Run("unknown_keys_warn_and_are_ignored", func(t *testing.T) {
		_, warnings, errs := Normalize(map[string]any{
			"exchange":            "okx",
			"notificationSymbols": "default",
			"colour":              "blue",
			"telegram":            map[string]any{"token": "1:a", "tokn": "x"},
		})
		require.Empty(t, errs)
		require.Len(t, warnings, 2)
		assert.Contains(t, warnings[0], "colour")
		assert.Contains(t, warnings[1], "telegram.tokn")
	})

	t.Run("defaults_fill_missing_keys", func(t *testing.T) {
		cfg, _, errs := Normalize(validCandidate())
		require.Empty(t, errs)
		assert.Equal(t, "5m", cfg.DefaultTimeframe)
		assert.Equal(t, 1.0, cfg.DefaultThreshold)
		assert.Equal(t, "Asia/Shanghai", cfg.NotificationTimezone)
		assert.Equal(t, "5m", cfg.NotificationCooldown)
		assert.True(t, cfg.HighPriorityBypass)
		assert.Equal(t, PriorityThresholds{Low: 0.5, Medium: 1, High: 3}, cfg.PriorityThresholds)
	})

	t.Run("wrong_types_error", func(t *testing.T) {
		_, _, errs := Normalize(map[string]any{
			"exchange":         []any{"binance"},
			"defaultThreshold": "not-a-number",
			"telegram":         "flat",
		})
		require.Len(t, errs, 3)
	})

	t.Run("nested_thresholds", func(t *testing.T) {
		cfg, _, errs := Normalize(map[string]any{
			"exchange":            "bybit",
			"notificationSymbols": "default",
			"priorityThresholds":  map[string]any{"low": "0.7", "medium": 2, "high": 4.5},
		})
		require.Empty(t, errs)
		assert.Equal(t, PriorityThresholds{Low: 0.7, Medium: 2, High: 4.5}, cfg.PriorityThresholds)
	})
}

func TestValidateRules(t *testing.T) {
	base := func() Config {
		cfg, _, errs := Normalize(validCandidate())
		require.Empty(t, errs)
		return cfg
	}

	t.Run("valid_config_passes", func(t *testing.T) {
		assert.Empty(t, Validate(base()))
	})

	t.Run("exchange_required", func(t *testing.T) {
		cfg := base()
		cfg.Exchange = ""
		assertViolation(t, cfg, "exchange")
	})

	t.Run("exchange_enum", func(t *testing.T) {
		cfg := base()
		cfg.Exchange = "kraken"
		assertViolation(t, cfg, "exchange")
	})

	t.Run("timeframe_enum", func(t *testing.T) {
		cfg := base()
		cfg.DefaultTimeframe = "3m"
		assertViolation(t, cfg, "defaultTimeframe")
	})

	t.Run("threshold_range", func(t *testing.T) {
		for _, v := range []float64{0.0009, 100.1, -1} {
			cfg := base()
			cfg.DefaultThreshold = v
			assertViolation(t, cfg, "defaultThreshold")
		}
		for _, v := range []float64{0.001, 1, 100} {
			cfg := base()
			cfg.DefaultThreshold = v
			assert.Empty(t, Validate(cfg), "threshold %v should be accepted", v)
		}
	})

	t.Run("channel_enum", func(t *testing.T) {
		cfg := base()
		cfg.NotificationChannels = []string{"pigeon"}
		assertViolation(t, cfg, "notificationChannels")
	})

	t.Run("scope_required", func(t *testing.T) {
		cfg := base()
		cfg.NotificationSymbols = SymbolScope{}
		assertViolation(t, cfg, "notificationSymbols")
	})

	t.Run("timezone_must_load", func(t *testing.T) {
		cfg := base()
		cfg.NotificationTimezone = "Mars/Olympus"
		assertViolation(t, cfg, "notificationTimezone")
	})

	t.Run("cooldown_grammar", func(t *testing.T) {
		cfg := base()
		cfg.NotificationCooldown = "5x"
		assertViolation(t, cfg, "notificationCooldown")
	})

	t.Run("priority_ordering", func(t *testing.T) {
		cfg := base()
		cfg.PriorityThresholds = PriorityThresholds{Low: 2, Medium: 1, High: 3}
		assertViolation(t, cfg, "priorityThresholds")
	})

	t.Run("telegram_cross_field", func(t *testing.T) {
		cfg := base()
		cfg.NotificationChannels = []string{"telegram"}
		violations := Validate(cfg)
		require.Len(t, violations, 2)

		cfg.Telegram = TelegramConfig{Token: "123456:AbCd_ef-99", ChatID: "-100123"}
		assert.Empty(t, Validate(cfg))

		cfg.Telegram.Token = "no-colon"
		assertViolation(t, cfg, "telegram.token")

		cfg.Telegram = TelegramConfig{Token: "123456:ok_token", ChatID: "12a3"}
		assertViolation(t, cfg, "telegram.chatId")
	})

	t.Run("chart_bounds_only_when_attached", func(t *testing.T) {
		cfg := base()
		cfg.ChartImageWidth = 10
		assert.Empty(t, Validate(cfg), "chart disabled, bounds not enforced")

		cfg.AttachChart = true
		assertViolation(t, cfg, "chartImageWidth")

		cfg = base()
		cfg.AttachChart = true
		cfg.ChartImageHeight = 5000
		assertViolation(t, cfg, "chartImageHeight")

		cfg = base()
		cfg.AttachChart = true
		cfg.ChartImageScale = 4
		assertViolation(t, cfg, "chartImageScale")
	})

	t.Run("log_level_enum", func(t *testing.T) {
		cfg := base()
		cfg.LogLevel = "loud"
		assertViolation(t, cfg, "logLevel")
	})

	t.Run("cron_expression", func(t *testing.T) {
		cfg := base()
		cfg.MarketRefreshCron = "61 * * * *"
		assertViolation(t, cfg, "marketRefreshCron")

		cfg.MarketRefreshCron = "0 4 * * *"
		assert.Empty(t, Validate(cfg))
	})

	t.Run("ops_port_range", func(t *testing.T) {
		cfg := base()
		cfg.Ops.Enabled = true
		cfg.Ops.Port = 0
		assertViolation(t, cfg, "ops.port")
	})
}

func assertViolation(t *testing.T, cfg Config, key string) {
	t.Helper()
	violations := Validate(cfg)
	require.NotEmpty(t, violations, "expected a violation mentioning %s", key)
	joined := strings.Join(violations, "\n")
	assert.Contains(t, joined, key)
}
