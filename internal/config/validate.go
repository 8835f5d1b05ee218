package config

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	telegramTokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)
	telegramChatPattern  = regexp.MustCompile(`^-?\d+$`)
)

// supportedExchanges is the closed set of adapter variants.
var supportedExchanges = map[string]bool{
	"binance": true,
	"okx":     true,
	"bybit":   true,
}

// supportedTimeframes is the closed set accepted for defaultTimeframe.
var supportedTimeframes = map[string]bool{
	"1m": true, "5m": true, "15m": true, "1h": true, "1d": true,
}

// supportedChannels is the closed set of notification channels.
var supportedChannels = map[string]bool{
	"telegram": true,
}

// Normalize coerces a raw candidate mapping into a typed Config starting
// from Defaults. String values are converted to their typed forms (numbers,
// booleans, comma-joined lists) per the rule table; unknown keys are
// reported as warnings and ignored. Coercion failures come back as errors;
// cross-field checks live in Validate.
func Normalize(candidate map[string]any) (Config, []string, []string) {
	cfg := Defaults()
	var warnings, errs []string

	keys := make([]string, 0, len(candidate))
	for k := range candidate {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := candidate[key]
		switch key {
		case "exchange":
			assignString(&cfg.Exchange, key, value, &errs)
		case "defaultTimeframe":
			assignString(&cfg.DefaultTimeframe, key, value, &errs)
		case "checkInterval":
			assignString(&cfg.CheckInterval, key, value, &errs)
		case "defaultThreshold":
			assignFloat(&cfg.DefaultThreshold, key, value, &errs)
		case "symbolsFilePath":
			assignString(&cfg.SymbolsFilePath, key, value, &errs)
		case "notificationChannels":
			assignStringList(&cfg.NotificationChannels, key, value, &errs)
		case "notificationSymbols":
			scope, err := coerceScope(value)
			if err != nil {
				errs = append(errs, err.Error())
			} else {
				cfg.NotificationSymbols = scope
			}
		case "notificationTimezone":
			assignString(&cfg.NotificationTimezone, key, value, &errs)
		case "notificationCooldown":
			assignString(&cfg.NotificationCooldown, key, value, &errs)
		case "priorityThresholds":
			normalizeThresholds(&cfg.PriorityThresholds, value, &warnings, &errs)
		case "highPriorityBypassCooldown":
			assignBool(&cfg.HighPriorityBypass, key, value, &errs)
		case "telegram":
			normalizeTelegram(&cfg.Telegram, value, &warnings, &errs)
		case "attachChart":
			assignBool(&cfg.AttachChart, key, value, &errs)
		case "chartTimeframe":
			assignString(&cfg.ChartTimeframe, key, value, &errs)
		case "chartLookbackMinutes":
			assignInt(&cfg.ChartLookbackMinutes, key, value, &errs)
		case "chartTheme":
			assignString(&cfg.ChartTheme, key, value, &errs)
		case "chartImageWidth":
			assignInt(&cfg.ChartImageWidth, key, value, &errs)
		case "chartImageHeight":
			assignInt(&cfg.ChartImageHeight, key, value, &errs)
		case "chartImageScale":
			assignInt(&cfg.ChartImageScale, key, value, &errs)
		case "logLevel":
			assignString(&cfg.LogLevel, key, value, &errs)
		case "marketRefreshCron":
			assignString(&cfg.MarketRefreshCron, key, value, &errs)
		case "restBudgetDaily":
			assignInt64(&cfg.RESTBudgetDaily, key, value, &errs)
		case "ops":
			normalizeOps(&cfg.Ops, value, &warnings, &errs)
		case "redis":
			normalizeRedis(&cfg.Redis, value, &warnings, &errs)
		case "postgres":
			normalizePostgres(&cfg.Postgres, value, &warnings, &errs)
		default:
			warnings = append(warnings, fmt.Sprintf("unknown configuration key %q ignored", key))
		}
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	return cfg, warnings, errs
}

// Validate applies the cross-field and range rules to a normalized config
// and returns the violations. An empty result means the config is
// acceptable.
func Validate(cfg Config) []string {
	var errs []string

	if cfg.Exchange == "" {
		errs = append(errs, "exchange: required")
	} else if !supportedExchanges[cfg.Exchange] {
		errs = append(errs, fmt.Sprintf("exchange: %q not one of binance, okx, bybit", cfg.Exchange))
	}

	if !supportedTimeframes[cfg.DefaultTimeframe] {
		errs = append(errs, fmt.Sprintf("defaultTimeframe: %q not one of 1m, 5m, 15m, 1h, 1d", cfg.DefaultTimeframe))
	}

	if cfg.CheckInterval != "" {
		if _, err := ParseTimeframe(cfg.CheckInterval); err != nil {
			errs = append(errs, "checkInterval: "+err.Error())
		}
	}

	if cfg.DefaultThreshold < 0.001 || cfg.DefaultThreshold > 100 {
		errs = append(errs, fmt.Sprintf("defaultThreshold: %v out of range [0.001, 100]", cfg.DefaultThreshold))
	}

	for _, ch := range cfg.NotificationChannels {
		if !supportedChannels[ch] {
			errs = append(errs, fmt.Sprintf("notificationChannels: unsupported channel %q", ch))
		}
	}

	if cfg.NotificationSymbols.IsZero() {
		errs = append(errs, "notificationSymbols: required (\"default\" or a symbol list)")
	}

	if _, err := time.LoadLocation(cfg.NotificationTimezone); err != nil {
		errs = append(errs, fmt.Sprintf("notificationTimezone: unknown timezone %q", cfg.NotificationTimezone))
	}

	if _, err := ParseTimeframe(cfg.NotificationCooldown); err != nil {
		errs = append(errs, "notificationCooldown: "+err.Error())
	}

	pt := cfg.PriorityThresholds
	if pt.Low <= 0 || pt.Medium <= 0 || pt.High <= 0 {
		errs = append(errs, "priorityThresholds: all cutoffs must be positive")
	} else if pt.Low > pt.Medium || pt.Medium > pt.High {
		errs = append(errs, "priorityThresholds: expected low <= medium <= high")
	}

	if cfg.TelegramEnabled() {
		if cfg.Telegram.Token == "" {
			errs = append(errs, "telegram.token: required when the telegram channel is enabled")
		} else if !telegramTokenPattern.MatchString(cfg.Telegram.Token) {
			errs = append(errs, "telegram.token: malformed bot token")
		}
		if cfg.Telegram.ChatID == "" {
			errs = append(errs, "telegram.chatId: required when the telegram channel is enabled")
		} else if !telegramChatPattern.MatchString(cfg.Telegram.ChatID) {
			errs = append(errs, "telegram.chatId: must be an integer chat id")
		}
	}

	if cfg.AttachChart {
		if cfg.ChartImageWidth < 400 || cfg.ChartImageWidth > 4000 {
			errs = append(errs, fmt.Sprintf("chartImageWidth: %d out of range [400, 4000]", cfg.ChartImageWidth))
		}
		if cfg.ChartImageHeight < 300 || cfg.ChartImageHeight > 3000 {
			errs = append(errs, fmt.Sprintf("chartImageHeight: %d out of range [300, 3000]", cfg.ChartImageHeight))
		}
		if cfg.ChartImageScale < 1 || cfg.ChartImageScale > 3 {
			errs = append(errs, fmt.Sprintf("chartImageScale: %d not one of 1, 2, 3", cfg.ChartImageScale))
		}
		if _, err := ParseTimeframe(cfg.ChartTimeframe); err != nil {
			errs = append(errs, "chartTimeframe: "+err.Error())
		}
		if cfg.ChartLookbackMinutes <= 0 {
			errs = append(errs, "chartLookbackMinutes: must be positive")
		}
	}

	if cfg.LogLevel != "" {
		if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
			errs = append(errs, fmt.Sprintf("logLevel: unknown level %q", cfg.LogLevel))
		}
	}

	if cfg.MarketRefreshCron != "" {
		if _, err := cron.ParseStandard(cfg.MarketRefreshCron); err != nil {
			errs = append(errs, fmt.Sprintf("marketRefreshCron: %v", err))
		}
	}

	if cfg.RESTBudgetDaily < 0 {
		errs = append(errs, "restBudgetDaily: must be zero or positive")
	}

	if cfg.Ops.Enabled {
		if cfg.Ops.Port < 1 || cfg.Ops.Port > 65535 {
			errs = append(errs, fmt.Sprintf("ops.port: %d out of range", cfg.Ops.Port))
		}
		if cfg.Ops.Host == "" {
			errs = append(errs, "ops.host: required when ops server is enabled")
		}
	}

	return errs
}

func normalizeThresholds(dst *PriorityThresholds, value any, warnings, errs *[]string) {
	m, ok := asMap(value)
	if !ok {
		*errs = append(*errs, "priorityThresholds: expected a mapping")
		return
	}
	for _, sub := range sortedKeys(m) {
		switch sub {
		case "low":
			assignFloat(&dst.Low, "priorityThresholds.low", m[sub], errs)
		case "medium":
			assignFloat(&dst.Medium, "priorityThresholds.medium", m[sub], errs)
		case "high":
			assignFloat(&dst.High, "priorityThresholds.high", m[sub], errs)
		default:
			*warnings = append(*warnings, fmt.Sprintf("unknown configuration key %q ignored", "priorityThresholds."+sub))
		}
	}
}

func normalizeTelegram(dst *TelegramConfig, value any, warnings, errs *[]string) {
	m, ok := asMap(value)
	if !ok {
		*errs = append(*errs, "telegram: expected a mapping")
		return
	}
	for _, sub := range sortedKeys(m) {
		switch sub {
		case "token":
			assignString(&dst.Token, "telegram.token", m[sub], errs)
		case "chatId":
			assignString(&dst.ChatID, "telegram.chatId", m[sub], errs)
		case "webhookSecret":
			assignString(&dst.WebhookSecret, "telegram.webhookSecret", m[sub], errs)
		default:
			*warnings = append(*warnings, fmt.Sprintf("unknown configuration key %q ignored", "telegram."+sub))
		}
	}
}

func normalizeOps(dst *OpsConfig, value any, warnings, errs *[]string) {
	m, ok := asMap(value)
	if !ok {
		*errs = append(*errs, "ops: expected a mapping")
		return
	}
	for _, sub := range sortedKeys(m) {
		switch sub {
		case "enabled":
			assignBool(&dst.Enabled, "ops.enabled", m[sub], errs)
		case "host":
			assignString(&dst.Host, "ops.host", m[sub], errs)
		case "port":
			assignInt(&dst.Port, "ops.port", m[sub], errs)
		default:
			*warnings = append(*warnings, fmt.Sprintf("unknown configuration key %q ignored", "ops."+sub))
		}
	}
}

func normalizeRedis(dst *RedisConfig, value any, warnings, errs *[]string) {
	m, ok := asMap(value)
	if !ok {
		*errs = append(*errs, "redis: expected a mapping")
		return
	}
	for _, sub := range sortedKeys(m) {
		switch sub {
		case "addr":
			assignString(&dst.Addr, "redis.addr", m[sub], errs)
		case "snapshotChannel":
			assignString(&dst.SnapshotChannel, "redis.snapshotChannel", m[sub], errs)
		case "alertChannel":
			assignString(&dst.AlertChannel, "redis.alertChannel", m[sub], errs)
		default:
			*warnings = append(*warnings, fmt.Sprintf("unknown configuration key %q ignored", "redis."+sub))
		}
	}
}

func normalizePostgres(dst *PostgresConfig, value any, warnings, errs *[]string) {
	m, ok := asMap(value)
	if !ok {
		*errs = append(*errs, "postgres: expected a mapping")
		return
	}
	for _, sub := range sortedKeys(m) {
		switch sub {
		case "dsn":
			assignString(&dst.DSN, "postgres.dsn", m[sub], errs)
		default:
			*warnings = append(*warnings, fmt.Sprintf("unknown configuration key %q ignored", "postgres."+sub))
		}
	}
}

func coerceScope(value any) (SymbolScope, error) {
	switch v := value.(type) {
	case string:
		return scopeFromString(v)
	case []any:
		symbols := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return SymbolScope{}, fmt.Errorf("notificationSymbols: expected string entries")
			}
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, s)
			}
		}
		if len(symbols) == 0 {
			return SymbolScope{}, fmt.Errorf("notificationSymbols: empty list")
		}
		return SymbolScope{Symbols: symbols}, nil
	case []string:
		return scopeFromString(strings.Join(v, ","))
	default:
		return SymbolScope{}, fmt.Errorf("notificationSymbols: expected \"default\" or a list")
	}
}

func assignString(dst *string, key string, value any, errs *[]string) {
	s, err := coerceString(key, value)
	if err != nil {
		*errs = append(*errs, err.Error())
		return
	}
	*dst = s
}

func assignFloat(dst *float64, key string, value any, errs *[]string) {
	f, err := coerceFloat(key, value)
	if err != nil {
		*errs = append(*errs, err.Error())
		return
	}
	*dst = f
}

func assignInt(dst *int, key string, value any, errs *[]string) {
	f, err := coerceFloat(key, value)
	if err != nil {
		*errs = append(*errs, err.Error())
		return
	}
	*dst = int(f)
}

func assignInt64(dst *int64, key string, value any, errs *[]string) {
	f, err := coerceFloat(key, value)
	if err != nil {
		*errs = append(*errs, err.Error())
		return
	}
	*dst = int64(f)
}

func assignBool(dst *bool, key string, value any, errs *[]string) {
	b, err := coerceBool(key, value)
	if err != nil {
		*errs = append(*errs, err.Error())
		return
	}
	*dst = b
}

func assignStringList(dst *[]string, key string, value any, errs *[]string) {
	list, err := coerceStringList(key, value)
	if err != nil {
		*errs = append(*errs, err.Error())
		return
	}
	*dst = list
}

func coerceString(key string, value any) (string, error) {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", fmt.Errorf("%s: expected a string, got %T", key, value)
	}
}

func coerceFloat(key string, value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %q is not a number", key, v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%s: expected a number, got %T", key, value)
	}
}

func coerceBool(key string, value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1", "on":
			return true, nil
		case "false", "no", "0", "off":
			return false, nil
		}
		return false, fmt.Errorf("%s: %q is not a boolean", key, v)
	case int:
		return v != 0, nil
	default:
		return false, fmt.Errorf("%s: expected a boolean, got %T", key, value)
	}
}

func coerceStringList(key string, value any) ([]string, error) {
	switch v := value.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, err := coerceString(key, item)
			if err != nil {
				return nil, err
			}
			if s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	case []string:
		return append([]string(nil), v...), nil
	case string:
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: expected a list, got %T", key, value)
	}
}

func asMap(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
