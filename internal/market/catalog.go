// Package market maps user-supplied base symbols to exchange-canonical
// contract identifiers and owns the supported-markets catalog file.
package market

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pricesentry/internal/config"
)

// CatalogPath is the default location of the supported-markets file.
const CatalogPath = "config/supported_markets.json"

// DefaultUniverse is the watch list behind notificationSymbols:
// "default".
var DefaultUniverse = []string{"BTC", "ETH", "SOL", "BNB", "XRP", "DOGE"}

// defaultCatalog is the compiled-in fallback used when the catalog file is
// missing or corrupt. Small and stable on purpose.
var defaultCatalog = map[string][]string{
	"binance": {
		"BTC/USDT:USDT", "ETH/USDT:USDT", "BNB/USDT:USDT", "SOL/USDT:USDT",
		"XRP/USDT:USDT", "DOGE/USDT:USDT", "ADA/USDT:USDT", "AVAX/USDT:USDT",
		"LINK/USDT:USDT", "DOT/USDT:USDT", "LTC/USDT:USDT", "BCH/USDT:USDT",
	},
	"okx": {
		"BTC/USDT:USDT", "ETH/USDT:USDT", "SOL/USDT:USDT", "XRP/USDT:USDT",
		"DOGE/USDT:USDT", "ADA/USDT:USDT", "AVAX/USDT:USDT", "LINK/USDT:USDT",
		"DOT/USDT:USDT", "LTC/USDT:USDT", "BCH/USDT:USDT", "TON/USDT:USDT",
	},
	"bybit": {
		"BTC/USDT:USDT", "ETH/USDT:USDT", "SOL/USDT:USDT", "BNB/USDT:USDT",
		"XRP/USDT:USDT", "DOGE/USDT:USDT", "ADA/USDT:USDT", "AVAX/USDT:USDT",
		"LINK/USDT:USDT", "DOT/USDT:USDT", "LTC/USDT:USDT", "SUI/USDT:USDT",
	},
}

// Catalog answers symbol matching queries against the per-exchange lists
// of canonical contract identifiers. Entry order is preserved because it
// breaks matching ties.
type Catalog struct {
	mu      sync.RWMutex
	path    string
	entries map[string][]string
}

// NewCatalog wraps explicit entries, mostly for tests and refresh tooling.
func NewCatalog(path string, entries map[string][]string) *Catalog {
	copied := make(map[string][]string, len(entries))
	for exchange, symbols := range entries {
		copied[exchange] = append([]string(nil), symbols...)
	}
	return &Catalog{path: path, entries: copied}
}

// LoadCatalog reads the supported-markets file. A missing or corrupt file
// falls back to the compiled-in defaults with a logged warning; the sentry
// must be able to boot without the file.
func LoadCatalog(path string) *Catalog {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("supported markets file unavailable, using defaults")
		return NewCatalog(path, defaultCatalog)
	}

	var entries map[string][]string
	if err := json.Unmarshal(raw, &entries); err != nil || len(entries) == 0 {
		log.Warn().Err(err).Str("path", path).Msg("supported markets file corrupt, using defaults")
		return NewCatalog(path, defaultCatalog)
	}
	return NewCatalog(path, entries)
}

// Path returns the backing file path.
func (c *Catalog) Path() string { return c.path }

// Exchanges lists the exchanges present in the catalog, sorted.
func (c *Catalog) Exchanges() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for exchange := range c.entries {
		out = append(out, exchange)
	}
	sort.Strings(out)
	return out
}

// Symbols returns the canonical symbol list for an exchange in catalog
// order.
func (c *Catalog) Symbols(exchange string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.entries[exchange]...)
}

// Match resolves free-form user tokens to canonical symbols for one
// exchange. For each token it scans the exchange's list for entries whose
// base contains the token case-insensitively, keeps the entry with the
// shortest base (ties fall to the earlier catalog entry), and deduplicates
// while preserving first-match order. Tokens with no match are skipped.
func (c *Catalog) Match(userSymbols []string, exchange string) []string {
	symbols := c.Symbols(exchange)

	seen := make(map[string]bool)
	var out []string
	for _, token := range userSymbols {
		needle := strings.ToUpper(strings.TrimSpace(token))
		if needle == "" {
			continue
		}

		best := ""
		bestBase := ""
		for _, sym := range symbols {
			base := baseOf(sym)
			if !strings.Contains(strings.ToUpper(base), needle) {
				continue
			}
			if best == "" || len(base) < len(bestBase) {
				best, bestBase = sym, base
			}
		}

		if best != "" && !seen[best] {
			seen[best] = true
			out = append(out, best)
		}
	}
	return out
}

// Replace swaps the symbol list for one exchange and persists the whole
// catalog atomically. The in-memory entries are only swapped when the
// write succeeds.
func (c *Catalog) Replace(exchange string, symbols []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[string][]string, len(c.entries)+1)
	for ex, syms := range c.entries {
		next[ex] = syms
	}
	next[exchange] = append([]string(nil), symbols...)

	if err := persist(c.path, next); err != nil {
		return err
	}
	c.entries = next
	return nil
}

func persist(path string, entries map[string][]string) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create catalog dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".markets-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp catalog: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp catalog: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace catalog %s: %w", path, err)
	}
	return nil
}

// baseOf extracts the base currency from a canonical symbol
// ("BTC/USDT:USDT" -> "BTC").
func baseOf(symbol string) string {
	if i := strings.Index(symbol, "/"); i >= 0 {
		return symbol[:i]
	}
	return symbol
}

// Canonical builds the canonical contract identifier for a base currency.
func Canonical(base string) string {
	return strings.ToUpper(strings.TrimSpace(base)) + "/USDT:USDT"
}

// ScopeSymbols resolves the configured notification scope to a concrete
// watch list.
func ScopeSymbols(scope config.SymbolScope) []string {
	symbols, _ := ScopeSource(scope).Load()
	return symbols
}
