package market

import "github.com/sawpanic/pricesentry/internal/config"

// SymbolSource yields the user's watch list of base symbols. File-backed
// loading lives outside the core; the sentry only depends on this
// contract.
type SymbolSource interface {
	Load() ([]string, error)
}

// StaticSource is a fixed watch list, typically resolved from the
// notification scope in the configuration.
type StaticSource []string

// Load returns a copy of the list.
func (s StaticSource) Load() ([]string, error) {
	return append([]string(nil), s...), nil
}

// ScopeSource resolves the configured notification scope to its watch
// list source. The literal "default" selects the built-in universe.
func ScopeSource(scope config.SymbolScope) SymbolSource {
	if scope.Default {
		return StaticSource(DefaultUniverse)
	}
	return StaticSource(scope.Symbols)
}
