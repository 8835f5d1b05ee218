package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// SymbolScope is the alert scope filter. It is either the literal
// "default" (resolved to the built-in universe by the market catalog) or an
// explicit list of base symbols.
type SymbolScope struct {
	Default bool
	Symbols []string
}

// ScopeDefault is the SymbolScope selecting the built-in universe.
func ScopeDefault() SymbolScope { return SymbolScope{Default: true} }

// ScopeList builds an explicit SymbolScope from base symbols.
func ScopeList(symbols ...string) SymbolScope {
	return SymbolScope{Symbols: append([]string(nil), symbols...)}
}

// IsZero reports whether the scope was never set. Validation rejects a
// zero scope because notificationSymbols is required.
func (s SymbolScope) IsZero() bool {
	return !s.Default && len(s.Symbols) == 0
}

func (s SymbolScope) clone() SymbolScope {
	out := s
	if s.Symbols != nil {
		out.Symbols = append([]string(nil), s.Symbols...)
	}
	return out
}

// Equal compares two scopes element-wise.
func (s SymbolScope) Equal(o SymbolScope) bool {
	if s.Default != o.Default || len(s.Symbols) != len(o.Symbols) {
		return false
	}
	for i := range s.Symbols {
		if s.Symbols[i] != o.Symbols[i] {
			return false
		}
	}
	return true
}

func (s SymbolScope) String() string {
	if s.Default {
		return "default"
	}
	return strings.Join(s.Symbols, ",")
}

// UnmarshalYAML accepts the literal "default", a sequence of symbols, or a
// comma-joined scalar list.
func (s *SymbolScope) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		scoped, err := scopeFromString(value.Value)
		if err != nil {
			return err
		}
		*s = scoped
		return nil
	case yaml.SequenceNode:
		var symbols []string
		if err := value.Decode(&symbols); err != nil {
			return fmt.Errorf("notificationSymbols: %w", err)
		}
		*s = SymbolScope{Symbols: symbols}
		return nil
	default:
		return fmt.Errorf("notificationSymbols: expected \"default\" or a list")
	}
}

// MarshalYAML renders the scope back in the form it was configured in.
func (s SymbolScope) MarshalYAML() (interface{}, error) {
	if s.Default {
		return "default", nil
	}
	return s.Symbols, nil
}

func scopeFromString(raw string) (SymbolScope, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.EqualFold(trimmed, "default") {
		return SymbolScope{Default: true}, nil
	}
	if trimmed == "" {
		return SymbolScope{}, fmt.Errorf("notificationSymbols: empty value")
	}
	parts := strings.Split(trimmed, ",")
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		if sym := strings.TrimSpace(p); sym != "" {
			symbols = append(symbols, sym)
		}
	}
	if len(symbols) == 0 {
		return SymbolScope{}, fmt.Errorf("notificationSymbols: empty value")
	}
	return SymbolScope{Symbols: symbols}, nil
}
