package config

import (
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Diff describes what changed between two configuration snapshots.
// ChangedKeys holds sorted dotted paths ("telegram.chatId",
// "priorityThresholds.high"). The reload flags tell the supervisor whether
// the running adapter must be rebuilt.
type Diff struct {
	ChangedKeys            []string `json:"changed_keys"`
	RequiresExchangeReload bool     `json:"requires_exchange_reload"`
	RequiresSymbolReload   bool     `json:"requires_symbol_reload"`
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool { return len(d.ChangedKeys) == 0 }

// Contains reports whether the dotted path is among the changed keys.
func (d Diff) Contains(key string) bool {
	for _, k := range d.ChangedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// ComputeDiff compares two snapshots by their serialized form and returns
// the dotted paths that differ plus the derived reload flags.
func ComputeDiff(previous, next Config) Diff {
	changed := make(map[string]bool)
	diffValues("", toTree(previous), toTree(next), changed)

	keys := make([]string, 0, len(changed))
	for k := range changed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := Diff{ChangedKeys: keys}
	for _, k := range keys {
		if k == "exchange" {
			d.RequiresExchangeReload = true
			d.RequiresSymbolReload = true
		}
		if k == "symbolsFilePath" || k == "notificationSymbols" || strings.HasPrefix(k, "notificationSymbols.") {
			d.RequiresSymbolReload = true
		}
	}
	return d
}

// toTree round-trips a Config through YAML so both sides of the comparison
// share one representation.
func toTree(cfg Config) map[string]any {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil
	}
	return tree
}

func diffValues(prefix string, prev, next any, changed map[string]bool) {
	prevMap, prevOK := asMap(prev)
	nextMap, nextOK := asMap(next)
	if prevOK && nextOK {
		for key := range union(prevMap, nextMap) {
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}
			diffValues(path, prevMap[key], nextMap[key], changed)
		}
		return
	}
	if !reflect.DeepEqual(prev, next) {
		changed[prefix] = true
	}
}

func union(a, b map[string]any) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}
