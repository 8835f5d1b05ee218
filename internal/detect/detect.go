// Package detect computes percent price movements over a lookback
// window and composes the periodic alert message.
package detect

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pricesentry/internal/alert"
	"github.com/sawpanic/pricesentry/internal/telemetry"
)

// TopN caps the number of movers carried by one alert message.
const TopN = 6

// DefaultTimezone localizes the message timestamp when the config leaves
// notificationTimezone empty.
const DefaultTimezone = "Asia/Shanghai"

// PriceSource is the slice of the exchange adapter the detector reads.
type PriceSource interface {
	Name() string
	Current(ctx context.Context, symbols []string) map[string]float64
	Historical(ctx context.Context, symbols []string, minutes float64) map[string]float64
}

// Params is one detection pass. Allowed nil means no restriction; an
// empty non-nil Allowed admits nothing.
type Params struct {
	Minutes   float64
	Symbols   []string
	Threshold float64
	Allowed   []string

	Timezone        string
	MediumThreshold float64
	HighThreshold   float64

	CooldownSeconds    float64
	BypassHighCooldown bool
}

// Mover is one symbol whose movement cleared the threshold and the gate.
type Mover struct {
	Symbol    string
	Current   float64
	Reference float64
	Pct       float64
	Priority  alert.Priority
}

// Result is a positive detection: the composed message plus the per-mover
// alert records, ordered by |pct| descending.
type Result struct {
	Message   string
	Movers    []Mover
	Records   []alert.Record
	Timestamp time.Time
}

// Detector runs movement checks against one price source. The cooldown
// gate is optional; when present it filters movers but is never marked
// here, the caller records a symbol only after a successful send.
type Detector struct {
	source   PriceSource
	cooldown *alert.Cooldown
	metrics  *telemetry.Metrics

	now func() time.Time
}

func New(source PriceSource, cooldown *alert.Cooldown, metrics *telemetry.Metrics) *Detector {
	return &Detector{
		source:   source,
		cooldown: cooldown,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Detect runs one pass. A nil Result with a nil error means no movement
// cleared the threshold.
func (d *Detector) Detect(ctx context.Context, p Params) (*Result, error) {
	started := d.now()
	defer func() {
		if d.metrics != nil {
			d.metrics.DetectorDuration.Observe(d.now().Sub(started).Seconds())
		}
	}()

	if len(p.Symbols) == 0 {
		return nil, nil
	}

	reference := d.source.Historical(ctx, p.Symbols, p.Minutes)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	current := d.source.Current(ctx, p.Symbols)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var allowed map[string]struct{}
	if p.Allowed != nil {
		allowed = make(map[string]struct{}, len(p.Allowed))
		for _, sym := range p.Allowed {
			allowed[sym] = struct{}{}
		}
	}

	movers := make([]Mover, 0, len(p.Symbols))
	for _, sym := range p.Symbols {
		ref, okRef := reference[sym]
		cur, okCur := current[sym]
		if !okRef || !okCur || ref == 0 {
			continue
		}
		pct := (cur - ref) / ref * 100
		if math.Abs(pct) <= p.Threshold {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[sym]; !ok {
				continue
			}
		}
		priority := alert.Classify(math.Abs(pct), p.MediumThreshold, p.HighThreshold)
		if d.cooldown != nil && !d.cooldown.ShouldNotify(sym, priority, p.CooldownSeconds, p.BypassHighCooldown) {
			log.Debug().Str("symbol", sym).Str("priority", priority.String()).Msg("mover suppressed by cooldown")
			continue
		}
		movers = append(movers, Mover{
			Symbol:    sym,
			Current:   cur,
			Reference: ref,
			Pct:       pct,
			Priority:  priority,
		})
	}

	if len(movers) == 0 {
		return nil, nil
	}

	sort.Slice(movers, func(i, j int) bool {
		ai, aj := math.Abs(movers[i].Pct), math.Abs(movers[j].Pct)
		if ai != aj {
			return ai > aj
		}
		return movers[i].Symbol < movers[j].Symbol
	})
	if len(movers) > TopN {
		movers = movers[:TopN]
	}

	ts := d.now()
	result := &Result{
		Movers:    movers,
		Timestamp: ts,
		Message:   d.compose(p, movers, len(current), ts),
	}
	for i, m := range movers {
		result.Records = append(result.Records, alert.Record{
			Symbol:        m.Symbol,
			Message:       moverLine(i+1, m),
			Severity:      alert.SeverityFor(m.Priority),
			Price:         m.Current,
			ChangePercent: m.Pct,
			Threshold:     p.Threshold,
			Minutes:       p.Minutes,
			Timestamp:     ts,
		})
	}
	return result, nil
}

// compose renders the alert text: header, localized timestamp, scope
// counts, one line per mover.
func (d *Detector) compose(p Params, movers []Mover, priced int, ts time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 %s price movers (%s window)\n", d.source.Name(), formatWindow(p.Minutes))
	fmt.Fprintf(&b, "%s\n", ts.In(location(p.Timezone)).Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "checked %d symbols, %d priced, %d over %.2f%%\n",
		len(p.Symbols), priced, len(movers), p.Threshold)
	for i, m := range movers {
		b.WriteString(moverLine(i+1, m))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func moverLine(rank int, m Mover) string {
	return fmt.Sprintf("%s %d. %s — %s %.2f%% — diff %+.4f (%.4f → %.4f)",
		priorityColor(m.Priority), rank, m.Symbol, directionArrow(m.Pct),
		math.Abs(m.Pct), m.Pct, m.Reference, m.Current)
}

func priorityColor(p alert.Priority) string {
	switch p {
	case alert.PriorityHigh:
		return "🔴"
	case alert.PriorityMedium:
		return "🟠"
	default:
		return "🟡"
	}
}

func directionArrow(pct float64) string {
	if pct >= 0 {
		return "📈"
	}
	return "📉"
}

func formatWindow(minutes float64) string {
	if minutes >= 60 && math.Mod(minutes, 60) == 0 {
		return fmt.Sprintf("%.0fh", minutes/60)
	}
	return fmt.Sprintf("%.0fm", minutes)
}

func location(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Warn().Str("timezone", name).Err(err).Msg("unknown timezone, using UTC")
		return time.UTC
	}
	return loc
}
