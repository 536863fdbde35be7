// Package recommend searches the standard time grid for alternative slots
// and composes one recommendation per event from the detector's output.
package recommend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"campusevents/internal/conflict"
	appLog "campusevents/internal/log"
	"campusevents/internal/model"
)

// NoAlternativeAvailable is recorded when a conflicted event has no free
// slot on its date.
const NoAlternativeAvailable = "no_alternative_available"

// Actions by severity.
const (
	ActionHigh   = "reschedule or relocate"
	ActionMedium = "review building load"
	ActionLow    = "monitor - informational"
	ActionNone   = "no action needed"
)

// Recommender searches a fixed grid of hourly blocks for non-conflicting
// alternative placements.
type Recommender struct {
	// GridStartHour / GridEndHour bound the hourly grid (e.g. 8 and 19
	// yield blocks 08:00-09:00 through 18:00-19:00).
	GridStartHour int
	GridEndHour   int
	// DefaultDuration is assumed when an event has no end time or no time
	// at all.
	DefaultDuration time.Duration
	// MaxSuggestions caps the returned candidates.
	MaxSuggestions int
}

func NewRecommender(gridStartHour, gridEndHour int, defaultDuration time.Duration, maxSuggestions int) *Recommender {
	return &Recommender{
		GridStartHour:   gridStartHour,
		GridEndHour:     gridEndHour,
		DefaultDuration: defaultDuration,
		MaxSuggestions:  maxSuggestions,
	}
}

// Suggest returns up to MaxSuggestions grid blocks on the event's date
// where placing the event's duration would not overlap any other event at
// the same venue. Candidates are ordered by proximity to the event's
// original start time; events with no time get the earliest blocks first.
func (r *Recommender) Suggest(event model.Event, all []model.Event) []model.TimeBlock {
	duration := model.ClockTime(r.DefaultDuration.Minutes())
	if event.Time != nil {
		s, e := event.Time.Span(r.DefaultDuration)
		duration = e - s
	}

	// Book map of every other timed event at this venue on this date.
	type booking struct{ start, end model.ClockTime }
	var booked []booking
	for _, other := range all {
		if other.Key == event.Key || other.Time == nil {
			continue
		}
		if other.DateKey() != event.DateKey() ||
			!strings.EqualFold(other.Venue, event.Venue) {
			continue
		}
		s, e := other.Time.Span(r.DefaultDuration)
		booked = append(booked, booking{start: s, end: e})
	}

	var free []model.TimeBlock
	for hour := r.GridStartHour; hour < r.GridEndHour; hour++ {
		start := model.NewClockTime(hour, 0)
		end := start + duration
		available := true
		for _, b := range booked {
			if conflict.Overlaps(start, end, b.start, b.end) {
				available = false
				break
			}
		}
		if available {
			free = append(free, model.TimeBlock{Start: start, End: model.NewClockTime(hour+1, 0)})
		}
	}

	if event.Time != nil {
		orig := event.Time.Start
		sort.SliceStable(free, func(i, j int) bool {
			di, dj := distance(free[i].Start, orig), distance(free[j].Start, orig)
			if di != dj {
				return di < dj
			}
			return free[i].Start < free[j].Start
		})
	}

	if len(free) > r.MaxSuggestions {
		free = free[:r.MaxSuggestions]
	}
	return free
}

func distance(a, b model.ClockTime) model.ClockTime {
	if a > b {
		return a - b
	}
	return b - a
}

// Sink persists recommendations, replacing any prior one per event key.
type Sink interface {
	UpsertRecommendation(ctx context.Context, rec model.Recommendation) error
}

// Generator assigns a severity and composes one recommendation per event.
type Generator struct {
	recommender *Recommender
	sink        Sink
	now         func() time.Time
}

func NewGenerator(r *Recommender, sink Sink) *Generator {
	return &Generator{recommender: r, sink: sink, now: time.Now}
}

// Generate produces exactly one recommendation per event, including events
// with no conflicts (severity none, empty suggestions), and persists each
// by replacement. Re-runs over the same event set produce the same stored
// state. A persistence failure aborts the run; already-written events keep
// their complete new recommendation, the rest keep their prior one.
func (g *Generator) Generate(ctx context.Context, events []model.Event, conflicts []model.Conflict) ([]model.Recommendation, error) {
	bySeverity := make(map[string]model.Severity, len(events))
	kinds := make(map[string][]string)
	for _, c := range conflicts {
		for _, key := range c.Keys {
			if c.Severity > bySeverity[key] {
				bySeverity[key] = c.Severity
			}
			kinds[key] = appendUnique(kinds[key], string(c.Kind))
		}
	}

	ordered := make([]model.Event, len(events))
	copy(ordered, events)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Key < ordered[j].Key })

	out := make([]model.Recommendation, 0, len(ordered))
	for _, ev := range ordered {
		severity := bySeverity[ev.Key]
		rec := model.Recommendation{
			EventKey:    ev.Key,
			Severity:    severity,
			Action:      actionFor(severity),
			GeneratedAt: g.now(),
		}

		if severity > model.SeverityNone {
			rec.Detail = strings.Join(kinds[ev.Key], ", ")
			rec.Alternative = g.recommender.Suggest(ev, events)
			if len(rec.Alternative) == 0 {
				rec.Detail = rec.Detail + "; " + NoAlternativeAvailable
			}
		}

		if err := g.sink.UpsertRecommendation(ctx, rec); err != nil {
			return out, fmt.Errorf("recommend: persist for %s: %w", ev.Key, err)
		}
		out = append(out, rec)
	}

	appLog.Info("recommendations generated", "events", len(ordered), "conflicts", len(conflicts))
	return out, nil
}

func actionFor(s model.Severity) string {
	switch s {
	case model.SeverityHigh:
		return ActionHigh
	case model.SeverityMedium:
		return ActionMedium
	case model.SeverityLow:
		return ActionLow
	default:
		return ActionNone
	}
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
