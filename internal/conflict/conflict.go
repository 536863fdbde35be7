// Package conflict finds scheduling clashes in the current event set:
// venue double-bookings, same-building congestion, and recurring-series
// timing anomalies. Detection is a pure function over the events passed in;
// nothing is persisted and every run recomputes from scratch.
package conflict

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"campusevents/internal/identity"
	"campusevents/internal/model"
)

// Detector holds the tunables for one detection pass.
type Detector struct {
	// CongestionThreshold is the same-building/day event count above which
	// a congestion conflict is reported.
	CongestionThreshold int
	// FuzzyThreshold groups events into a recurring series by title
	// similarity.
	FuzzyThreshold float64
	// DefaultDuration is assumed for events with a start but no end time.
	DefaultDuration time.Duration
}

func NewDetector(congestionThreshold int, fuzzyThreshold float64, defaultDuration time.Duration) *Detector {
	return &Detector{
		CongestionThreshold: congestionThreshold,
		FuzzyThreshold:      fuzzyThreshold,
		DefaultDuration:     defaultDuration,
	}
}

// Overlaps reports whether two half-open [start, end) intervals intersect.
// Touching boundaries (a ends exactly when b starts) do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd model.ClockTime) bool {
	return aStart < bEnd && bStart < aEnd
}

// Detect runs every check and returns conflicts in a stable order (date,
// then kind, then event keys), so repeated runs over the same input are
// byte-identical.
func (d *Detector) Detect(events []model.Event) []model.Conflict {
	var out []model.Conflict
	out = append(out, d.venueConflicts(events)...)
	out = append(out, d.buildingCongestion(events)...)
	out = append(out, d.recurringAnomalies(events)...)

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return strings.Join(out[i].Keys, "\x00") < strings.Join(out[j].Keys, "\x00")
	})
	return out
}

// venueConflicts emits venue_overlap for every intersecting timed pair
// sharing a date and venue, and ambiguous_time for untimed events
// co-located with timed ones. Untimed events are excluded from interval
// comparison since they cannot be proven to overlap.
func (d *Detector) venueConflicts(events []model.Event) []model.Conflict {
	type groupKey struct {
		date  string
		venue string
	}
	groups := make(map[groupKey][]model.Event)
	for _, ev := range events {
		if ev.Venue == "" {
			continue
		}
		k := groupKey{date: ev.DateKey(), venue: strings.ToLower(ev.Venue)}
		groups[k] = append(groups[k], ev)
	}

	var out []model.Conflict
	for _, group := range groups {
		// Key order inside the group keeps pair details (title order, venue
		// casing) independent of input order.
		sort.Slice(group, func(i, j int) bool { return group[i].Key < group[j].Key })

		var timed, untimed []model.Event
		for _, ev := range group {
			if ev.Time != nil {
				timed = append(timed, ev)
			} else {
				untimed = append(untimed, ev)
			}
		}

		for i := 0; i < len(timed); i++ {
			aStart, aEnd := timed[i].Time.Span(d.DefaultDuration)
			for j := i + 1; j < len(timed); j++ {
				bStart, bEnd := timed[j].Time.Span(d.DefaultDuration)
				if !Overlaps(aStart, aEnd, bStart, bEnd) {
					continue
				}
				out = append(out, model.Conflict{
					Kind:     model.KindVenueOverlap,
					Severity: model.SeverityHigh,
					Date:     timed[i].Date,
					Keys:     sortedKeys(timed[i].Key, timed[j].Key),
					Detail: fmt.Sprintf("%q and %q are both booked at %s",
						timed[i].Title, timed[j].Title, timed[i].Venue),
				})
			}
		}

		if len(timed) == 0 {
			continue
		}
		for _, ev := range untimed {
			keys := []string{ev.Key}
			for _, t := range timed {
				keys = append(keys, t.Key)
			}
			sort.Strings(keys)
			out = append(out, model.Conflict{
				Kind:     model.KindAmbiguousTime,
				Severity: model.SeverityLow,
				Date:     ev.Date,
				Keys:     keys,
				Detail: fmt.Sprintf("%q has no scheduled time but shares %s with timed events",
					ev.Title, ev.Venue),
			})
		}
	}
	return out
}

// buildingCongestion emits one conflict covering the whole group whenever
// the number of events sharing a date and building exceeds the threshold.
// Venue is ignored; only the derived building token matters.
func (d *Detector) buildingCongestion(events []model.Event) []model.Conflict {
	type groupKey struct {
		date     string
		building string
	}
	groups := make(map[groupKey][]model.Event)
	for _, ev := range events {
		if ev.Building == "" {
			continue
		}
		k := groupKey{date: ev.DateKey(), building: ev.Building}
		groups[k] = append(groups[k], ev)
	}

	var out []model.Conflict
	for k, group := range groups {
		if len(group) <= d.CongestionThreshold {
			continue
		}
		keys := make([]string, len(group))
		for i, ev := range group {
			keys[i] = ev.Key
		}
		sort.Strings(keys)
		out = append(out, model.Conflict{
			Kind:     model.KindBuildingCongestion,
			Severity: model.SeverityMedium,
			Date:     group[0].Date,
			Keys:     keys,
			Detail:   fmt.Sprintf("%d events scheduled in %s on %s", len(group), k.building, k.date),
		})
	}
	return out
}

// recurringAnomalies groups events into series by fuzzy title similarity
// and checks each series' cadence: the modal gap in days between
// consecutive occurrences. A pair whose gap is not a multiple of the modal
// gap (within one day of tolerance) is flagged. Cadence needs at least two
// gaps to be inferable.
func (d *Detector) recurringAnomalies(events []model.Event) []model.Conflict {
	sorted := make([]model.Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].Key < sorted[j].Key
	})

	var series [][]model.Event
	for _, ev := range sorted {
		placed := false
		for i := range series {
			if identity.Similarity(ev.Title, series[i][0].Title) >= d.FuzzyThreshold {
				series[i] = append(series[i], ev)
				placed = true
				break
			}
		}
		if !placed {
			series = append(series, []model.Event{ev})
		}
	}

	var out []model.Conflict
	for _, s := range series {
		if len(s) < 3 {
			continue
		}
		gaps := make([]int, 0, len(s)-1)
		for i := 1; i < len(s); i++ {
			gaps = append(gaps, daysBetween(s[i-1].Date, s[i].Date))
		}
		modal := modalGap(gaps)
		if modal <= 0 {
			continue
		}
		for i := 1; i < len(s); i++ {
			gap := gaps[i-1]
			if cadenceHolds(gap, modal) {
				continue
			}
			out = append(out, model.Conflict{
				Kind:     model.KindRecurringAnomaly,
				Severity: model.SeverityLow,
				Date:     s[i-1].Date,
				Keys:     sortedKeys(s[i-1].Key, s[i].Key),
				Detail: fmt.Sprintf("series %q runs every %d days but this pair is %d days apart",
					s[0].Title, modal, gap),
			})
		}
	}
	return out
}

// cadenceHolds reports whether gap is within one day of some positive
// multiple of the modal gap.
func cadenceHolds(gap, modal int) bool {
	if gap <= 0 {
		return false
	}
	k := (gap + modal/2) / modal
	if k < 1 {
		k = 1
	}
	diff := gap - k*modal
	if diff < 0 {
		diff = -diff
	}
	return diff <= 1
}

// modalGap is the most frequent positive gap; ties resolve to the smallest.
func modalGap(gaps []int) int {
	counts := make(map[int]int)
	for _, g := range gaps {
		if g > 0 {
			counts[g]++
		}
	}
	best, bestCount := 0, 0
	for g, c := range counts {
		if c > bestCount || (c == bestCount && (best == 0 || g < best)) {
			best, bestCount = g, c
		}
	}
	return best
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

func sortedKeys(a, b string) []string {
	if a < b {
		return []string{a, b}
	}
	return []string{b, a}
}
