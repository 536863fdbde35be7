// Package normalize turns raw feed field text into the structured record
// consumed by validation and identity resolution.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"campusevents/internal/model"
)

// Reasons reported by Error.
const (
	ReasonInvalidDate  = "invalid_date"
	ReasonMissingTitle = "missing_title"
	ReasonMissingLink  = "missing_link"
)

// Error reports a malformed required field. It is per-record and never
// fatal to a batch.
type Error struct {
	Reason string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return "normalize: " + e.Reason
	}
	return fmt.Sprintf("normalize: %s (%s)", e.Reason, e.Detail)
}

// Record is the ephemeral normalized form of one raw record. It is consumed
// by the validator and identity resolver within a single ingestion pass and
// never persisted on its own.
type Record struct {
	Key         string
	Title       string
	Date        time.Time
	Time        *model.TimeRange
	Venue       string
	Building    string
	Description string
	Link        string
}

// Normalizer canonicalizes raw field values. Building derivation is driven
// by the configured prefix list and keyword table.
type Normalizer struct {
	prefixes []string
	keywords map[string]string
}

func New(prefixes []string, keywords map[string]string) *Normalizer {
	return &Normalizer{prefixes: prefixes, keywords: keywords}
}

// dateLayouts are the accepted source date formats, canonical form first.
var dateLayouts = []string{
	model.DateLayout,
	"01/02/2006",
	"1/2/2006",
	"02-01-2006",
	"2-1-2006",
	"2006/01/02",
}

// clockLayouts are the accepted time-of-day formats.
var clockLayouts = []string{
	"15:04",
	"3:04 PM",
	"3:04PM",
	"3 PM",
	"3PM",
}

// Normalize cleans one raw record. Unparseable or missing dates and empty
// titles fail; unparseable time text is treated as "no time specified" and
// produces a nil range, never an empty string.
func (n *Normalizer) Normalize(raw model.RawRecord) (Record, error) {
	title := collapseSpace(raw.Title)
	if title == "" {
		return Record{}, &Error{Reason: ReasonMissingTitle}
	}

	link := strings.TrimSpace(raw.Link)
	if link == "" {
		return Record{}, &Error{Reason: ReasonMissingLink}
	}

	date, err := parseDate(raw.DateText)
	if err != nil {
		return Record{}, &Error{Reason: ReasonInvalidDate, Detail: strings.TrimSpace(raw.DateText)}
	}

	venue := collapseSpace(raw.VenueText)

	return Record{
		Key:         link,
		Title:       title,
		Date:        date,
		Time:        parseTimeRange(raw.TimeText),
		Venue:       venue,
		Building:    n.deriveBuilding(venue),
		Description: collapseSpace(raw.Description),
		Link:        link,
	}, nil
}

// Event materializes the record as a repository event.
func (r Record) Event(now time.Time) model.Event {
	return model.Event{
		Key:         r.Key,
		Title:       r.Title,
		Date:        r.Date,
		Time:        r.Time,
		Venue:       r.Venue,
		Building:    r.Building,
		Description: r.Description,
		Link:        r.Link,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// parseTimeRange parses "15:04", "3:04 PM" or "15:04 - 16:00" style text.
// Anything unparseable means "no time specified" and yields nil.
func parseTimeRange(s string) *model.TimeRange {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	parts := strings.SplitN(s, "-", 2)
	start, ok := parseClock(parts[0])
	if !ok {
		return nil
	}

	r := &model.TimeRange{Start: start}
	if len(parts) == 2 {
		if end, ok := parseClock(parts[1]); ok {
			r.End = end
			r.EndKnown = true
		}
	}
	return r
}

func parseClock(s string) (model.ClockTime, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return model.NewClockTime(t.Hour(), t.Minute()), true
		}
	}
	return 0, false
}

// deriveBuilding maps a venue string to a coarse building token. The first
// comma-delimited segment wins when it carries a configured prefix
// ("Bldg 10, Room 203" -> "Bldg 10"); otherwise the keyword table is
// consulted. No match yields the empty token.
func (n *Normalizer) deriveBuilding(venue string) string {
	if venue == "" {
		return ""
	}

	segment := venue
	if i := strings.Index(venue, ","); i >= 0 {
		segment = strings.TrimSpace(venue[:i])
	}
	for _, prefix := range n.prefixes {
		if hasWordPrefix(segment, prefix) {
			return segment
		}
	}

	lower := strings.ToLower(venue)
	for keyword, building := range n.keywords {
		if keyword != "" && strings.Contains(lower, strings.ToLower(keyword)) {
			return building
		}
	}
	return ""
}

// hasWordPrefix reports whether s starts with prefix as a whole word,
// case-insensitively ("Bldg 10" matches "Bldg"; "Bldgx" does not).
func hasWordPrefix(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	if !strings.EqualFold(s[:len(prefix)], prefix) {
		return false
	}
	return len(s) == len(prefix) || s[len(prefix)] == ' '
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
