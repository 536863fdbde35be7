package model

import (
	"fmt"
	"time"
)

// DateLayout is the canonical civil-date format used throughout the
// pipeline (storage, grouping keys, reports).
const DateLayout = "2006-01-02"

// ClockTime is a time of day expressed as minutes since midnight.
type ClockTime int

func NewClockTime(hour, minute int) ClockTime {
	return ClockTime(hour*60 + minute)
}

func (c ClockTime) Hour() int   { return int(c) / 60 }
func (c ClockTime) Minute() int { return int(c) % 60 }

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// TimeRange is the scheduled start/end of an event within its date.
// End may be absent in the source text; EndKnown records whether End was
// parsed or must be derived from a default duration downstream.
type TimeRange struct {
	Start    ClockTime
	End      ClockTime
	EndKnown bool
}

// Span returns the half-open [start, end) interval for the range, filling
// in def as the duration when the source gave no end time.
func (r TimeRange) Span(def time.Duration) (ClockTime, ClockTime) {
	if r.EndKnown {
		return r.Start, r.End
	}
	return r.Start, r.Start + ClockTime(def.Minutes())
}

func (r TimeRange) String() string {
	if r.EndKnown {
		return r.Start.String() + " - " + r.End.String()
	}
	return r.Start.String()
}

// RawRecord is one event as delivered by the external feed, before any
// normalization.
type RawRecord struct {
	Title       string
	DateText    string
	TimeText    string
	VenueText   string
	Description string
	Link        string
}

// Event is one stored occurrence. Key is the canonicalized source link and
// is unique across the repository. Time is nil when the source specified no
// time; absence is always this explicit nil, never an empty string.
type Event struct {
	Key         string
	Title       string
	Date        time.Time // midnight UTC, date component only
	Time        *TimeRange
	Venue       string
	Building    string // derived coarse location token, "" when unmapped
	Description string
	Link        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DateKey returns the canonical grouping key for the event's date.
func (e Event) DateKey() string { return e.Date.Format(DateLayout) }

// Severity is the ordinal urgency of a conflict or recommendation.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "none"
	}
}

// ParseSeverity maps a stored severity label back to its ordinal value.
func ParseSeverity(s string) Severity {
	switch s {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	default:
		return SeverityNone
	}
}

// ConflictKind identifies the category of a detected conflict.
type ConflictKind string

const (
	KindVenueOverlap       ConflictKind = "venue_overlap"
	KindAmbiguousTime      ConflictKind = "ambiguous_time"
	KindBuildingCongestion ConflictKind = "building_congestion"
	KindRecurringAnomaly   ConflictKind = "recurring_anomaly"
)

// Conflict relates two or more events that clash. Conflicts are recomputed
// on every detection run and never persisted.
type Conflict struct {
	Kind     ConflictKind
	Severity Severity
	Date     time.Time
	Keys     []string // sorted event keys
	Detail   string
}

// TimeBlock is one unit of the fixed hourly scheduling grid offered as an
// alternative slot.
type TimeBlock struct {
	Start ClockTime
	End   ClockTime
}

func (b TimeBlock) String() string {
	return b.Start.String() + " - " + b.End.String()
}

// Recommendation is the per-event outcome of a detection run. Exactly one
// exists per event key; regenerating replaces the prior row.
type Recommendation struct {
	EventKey    string
	Severity    Severity
	Action      string
	Detail      string
	Alternative []TimeBlock
	GeneratedAt time.Time
}
