package feed

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "campusevents/internal/log"
	"campusevents/internal/model"
)

const maxOccurrencesPerEvent = 1000

// parsedEvent is the intermediate form of a VEVENT before recurrence
// expansion into raw records.
type parsedEvent struct {
	uid         string
	summary     string
	description string
	location    string
	link        string
	start       time.Time
	end         time.Time
	allDay      bool
	rawRRule    string
	exDates     []time.Time
}

// Window bounds the occurrences a feed contributes to one ingestion run.
type Window struct {
	Start time.Time
	End   time.Time
}

// Records parses an ICS payload and converts its events into raw records
// within the window, expanding RRULE recurrences into one record per
// occurrence. Per-event parse failures are logged and skipped; the rest of
// the payload still converts.
func Records(src Source, body []byte, window Window) ([]model.RawRecord, error) {
	if len(body) == 0 {
		return nil, errors.New("empty feed body")
	}
	if window.End.Before(window.Start) {
		return nil, errors.New("feed window end is before start")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("feed parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	var records []model.RawRecord
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("feed vevent parse failed", perr, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		records = append(records, expand(ev, window)...)
	}

	appLog.Info("feed parse completed", "id", src.ID, "url", redactURL(src.URL), "record_count", len(records))
	return records, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (parsedEvent, error) {
	var out parsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.uid = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyUrl); p != nil {
		out.link = p.Value
	}
	if out.link == "" {
		// No URL property: derive a stable per-event link from the source.
		out.link = src.URL + "#" + out.uid
	}

	start, _ := ve.GetStartAt()
	end, _ := ve.GetEndAt()
	out.start = start
	out.end = end

	// Detect all-day: VALUE=DATE or no 'T' in the DTSTART value.
	if dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart); dtStartProp != nil {
		if params := dtStartProp.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				out.allDay = true
			}
		}
		if !strings.Contains(dtStartProp.Value, "T") {
			out.allDay = true
		}
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.rawRRule = rruleProp.Value
	}

	// EXDATE (can appear multiple times, comma-separated values).
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				out.exDates = append(out.exDates, t)
			}
		}
	}

	return out, nil
}

// expand converts one parsed event into raw records for every occurrence
// inside the window. Non-recurring events yield at most one record.
func expand(ev parsedEvent, window Window) []model.RawRecord {
	if ev.rawRRule == "" {
		if ev.start.Before(window.Start) || ev.start.After(window.End) {
			return nil
		}
		return []model.RawRecord{record(ev, ev.start, ev.end, false)}
	}

	r, err := rrule.StrToRRule(ev.rawRRule)
	if err != nil {
		appLog.Error("feed: failed to parse RRULE", err, "uid", ev.uid, "rrule", ev.rawRRule)
		return nil
	}
	r.DTStart(ev.start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.exDates {
		// Best effort: align EXDATE location with event's start.
		set.ExDate(ex.In(ev.start.Location()))
	}

	occTimes := set.Between(window.Start.In(ev.start.Location()), window.End.In(ev.start.Location()), true)
	if len(occTimes) > maxOccurrencesPerEvent {
		occTimes = occTimes[:maxOccurrencesPerEvent]
		appLog.Warn("feed: truncated recurrence expansion", "uid", ev.uid, "cap", maxOccurrencesPerEvent)
	}

	dur := ev.end.Sub(ev.start)
	out := make([]model.RawRecord, 0, len(occTimes))
	for _, occStart := range occTimes {
		out = append(out, record(ev, occStart, occStart.Add(dur), true))
	}
	return out
}

// record converts one occurrence into the raw field shape the ingestion
// pipeline consumes. All-day events get empty time text, which the
// normalizer treats as "no time specified".
func record(ev parsedEvent, start, end time.Time, occurrence bool) model.RawRecord {
	rec := model.RawRecord{
		Title:       ev.summary,
		DateText:    start.Format(model.DateLayout),
		VenueText:   ev.location,
		Description: ev.description,
		Link:        ev.link,
	}

	if !ev.allDay {
		if end.After(start) {
			rec.TimeText = fmt.Sprintf("%s - %s", start.Format("15:04"), end.Format("15:04"))
		} else {
			rec.TimeText = start.Format("15:04")
		}
	}

	if occurrence {
		// Each expanded occurrence needs its own external key.
		rec.Link = ev.link + "@" + start.Format(model.DateLayout)
	}
	return rec
}

// parseICSTime parses a basic ICS date/date-time string into time.Time.
// Used for EXDATE values where full parameter context is unavailable.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		const layout = "20060102T150405Z"
		return time.Parse(layout, v)
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		const layout = "20060102T150405"
		return time.ParseInLocation(layout, v, time.Local)
	}

	// Date-only (all-day), e.g., 20250101
	const layoutDate = "20060102"
	return time.ParseInLocation(layoutDate, v, time.Local)
}
