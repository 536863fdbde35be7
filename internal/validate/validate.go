// Package validate applies field-level acceptance rules to a normalized
// record. All rules are evaluated independently; errors are collected, not
// short-circuited, and partitioned into blocking and non-blocking.
package validate

import (
	"fmt"
	"net/url"
	"time"

	"campusevents/internal/normalize"
)

// Reasons reported by FieldError.
const (
	ReasonTooLong      = "too_long"
	ReasonDateTooOld   = "date_too_old"
	ReasonInvalidRange = "invalid_range"
	ReasonMissingVenue = "missing_venue"
	ReasonInvalidLink  = "invalid_link"
)

// FieldError is one policy violation. Non-blocking errors are recorded for
// reporting but do not prevent persistence.
type FieldError struct {
	Field    string
	Reason   string
	Blocking bool
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Result is the verdict for one record. OK is true iff no blocking error
// was found.
type Result struct {
	Errors []FieldError
}

func (r Result) OK() bool {
	for _, e := range r.Errors {
		if e.Blocking {
			return false
		}
	}
	return true
}

// Blocking returns only the blocking subset of errors.
func (r Result) Blocking() []FieldError {
	var out []FieldError
	for _, e := range r.Errors {
		if e.Blocking {
			out = append(out, e)
		}
	}
	return out
}

// Warnings returns only the non-blocking subset of errors.
func (r Result) Warnings() []FieldError {
	var out []FieldError
	for _, e := range r.Errors {
		if !e.Blocking {
			out = append(out, e)
		}
	}
	return out
}

// Validator holds the configured policy bounds.
type Validator struct {
	titleMaxLen int
	minDate     time.Time
}

// New returns a validator that rejects titles longer than titleMaxLen and
// dates earlier than minDate (the retention horizon).
func New(titleMaxLen int, minDate time.Time) *Validator {
	return &Validator{titleMaxLen: titleMaxLen, minDate: minDate}
}

// Validate evaluates every rule against the record.
func (v *Validator) Validate(rec normalize.Record) Result {
	var res Result

	if len([]rune(rec.Title)) > v.titleMaxLen {
		res.Errors = append(res.Errors, FieldError{Field: "title", Reason: ReasonTooLong, Blocking: true})
	}

	if rec.Date.Before(v.minDate) {
		res.Errors = append(res.Errors, FieldError{Field: "date", Reason: ReasonDateTooOld, Blocking: true})
	}

	if rec.Time != nil && rec.Time.EndKnown && rec.Time.Start >= rec.Time.End {
		res.Errors = append(res.Errors, FieldError{Field: "time", Reason: ReasonInvalidRange, Blocking: true})
	}

	if rec.Venue == "" {
		res.Errors = append(res.Errors, FieldError{Field: "venue", Reason: ReasonMissingVenue, Blocking: false})
	}

	if !validAbsoluteLink(rec.Link) {
		res.Errors = append(res.Errors, FieldError{Field: "link", Reason: ReasonInvalidLink, Blocking: true})
	}

	return res
}

func validAbsoluteLink(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
