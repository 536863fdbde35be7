package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusevents/internal/model"
	"campusevents/internal/normalize"
)

func day(s string) time.Time {
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func validRecord() normalize.Record {
	return normalize.Record{
		Key:   "https://example.edu/events/1",
		Title: "Fall Career Fair",
		Date:  day("2025-10-15"),
		Venue: "Main Hall",
		Link:  "https://example.edu/events/1",
	}
}

func testValidator() *Validator {
	return New(200, day("2025-01-01"))
}

func TestValidateCleanRecord(t *testing.T) {
	res := testValidator().Validate(validRecord())
	assert.True(t, res.OK())
	assert.Empty(t, res.Errors)
}

func TestValidateTitleTooLong(t *testing.T) {
	rec := validRecord()
	rec.Title = strings.Repeat("x", 201)

	res := testValidator().Validate(rec)
	assert.False(t, res.OK())
	require.Len(t, res.Blocking(), 1)
	assert.Equal(t, ReasonTooLong, res.Blocking()[0].Reason)
}

func TestValidateDateBeforeHorizon(t *testing.T) {
	rec := validRecord()
	rec.Date = day("2024-12-31")

	res := testValidator().Validate(rec)
	assert.False(t, res.OK())
	require.Len(t, res.Blocking(), 1)
	assert.Equal(t, ReasonDateTooOld, res.Blocking()[0].Reason)
}

func TestValidateInvalidRange(t *testing.T) {
	rec := validRecord()
	rec.Time = &model.TimeRange{
		Start:    model.NewClockTime(11, 0),
		End:      model.NewClockTime(10, 0),
		EndKnown: true,
	}

	res := testValidator().Validate(rec)
	assert.False(t, res.OK())
	require.Len(t, res.Blocking(), 1)
	assert.Equal(t, ReasonInvalidRange, res.Blocking()[0].Reason)
}

func TestValidateRangeWithoutEndIsFine(t *testing.T) {
	rec := validRecord()
	rec.Time = &model.TimeRange{Start: model.NewClockTime(11, 0)}

	assert.True(t, testValidator().Validate(rec).OK())
}

func TestValidateMissingVenueIsWarning(t *testing.T) {
	rec := validRecord()
	rec.Venue = ""

	res := testValidator().Validate(rec)
	assert.True(t, res.OK(), "missing venue must not block insertion")
	require.Len(t, res.Warnings(), 1)
	assert.Equal(t, ReasonMissingVenue, res.Warnings()[0].Reason)
}

func TestValidateInvalidLink(t *testing.T) {
	for _, link := range []string{"", "not a url", "ftp://example.edu/x", "/relative/path", "https://"} {
		rec := validRecord()
		rec.Link = link

		res := testValidator().Validate(rec)
		assert.False(t, res.OK(), "link %q", link)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	rec := validRecord()
	rec.Title = strings.Repeat("x", 300)
	rec.Date = day("2024-01-01")
	rec.Venue = ""
	rec.Link = "nope"

	res := testValidator().Validate(rec)
	assert.False(t, res.OK())
	assert.Len(t, res.Errors, 4)
	assert.Len(t, res.Blocking(), 3)
	assert.Len(t, res.Warnings(), 1)
}
