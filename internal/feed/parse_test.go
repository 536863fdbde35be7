package feed

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func icsPayload(events ...string) []byte {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//campus//events//EN\r\n")
	for _, ev := range events {
		b.WriteString("BEGIN:VEVENT\r\n")
		b.WriteString(ev)
		b.WriteString("END:VEVENT\r\n")
	}
	b.WriteString("END:VCALENDAR\r\n")
	return []byte(b.String())
}

func testWindow(t *testing.T, start, end string) Window {
	t.Helper()
	s, err := time.Parse("2006-01-02", start)
	require.NoError(t, err)
	e, err := time.Parse("2006-01-02", end)
	require.NoError(t, err)
	return Window{Start: s, End: e}
}

var testSource = Source{ID: "campus", URL: "https://example.edu/events.ics"}

func TestRecordsConvertsTimedEvent(t *testing.T) {
	body := icsPayload(
		"UID:ev-1\r\n" +
			"SUMMARY:Career Fair\r\n" +
			"LOCATION:Main Hall Bldg 7\r\n" +
			"DESCRIPTION:Annual fair\r\n" +
			"URL:https://example.edu/e/1\r\n" +
			"DTSTART:20251015T100000Z\r\n" +
			"DTEND:20251015T113000Z\r\n",
	)

	records, err := Records(testSource, body, testWindow(t, "2025-10-01", "2025-11-01"))
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "Career Fair", rec.Title)
	assert.Equal(t, "2025-10-15", rec.DateText)
	assert.Equal(t, "10:00 - 11:30", rec.TimeText)
	assert.Equal(t, "Main Hall Bldg 7", rec.VenueText)
	assert.Equal(t, "https://example.edu/e/1", rec.Link)
}

func TestRecordsAllDayEventHasNoTimeText(t *testing.T) {
	body := icsPayload(
		"UID:ev-2\r\n" +
			"SUMMARY:Homecoming\r\n" +
			"DTSTART;VALUE=DATE:20251018\r\n" +
			"DTEND;VALUE=DATE:20251019\r\n",
	)

	records, err := Records(testSource, body, testWindow(t, "2025-10-01", "2025-11-01"))
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "2025-10-18", records[0].DateText)
	assert.Empty(t, records[0].TimeText)
}

func TestRecordsDerivesLinkWhenURLMissing(t *testing.T) {
	body := icsPayload(
		"UID:ev-3\r\n" +
			"SUMMARY:Open Mic\r\n" +
			"DTSTART:20251020T190000Z\r\n" +
			"DTEND:20251020T210000Z\r\n",
	)

	records, err := Records(testSource, body, testWindow(t, "2025-10-01", "2025-11-01"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "https://example.edu/events.ics#ev-3", records[0].Link)
}

func TestRecordsFiltersEventsOutsideWindow(t *testing.T) {
	body := icsPayload(
		"UID:ev-4\r\n"+
			"SUMMARY:Too Early\r\n"+
			"DTSTART:20250901T100000Z\r\n"+
			"DTEND:20250901T110000Z\r\n",
		"UID:ev-5\r\n"+
			"SUMMARY:In Window\r\n"+
			"DTSTART:20251015T100000Z\r\n"+
			"DTEND:20251015T110000Z\r\n",
	)

	records, err := Records(testSource, body, testWindow(t, "2025-10-01", "2025-11-01"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "In Window", records[0].Title)
}

func TestRecordsExpandsWeeklyRecurrence(t *testing.T) {
	body := icsPayload(
		"UID:ev-6\r\n" +
			"SUMMARY:Chess Club\r\n" +
			"LOCATION:Student Center\r\n" +
			"DTSTART:20251001T170000Z\r\n" +
			"DTEND:20251001T180000Z\r\n" +
			"RRULE:FREQ=WEEKLY;COUNT=10\r\n",
	)

	records, err := Records(testSource, body, testWindow(t, "2025-10-01", "2025-10-23"))
	require.NoError(t, err)
	require.Len(t, records, 4)

	// Each occurrence carries its own date-suffixed key.
	assert.Equal(t, "2025-10-01", records[0].DateText)
	assert.Equal(t, "https://example.edu/events.ics#ev-6@2025-10-01", records[0].Link)
	assert.Equal(t, "2025-10-08", records[1].DateText)
	assert.Equal(t, "https://example.edu/events.ics#ev-6@2025-10-08", records[1].Link)
	assert.Equal(t, "2025-10-15", records[2].DateText)
	assert.Equal(t, "2025-10-22", records[3].DateText)

	for _, rec := range records {
		assert.Equal(t, "17:00 - 18:00", rec.TimeText)
		assert.Equal(t, "Student Center", rec.VenueText)
	}
}

func TestRecordsHonorsExdate(t *testing.T) {
	body := icsPayload(
		"UID:ev-7\r\n" +
			"SUMMARY:Chess Club\r\n" +
			"DTSTART:20251001T170000Z\r\n" +
			"DTEND:20251001T180000Z\r\n" +
			"RRULE:FREQ=WEEKLY;COUNT=4\r\n" +
			"EXDATE:20251008T170000Z\r\n",
	)

	records, err := Records(testSource, body, testWindow(t, "2025-10-01", "2025-10-31"))
	require.NoError(t, err)
	require.Len(t, records, 3)

	dates := []string{records[0].DateText, records[1].DateText, records[2].DateText}
	assert.NotContains(t, dates, "2025-10-08")
}

func TestRecordsSkipsEventWithoutUID(t *testing.T) {
	body := icsPayload(
		"SUMMARY:Anonymous\r\n"+
			"DTSTART:20251015T100000Z\r\n"+
			"DTEND:20251015T110000Z\r\n",
		"UID:ev-8\r\n"+
			"SUMMARY:Named\r\n"+
			"DTSTART:20251015T120000Z\r\n"+
			"DTEND:20251015T130000Z\r\n",
	)

	records, err := Records(testSource, body, testWindow(t, "2025-10-01", "2025-11-01"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Named", records[0].Title)
}

func TestRecordsRejectsEmptyBody(t *testing.T) {
	_, err := Records(testSource, nil, testWindow(t, "2025-10-01", "2025-11-01"))
	assert.Error(t, err)
}

func TestRecordsRejectsInvertedWindow(t *testing.T) {
	_, err := Records(testSource, icsPayload(), testWindow(t, "2025-11-01", "2025-10-01"))
	assert.Error(t, err)
}
