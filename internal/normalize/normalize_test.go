package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusevents/internal/model"
)

func testNormalizer() *Normalizer {
	return New(
		[]string{"Bldg", "Building"},
		map[string]string{"gym": "Bremer Student Center"},
	)
}

func TestNormalizeDateFormats(t *testing.T) {
	n := testNormalizer()
	want := time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC)

	for _, text := range []string{"2025-10-15", "10/15/2025", "15-10-2025", "2025/10/15"} {
		rec, err := n.Normalize(model.RawRecord{
			Title:    "Career Fair",
			DateText: text,
			Link:     "https://example.edu/events/1",
		})
		require.NoError(t, err, "date text %q", text)
		assert.Equal(t, want, rec.Date)
	}
}

func TestNormalizeInvalidDate(t *testing.T) {
	n := testNormalizer()

	_, err := n.Normalize(model.RawRecord{
		Title:    "Career Fair",
		DateText: "next Tuesday",
		Link:     "https://example.edu/events/1",
	})
	require.Error(t, err)

	var nerr *Error
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, ReasonInvalidDate, nerr.Reason)
}

func TestNormalizeMissingTitle(t *testing.T) {
	n := testNormalizer()

	_, err := n.Normalize(model.RawRecord{
		Title:    "   \t ",
		DateText: "2025-10-15",
		Link:     "https://example.edu/events/1",
	})
	var nerr *Error
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, ReasonMissingTitle, nerr.Reason)
}

func TestNormalizeTimeRange(t *testing.T) {
	n := testNormalizer()

	tests := []struct {
		name string
		text string
		want *model.TimeRange
	}{
		{"24h single", "10:30", &model.TimeRange{Start: model.NewClockTime(10, 30)}},
		{"24h range", "10:00 - 11:30", &model.TimeRange{
			Start: model.NewClockTime(10, 0), End: model.NewClockTime(11, 30), EndKnown: true}},
		{"compact range", "10:00-11:00", &model.TimeRange{
			Start: model.NewClockTime(10, 0), End: model.NewClockTime(11, 0), EndKnown: true}},
		{"12 hour", "2:30 PM", &model.TimeRange{Start: model.NewClockTime(14, 30)}},
		{"empty means unspecified", "", nil},
		{"garbage means unspecified", "doors open early", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := n.Normalize(model.RawRecord{
				Title:    "Career Fair",
				DateText: "2025-10-15",
				TimeText: tc.text,
				Link:     "https://example.edu/events/1",
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, rec.Time)
		})
	}
}

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	n := testNormalizer()

	rec, err := n.Normalize(model.RawRecord{
		Title:       "  Fall   Career\tFair ",
		DateText:    "2025-10-15",
		VenueText:   " Bldg 10,   Room 203 ",
		Description: "Bring  your\n resume",
		Link:        "https://example.edu/events/1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Fall Career Fair", rec.Title)
	assert.Equal(t, "Bldg 10, Room 203", rec.Venue)
	assert.Equal(t, "Bring your resume", rec.Description)
}

func TestDeriveBuilding(t *testing.T) {
	n := testNormalizer()

	tests := []struct {
		venue string
		want  string
	}{
		{"Bldg 10, Room 203", "Bldg 10"},
		{"Bldg 8", "Bldg 8"},
		{"Building 4, Auditorium", "Building 4"},
		{"Student Center Gym", "Bremer Student Center"},
		{"Downtown Annex", ""},
		{"", ""},
		{"Bldgx 9", ""},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, n.deriveBuilding(tc.venue), "venue %q", tc.venue)
	}
}
