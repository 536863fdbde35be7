package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusevents/internal/conflict"
	"campusevents/internal/config"
	"campusevents/internal/model"
	"campusevents/internal/store"
)

func testServer(t *testing.T, auth *config.BasicAuthConfig) (*store.Store, http.Handler) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	cfg.BasicAuth = auth
	det := conflict.NewDetector(cfg.CongestionThreshold, cfg.FuzzyThreshold, time.Hour)
	return st, NewServer(cfg, st, det).Handler()
}

func seedEvent(t *testing.T, st *store.Store, key, title, venue string, startH, endH int) {
	t.Helper()
	now := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	ev := model.Event{
		Key:   key,
		Title: title,
		Date:  time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC),
		Time: &model.TimeRange{
			Start:    model.NewClockTime(startH, 0),
			End:      model.NewClockTime(endH, 0),
			EndKnown: true,
		},
		Venue:     venue,
		Link:      key,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := st.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Insert(context.Background(), ev))
	require.NoError(t, tx.Commit())
}

func get(handler http.Handler, path string, creds *config.BasicAuthConfig) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if creds != nil {
		req.SetBasicAuth(creds.Username, creds.Password)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	_, handler := testServer(t, nil)

	rec := get(handler, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestEventsEndpoint(t *testing.T) {
	st, handler := testServer(t, nil)
	seedEvent(t, st, "https://example.edu/e/1", "Career Fair", "Main Hall", 10, 12)

	rec := get(handler, "/api/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var events []eventPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "Career Fair", events[0].Title)
	assert.Equal(t, "2025-10-15", events[0].Date)
	assert.Equal(t, "10:00 - 12:00", events[0].Time)
}

func TestConflictsEndpointRunsDetection(t *testing.T) {
	st, handler := testServer(t, nil)
	seedEvent(t, st, "https://example.edu/e/1", "Career Fair", "Main Hall", 10, 12)
	seedEvent(t, st, "https://example.edu/e/2", "Club Meetup", "Main Hall", 11, 13)

	rec := get(handler, "/api/conflicts", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var conflicts []conflictPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conflicts))
	require.Len(t, conflicts, 1)
	assert.Equal(t, "venue_overlap", conflicts[0].Kind)
	assert.Equal(t, "high", conflicts[0].Severity)
	assert.Equal(t, []string{"https://example.edu/e/1", "https://example.edu/e/2"}, conflicts[0].Keys)
}

func TestRecommendationsEndpoint(t *testing.T) {
	st, handler := testServer(t, nil)
	require.NoError(t, st.UpsertRecommendation(context.Background(), model.Recommendation{
		EventKey: "https://example.edu/e/1",
		Severity: model.SeverityHigh,
		Action:   "reschedule or relocate",
		Detail:   "venue_overlap",
		Alternative: []model.TimeBlock{
			{Start: model.NewClockTime(8, 0), End: model.NewClockTime(9, 0)},
		},
		GeneratedAt: time.Date(2025, 10, 1, 6, 0, 0, 0, time.UTC),
	}))

	rec := get(handler, "/api/recommendations", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var recs []recommendationPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "high", recs[0].Severity)
	assert.Equal(t, []string{"08:00 - 09:00"}, recs[0].Alternatives)
}

func TestBasicAuthRejectsMissingCredentials(t *testing.T) {
	auth := &config.BasicAuthConfig{Username: "ops", Password: "secret"}
	_, handler := testServer(t, auth)

	rec := get(handler, "/api/events", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
}

func TestBasicAuthRejectsWrongCredentials(t *testing.T) {
	auth := &config.BasicAuthConfig{Username: "ops", Password: "secret"}
	_, handler := testServer(t, auth)

	rec := get(handler, "/api/events", &config.BasicAuthConfig{Username: "ops", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBasicAuthAcceptsValidCredentials(t *testing.T) {
	auth := &config.BasicAuthConfig{Username: "ops", Password: "secret"}
	_, handler := testServer(t, auth)

	rec := get(handler, "/api/events", auth)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBasicAuthExemptsHealth(t *testing.T) {
	auth := &config.BasicAuthConfig{Username: "ops", Password: "secret"}
	_, handler := testServer(t, auth)

	rec := get(handler, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBasicAuthDisabledWithEmptyPassword(t *testing.T) {
	_, handler := testServer(t, &config.BasicAuthConfig{Username: "ops", Password: ""})

	rec := get(handler, "/api/events", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
