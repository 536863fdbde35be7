// Package store is the SQLite-backed record repository: events,
// per-event recommendations, and ingest run history.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"campusevents/internal/ingest"
	"campusevents/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	key         TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	date        TEXT NOT NULL,
	start_min   INTEGER,
	end_min     INTEGER,
	venue       TEXT NOT NULL DEFAULT '',
	building    TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	link        TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_date ON events(date);

CREATE TABLE IF NOT EXISTS recommendations (
	event_key    TEXT PRIMARY KEY,
	severity     TEXT NOT NULL,
	action       TEXT NOT NULL,
	detail       TEXT NOT NULL DEFAULT '',
	alternatives TEXT NOT NULL DEFAULT '',
	generated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ingest_history (
	id          TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	inserted    INTEGER NOT NULL DEFAULT 0,
	updated     INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT ''
);
`

// Store wraps the SQLite database handle.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists. Path ":memory:" yields an in-memory database.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: db path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Single connection: SQLite allows one writer and the pipeline is
	// single-threaded per run.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

const eventColumns = "key, title, date, start_min, end_min, venue, building, description, link, created_at, updated_at"

// FindByKey returns the event with the given external key, or nil when no
// such event exists.
func (s *Store) FindByKey(ctx context.Context, key string) (*model.Event, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE key = ?", key)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// ListByDate returns the events on the given calendar date, ordered by key.
func (s *Store) ListByDate(ctx context.Context, date time.Time) ([]model.Event, error) {
	return s.queryEvents(ctx,
		"SELECT "+eventColumns+" FROM events WHERE date = ? ORDER BY key",
		date.Format(model.DateLayout))
}

// ListAll returns every stored event ordered by date then key, so callers
// iterating the full set see a stable order.
func (s *Store) ListAll(ctx context.Context) ([]model.Event, error) {
	return s.queryEvents(ctx,
		"SELECT " + eventColumns + " FROM events ORDER BY date, key")
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (model.Event, error) {
	var ev model.Event
	var date, createdAt, updatedAt string
	var startMin, endMin sql.NullInt64

	err := r.Scan(&ev.Key, &ev.Title, &date, &startMin, &endMin,
		&ev.Venue, &ev.Building, &ev.Description, &ev.Link, &createdAt, &updatedAt)
	if err != nil {
		return model.Event{}, err
	}

	if ev.Date, err = time.Parse(model.DateLayout, date); err != nil {
		return model.Event{}, err
	}
	if startMin.Valid {
		tr := &model.TimeRange{Start: model.ClockTime(startMin.Int64)}
		if endMin.Valid {
			tr.End = model.ClockTime(endMin.Int64)
			tr.EndKnown = true
		}
		ev.Time = tr
	}
	if ev.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return model.Event{}, err
	}
	if ev.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

func eventArgs(ev model.Event) []any {
	var startMin, endMin sql.NullInt64
	if ev.Time != nil {
		startMin = sql.NullInt64{Int64: int64(ev.Time.Start), Valid: true}
		if ev.Time.EndKnown {
			endMin = sql.NullInt64{Int64: int64(ev.Time.End), Valid: true}
		}
	}
	return []any{
		ev.Key, ev.Title, ev.Date.Format(model.DateLayout), startMin, endMin,
		ev.Venue, ev.Building, ev.Description, ev.Link,
		ev.CreatedAt.UTC().Format(time.RFC3339), ev.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// Tx is one open transaction over the events table.
type Tx struct {
	tx *sql.Tx
}

// Begin starts a transaction for a batch of staged writes.
func (s *Store) Begin(ctx context.Context) (ingest.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (t *Tx) Insert(ctx context.Context, ev model.Event) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO events ("+eventColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		eventArgs(ev)...)
	return err
}

func (t *Tx) Update(ctx context.Context, ev model.Event) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE events SET title = ?, date = ?, start_min = ?, end_min = ?, venue = ?,
			building = ?, description = ?, link = ?, updated_at = ? WHERE key = ?`,
		ev.Title, ev.Date.Format(model.DateLayout), nullMin(ev.Time, false), nullMin(ev.Time, true),
		ev.Venue, ev.Building, ev.Description, ev.Link,
		ev.UpdatedAt.UTC().Format(time.RFC3339), ev.Key)
	return err
}

func nullMin(tr *model.TimeRange, end bool) sql.NullInt64 {
	if tr == nil {
		return sql.NullInt64{}
	}
	if end {
		if !tr.EndKnown {
			return sql.NullInt64{}
		}
		return sql.NullInt64{Int64: int64(tr.End), Valid: true}
	}
	return sql.NullInt64{Int64: int64(tr.Start), Valid: true}
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// UpsertRecommendation replaces any prior recommendation for the event key.
// The replacement is a single statement, so per-key replacement is atomic.
func (s *Store) UpsertRecommendation(ctx context.Context, rec model.Recommendation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recommendations (event_key, severity, action, detail, alternatives, generated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(event_key) DO UPDATE SET
			severity = excluded.severity,
			action = excluded.action,
			detail = excluded.detail,
			alternatives = excluded.alternatives,
			generated_at = excluded.generated_at`,
		rec.EventKey, rec.Severity.String(), rec.Action, rec.Detail,
		joinBlocks(rec.Alternative), rec.GeneratedAt.UTC().Format(time.RFC3339))
	return err
}

// RecommendationByKey returns the stored recommendation for an event, or
// nil when none has been generated yet.
func (s *Store) RecommendationByKey(ctx context.Context, key string) (*model.Recommendation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT event_key, severity, action, detail, alternatives, generated_at
		 FROM recommendations WHERE event_key = ?`, key)
	rec, err := scanRecommendation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecommendations returns all stored recommendations ordered by key.
func (s *Store) ListRecommendations(ctx context.Context) ([]model.Recommendation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_key, severity, action, detail, alternatives, generated_at
		 FROM recommendations ORDER BY event_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecommendation(r rowScanner) (model.Recommendation, error) {
	var rec model.Recommendation
	var severity, alternatives, generatedAt string
	if err := r.Scan(&rec.EventKey, &severity, &rec.Action, &rec.Detail, &alternatives, &generatedAt); err != nil {
		return model.Recommendation{}, err
	}
	rec.Severity = model.ParseSeverity(severity)
	rec.Alternative = splitBlocks(alternatives)
	t, err := time.Parse(time.RFC3339, generatedAt)
	if err != nil {
		return model.Recommendation{}, err
	}
	rec.GeneratedAt = t
	return rec, nil
}

// joinBlocks flattens alternative slots as "08:00 - 09:00, 09:00 - 10:00".
func joinBlocks(blocks []model.TimeBlock) string {
	parts := make([]string, len(blocks))
	for i, b := range blocks {
		parts[i] = b.String()
	}
	return strings.Join(parts, ", ")
}

func splitBlocks(s string) []model.TimeBlock {
	if s == "" {
		return nil
	}
	var out []model.TimeBlock
	for _, part := range strings.Split(s, ", ") {
		var sh, sm, eh, em int
		if n, _ := fmt.Sscanf(part, "%d:%d - %d:%d", &sh, &sm, &eh, &em); n == 4 {
			out = append(out, model.TimeBlock{
				Start: model.NewClockTime(sh, sm),
				End:   model.NewClockTime(eh, em),
			})
		}
	}
	return out
}

// SaveRun records one ingestion run in the history table.
func (s *Store) SaveRun(ctx context.Context, run ingest.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_history (id, started_at, finished_at, inserted, updated, skipped, failed, status, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC().Format(time.RFC3339), run.FinishedAt.UTC().Format(time.RFC3339),
		run.Inserted, run.Updated, run.Skipped, run.Failed, run.Status, run.Error)
	return err
}

// PurgePastEvents deletes events dated before the given day, along with
// their recommendations. Returns the number of events removed.
func (s *Store) PurgePastEvents(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.Format(model.DateLayout)
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM recommendations WHERE event_key IN (SELECT key FROM events WHERE date < ?)",
		cutoff); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE date < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
