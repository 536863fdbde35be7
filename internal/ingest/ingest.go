// Package ingest orchestrates normalize -> validate -> deduplicate ->
// persist for a batch of raw records inside a single transaction.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"campusevents/internal/identity"
	appLog "campusevents/internal/log"
	"campusevents/internal/model"
	"campusevents/internal/normalize"
	"campusevents/internal/validate"
)

// Tx is one staged unit of work. All writes commit together or none do.
type Tx interface {
	Insert(ctx context.Context, ev model.Event) error
	Update(ctx context.Context, ev model.Event) error
	Commit() error
	Rollback() error
}

// Repository is the persistence surface the coordinator needs.
type Repository interface {
	ListAll(ctx context.Context) ([]model.Event, error)
	Begin(ctx context.Context) (Tx, error)
	SaveRun(ctx context.Context, run Run) error
}

// IngestionError wraps a storage-layer failure. It is fatal to the batch
// and means every staged write was rolled back.
type IngestionError struct {
	Err error
}

func (e *IngestionError) Error() string { return "ingest: batch rolled back: " + e.Err.Error() }
func (e *IngestionError) Unwrap() error { return e.Err }

// Failure describes one record that could not be ingested. Per-record
// failures never abort sibling records.
type Failure struct {
	Title  string
	Link   string
	Reason string
}

// Skip records a fuzzy duplicate that was suppressed, so near-duplicates
// can be audited afterwards.
type Skip struct {
	Title      string
	Link       string
	MatchedKey string
}

// Report summarizes one ingestion run.
type Report struct {
	RunID    string
	Inserted int
	Updated  int
	Skipped  int
	Failed   int
	Failures []Failure
	Skips    []Skip
	Warnings []string
}

// Run is the persisted history row for one ingestion run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Inserted   int
	Updated    int
	Skipped    int
	Failed     int
	Status     string
	Error      string
}

// Coordinator wires the pipeline stages together.
type Coordinator struct {
	repo       Repository
	normalizer *normalize.Normalizer
	validator  *validate.Validator
	threshold  float64
	now        func() time.Time
}

func NewCoordinator(repo Repository, n *normalize.Normalizer, v *validate.Validator, fuzzyThreshold float64) *Coordinator {
	return &Coordinator{
		repo:       repo,
		normalizer: n,
		validator:  v,
		threshold:  fuzzyThreshold,
		now:        time.Now,
	}
}

type staged struct {
	event  model.Event
	update bool
}

// Ingest processes one batch. The identity index is built once from a
// snapshot taken at batch start; staged inserts join it in memory so cost
// stays linear in batch size. All staged writes are committed atomically at
// the end; any persistence failure rolls back the entire batch and surfaces
// a single IngestionError.
func (c *Coordinator) Ingest(ctx context.Context, batch []model.RawRecord) (Report, error) {
	started := c.now()
	report := Report{RunID: uuid.NewString()}

	existing, err := c.repo.ListAll(ctx)
	if err != nil {
		return report, &IngestionError{Err: err}
	}
	existingByKey := make(map[string]model.Event, len(existing))
	for _, ev := range existing {
		existingByKey[ev.Key] = ev
	}
	index := identity.NewIndex(existing, c.threshold)

	var stagedWrites []staged
	stagedByKey := make(map[string]int)

	for _, raw := range batch {
		rec, err := c.normalizer.Normalize(raw)
		if err != nil {
			report.Failed++
			report.Failures = append(report.Failures, Failure{Title: raw.Title, Link: raw.Link, Reason: err.Error()})
			continue
		}

		res := c.validator.Validate(rec)
		for _, w := range res.Warnings() {
			report.Warnings = append(report.Warnings, rec.Key+": "+w.String())
		}
		if !res.OK() {
			report.Failed++
			report.Failures = append(report.Failures, Failure{Title: rec.Title, Link: rec.Link, Reason: blockingReasons(res)})
			continue
		}

		switch id := index.Resolve(rec); id.Kind {
		case identity.New:
			report.Inserted++
			stagedWrites = append(stagedWrites, staged{event: rec.Event(c.now())})
			stagedByKey[rec.Key] = len(stagedWrites) - 1
			index.Add(rec)

		case identity.ExactDuplicate:
			ev := rec.Event(c.now())
			if i, ok := stagedByKey[id.MatchedKey]; ok {
				// Same key twice within one batch: later record wins, one
				// staged write and one report count.
				ev.CreatedAt = stagedWrites[i].event.CreatedAt
				stagedWrites[i].event = ev
			} else if prior, ok := existingByKey[id.MatchedKey]; ok {
				// Update in place: keep the original key and creation time.
				ev.CreatedAt = prior.CreatedAt
				report.Updated++
				stagedWrites = append(stagedWrites, staged{event: ev, update: true})
				stagedByKey[rec.Key] = len(stagedWrites) - 1
			}

		case identity.FuzzyDuplicate:
			report.Skipped++
			report.Skips = append(report.Skips, Skip{Title: rec.Title, Link: rec.Link, MatchedKey: id.MatchedKey})
			appLog.Debug("fuzzy duplicate skipped", "title", rec.Title, "matched_key", id.MatchedKey)
		}
	}

	if err := c.commit(ctx, stagedWrites); err != nil {
		ierr := &IngestionError{Err: err}
		c.record(ctx, started, report, "failed", ierr.Error())
		return report, ierr
	}

	c.record(ctx, started, report, "ok", "")
	appLog.Info("ingest completed",
		"run_id", report.RunID,
		"inserted", report.Inserted,
		"updated", report.Updated,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}

func (c *Coordinator) commit(ctx context.Context, writes []staged) error {
	tx, err := c.repo.Begin(ctx)
	if err != nil {
		return err
	}

	for _, w := range writes {
		if w.update {
			err = tx.Update(ctx, w.event)
		} else {
			err = tx.Insert(ctx, w.event)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
			return err
		}
	}
	return tx.Commit()
}

func (c *Coordinator) record(ctx context.Context, started time.Time, report Report, status, errText string) {
	run := Run{
		ID:         report.RunID,
		StartedAt:  started,
		FinishedAt: c.now(),
		Inserted:   report.Inserted,
		Updated:    report.Updated,
		Skipped:    report.Skipped,
		Failed:     report.Failed,
		Status:     status,
		Error:      errText,
	}
	if err := c.repo.SaveRun(ctx, run); err != nil {
		appLog.Error("failed to record ingest run", err, "run_id", run.ID)
	}
}

func blockingReasons(res validate.Result) string {
	out := ""
	for _, e := range res.Blocking() {
		if out != "" {
			out += "; "
		}
		out += e.String()
	}
	if out == "" {
		out = "validation failed"
	}
	return out
}
