package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/leasewatch/costplane/internal/model"
)

var ErrNotFound = errors.New("not found")

// Store is the run ledger. Every trigger firing writes a row on entry
// and finalizes it on exit, so an operator can answer "what happened to
// this lease's collection" without rerunning it.
type Store struct {
	db DB
}

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type StartRunInput struct {
	LeaseUUID string
	UserEmail string
	AccountID string
}

type FinishRunInput struct {
	TotalCents int64
	StartDate  string
	EndDate    string
	ReportKey  string
	ReportURL  string
}

func New(db DB) *Store {
	return &Store{db: db}
}

func (s *Store) InsertRunStarted(ctx context.Context, in StartRunInput) (*model.CollectionRun, error) {
	id := "run_" + uuid.NewString()
	now := time.Now().UTC()
	const q = `
insert into collection_runs
  (id, lease_uuid, user_email, account_id, status, stage, total_cents, start_date, end_date, report_key, report_url, error_text, started_at)
values
  ($1, $2, $3, $4, 'started', $5, 0, '', '', '', '', '', $6)`
	if _, err := s.db.Exec(ctx, q, id, in.LeaseUUID, in.UserEmail, in.AccountID, string(model.StageLeaseLookup), now); err != nil {
		return nil, err
	}
	return &model.CollectionRun{
		ID:        id,
		LeaseUUID: in.LeaseUUID,
		UserEmail: in.UserEmail,
		AccountID: in.AccountID,
		Status:    model.RunStarted,
		Stage:     model.StageLeaseLookup,
		StartedAt: now,
	}, nil
}

// SetRunStage records forward progress so a failure pins the stage it
// died in.
func (s *Store) SetRunStage(ctx context.Context, runID string, stage model.Stage) error {
	const q = `update collection_runs set stage = $2 where id = $1 and status = 'started'`
	tag, err := s.db.Exec(ctx, q, runID, string(stage))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) MarkRunSucceeded(ctx context.Context, runID string, in FinishRunInput) error {
	const q = `
update collection_runs
set status = 'succeeded',
    total_cents = $2,
    start_date = $3,
    end_date = $4,
    report_key = $5,
    report_url = $6,
    finished_at = now()
where id = $1 and status = 'started'`
	tag, err := s.db.Exec(ctx, q, runID, in.TotalCents, in.StartDate, in.EndDate, in.ReportKey, in.ReportURL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) MarkRunFailed(ctx context.Context, runID string, stage model.Stage, errText string) error {
	const q = `
update collection_runs
set status = 'failed',
    stage = $2,
    error_text = $3,
    finished_at = now()
where id = $1 and status = 'started'`
	tag, err := s.db.Exec(ctx, q, runID, string(stage), errText)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListRunsByLease(ctx context.Context, leaseUUID string) ([]model.CollectionRun, error) {
	const q = `
select id, lease_uuid, user_email, account_id, status, stage, total_cents, start_date, end_date, report_key, report_url, error_text, started_at, finished_at
from collection_runs
where lease_uuid = $1
order by started_at desc`

	rows, err := s.db.Query(ctx, q, leaseUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.CollectionRun, 0)
	for rows.Next() {
		var r model.CollectionRun
		var status, stage string
		var finishedAt *time.Time
		if err := rows.Scan(
			&r.ID, &r.LeaseUUID, &r.UserEmail, &r.AccountID, &status, &stage, &r.TotalCents,
			&r.StartDate, &r.EndDate, &r.ReportKey, &r.ReportURL, &r.ErrorText, &r.StartedAt, &finishedAt,
		); err != nil {
			return nil, err
		}
		r.Status = model.RunStatus(status)
		r.Stage = model.Stage(stage)
		r.FinishedAt = finishedAt
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteRunsOlderThan prunes finished ledger rows past the retention
// horizon. Rows still in flight are kept regardless of age.
func (s *Store) DeleteRunsOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	const q = `
delete from collection_runs
where started_at < now() - make_interval(secs => $1)
  and status in ('succeeded', 'failed')`
	tag, err := s.db.Exec(ctx, q, retention.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
