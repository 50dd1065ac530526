package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/leasewatch/costplane/internal/model"
)

const leaseUUID = "3f2b8a1c-9d4e-4f6a-8b2c-1e5d7a9c3f0b"

func TestInsertRunStarted(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("insert into collection_runs")).
		WithArgs(pgxmock.AnyArg(), leaseUUID, "dev@example.com", "123456789012", "lease_lookup", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := New(mock).InsertRunStarted(context.Background(), StartRunInput{
		LeaseUUID: leaseUUID,
		UserEmail: "dev@example.com",
		AccountID: "123456789012",
	})
	if err != nil {
		t.Fatalf("InsertRunStarted returned err: %v", err)
	}
	if !strings.HasPrefix(run.ID, "run_") {
		t.Fatalf("run id %q missing prefix", run.ID)
	}
	if run.Status != model.RunStarted || run.Stage != model.StageLeaseLookup {
		t.Fatalf("fresh run = %+v", run)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetRunStage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("update collection_runs set stage")).
		WithArgs("run_1", "billing_query").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := New(mock).SetRunStage(context.Background(), "run_1", model.StageBillingQuery); err != nil {
		t.Fatalf("SetRunStage returned err: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetRunStage_FinalizedRunNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("update collection_runs set stage")).
		WithArgs("run_1", "billing_query").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = New(mock).SetRunStage(context.Background(), "run_1", model.StageBillingQuery)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkRunSucceeded(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("update collection_runs")).
		WithArgs("run_1", int64(15000), "2026-01-15", "2026-02-03", "reports/123456789012/"+leaseUUID+".csv", "https://signed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = New(mock).MarkRunSucceeded(context.Background(), "run_1", FinishRunInput{
		TotalCents: 15000,
		StartDate:  "2026-01-15",
		EndDate:    "2026-02-03",
		ReportKey:  "reports/123456789012/" + leaseUUID + ".csv",
		ReportURL:  "https://signed",
	})
	if err != nil {
		t.Fatalf("MarkRunSucceeded returned err: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkRunFailed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("update collection_runs")).
		WithArgs("run_1", "assume_role", "AccessDenied: not authorized").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = New(mock).MarkRunFailed(context.Background(), "run_1", model.StageAssumeRole, "AccessDenied: not authorized")
	if err != nil {
		t.Fatalf("MarkRunFailed returned err: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListRunsByLease(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	started := time.Now().UTC().Add(-time.Hour)
	finished := started.Add(2 * time.Minute)
	rows := pgxmock.NewRows([]string{
		"id", "lease_uuid", "user_email", "account_id", "status", "stage", "total_cents",
		"start_date", "end_date", "report_key", "report_url", "error_text", "started_at", "finished_at",
	}).
		AddRow("run_2", leaseUUID, "dev@example.com", "123456789012", "succeeded", "trigger_delete", int64(15000),
			"2026-01-15", "2026-02-03", "reports/x.csv", "https://signed", "", started.Add(10*time.Minute), &finished).
		AddRow("run_1", leaseUUID, "dev@example.com", "123456789012", "failed", "billing_query", int64(0),
			"", "", "", "", "throttled out", started, &finished)

	mock.ExpectQuery(regexp.QuoteMeta("select id, lease_uuid")).
		WithArgs(leaseUUID).
		WillReturnRows(rows)

	runs, err := New(mock).ListRunsByLease(context.Background(), leaseUUID)
	if err != nil {
		t.Fatalf("ListRunsByLease returned err: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("want 2 runs, got %d", len(runs))
	}
	if runs[0].Status != model.RunSucceeded || runs[0].TotalCents != 15000 {
		t.Fatalf("run 0 = %+v", runs[0])
	}
	if runs[1].Status != model.RunFailed || runs[1].Stage != model.StageBillingQuery {
		t.Fatalf("run 1 = %+v", runs[1])
	}
	if runs[1].ErrorText != "throttled out" {
		t.Fatalf("error text = %q", runs[1].ErrorText)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteRunsOlderThan(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("delete from collection_runs")).
		WithArgs((90 * 24 * time.Hour).Seconds()).
		WillReturnResult(pgxmock.NewResult("DELETE", 17))

	n, err := New(mock).DeleteRunsOlderThan(context.Background(), 90*24*time.Hour)
	if err != nil {
		t.Fatalf("DeleteRunsOlderThan returned err: %v", err)
	}
	if n != 17 {
		t.Fatalf("deleted = %d, want 17", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
