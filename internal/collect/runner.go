package collect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/leasewatch/costplane/internal/billing"
	"github.com/leasewatch/costplane/internal/leases"
	"github.com/leasewatch/costplane/internal/metrics"
	"github.com/leasewatch/costplane/internal/model"
	"github.com/leasewatch/costplane/internal/report"
	"github.com/leasewatch/costplane/internal/store"
)

// Collaborator interfaces are declared here, on the consumer side, so
// the runner can be exercised against fakes.

type LeaseAPI interface {
	GetLease(ctx context.Context, leaseUUID string) (model.Lease, error)
}

type BillingCollector interface {
	Collect(ctx context.Context, accountID string, window model.BillingWindow) (*model.CostReport, error)
}

// CollectorProvider hands out a collector scoped to the sandbox
// account, assuming the cross-account role when the backend needs one.
type CollectorProvider interface {
	CollectorFor(ctx context.Context, accountID string) (BillingCollector, error)
}

type ReportStore interface {
	Put(ctx context.Context, accountID, leaseUUID string, body []byte) (string, error)
	PresignDownload(ctx context.Context, key string) (string, time.Time, error)
}

type CompletionPublisher interface {
	PublishReportReady(ctx context.Context, ev model.CompletionEvent) error
}

type TriggerDeleter interface {
	DeleteTrigger(ctx context.Context, name string) error
}

type RunLedger interface {
	InsertRunStarted(ctx context.Context, in store.StartRunInput) (*model.CollectionRun, error)
	SetRunStage(ctx context.Context, runID string, stage model.Stage) error
	MarkRunSucceeded(ctx context.Context, runID string, in store.FinishRunInput) error
	MarkRunFailed(ctx context.Context, runID string, stage model.Stage, errText string) error
}

type RunnerOptions struct {
	BillingPaddingHours int
}

// Runner executes one collection end to end when a deferred trigger
// fires: look up the lease, pull the spend, upload the report, announce
// it, clean up the trigger.
type Runner struct {
	leases    LeaseAPI
	collector CollectorProvider
	reports   ReportStore
	events    CompletionPublisher
	triggers  TriggerDeleter
	ledger    RunLedger
	opts      RunnerOptions
}

func NewRunner(leaseAPI LeaseAPI, provider CollectorProvider, reports ReportStore, events CompletionPublisher, triggers TriggerDeleter, ledger RunLedger, opts RunnerOptions) *Runner {
	return &Runner{
		leases:    leaseAPI,
		collector: provider,
		reports:   reports,
		events:    events,
		triggers:  triggers,
		ledger:    ledger,
		opts:      opts,
	}
}

// ParsePayload decodes a trigger payload strictly. A payload that fails
// here never starts a run.
func ParsePayload(raw []byte) (model.TriggerPayload, error) {
	var payload model.TriggerPayload
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return payload, fmt.Errorf("decode trigger payload: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return payload, err
	}
	return payload, nil
}

// HandleTrigger runs a full collection for the payload. The outcome,
// including the stage a failure happened in, lands in the run ledger;
// ledger write failures are logged but never fail the collection
// themselves.
func (r *Runner) HandleTrigger(ctx context.Context, payload model.TriggerPayload) error {
	started := time.Now()
	run := r.startRun(ctx, payload)

	err := r.run(ctx, payload, run)
	durMS := float64(time.Since(started).Milliseconds())
	if err != nil {
		metrics.Default().IncCounter("costplane_collections_total", map[string]string{"status": "error"})
		metrics.Default().ObserveHistogram("costplane_collection_duration_ms", durMS, nil)
		return err
	}
	metrics.Default().IncCounter("costplane_collections_total", map[string]string{"status": "ok"})
	metrics.Default().ObserveHistogram("costplane_collection_duration_ms", durMS, nil)
	return nil
}

func (r *Runner) run(ctx context.Context, payload model.TriggerPayload, run *model.CollectionRun) error {
	lease, err := r.leases.GetLease(ctx, payload.LeaseID)
	if err != nil {
		if errors.Is(err, leases.ErrLeaseNotFound) {
			return r.fail(ctx, run, model.StageLeaseLookup, fmt.Errorf("lease %s vanished between termination and collection: %w", payload.LeaseID, err))
		}
		return r.fail(ctx, run, model.StageLeaseLookup, err)
	}

	r.setStage(ctx, run, model.StageAssumeRole)
	collector, err := r.collector.CollectorFor(ctx, payload.AccountID)
	if err != nil {
		return r.fail(ctx, run, model.StageAssumeRole, err)
	}

	window, err := billing.ComputeWindow(
		lease.StartDate.Format(time.RFC3339), payload.LeaseEndTimestamp, r.opts.BillingPaddingHours)
	if err != nil {
		return r.fail(ctx, run, model.StageBillingQuery, err)
	}

	r.setStage(ctx, run, model.StageBillingQuery)
	rep, err := collector.Collect(ctx, payload.AccountID, window)
	if err != nil {
		return r.fail(ctx, run, model.StageBillingQuery, err)
	}

	r.setStage(ctx, run, model.StageReportUpload)
	body, err := report.RenderCSV(*rep)
	if err != nil {
		return r.fail(ctx, run, model.StageReportUpload, err)
	}
	key, err := r.reports.Put(ctx, payload.AccountID, payload.LeaseID, body)
	if err != nil {
		return r.fail(ctx, run, model.StageReportUpload, err)
	}
	url, expires, err := r.reports.PresignDownload(ctx, key)
	if err != nil {
		return r.fail(ctx, run, model.StageReportUpload, err)
	}

	r.setStage(ctx, run, model.StageEventEmit)
	err = r.events.PublishReportReady(ctx, model.CompletionEvent{
		LeaseID:      payload.LeaseID,
		UserEmail:    payload.UserEmail,
		AccountID:    payload.AccountID,
		TotalCost:    rep.TotalCost,
		Currency:     "USD",
		StartDate:    rep.StartDate,
		EndDate:      rep.EndDate,
		ReportURL:    url,
		URLExpiresAt: expires.Format(time.RFC3339),
	})
	if err != nil {
		return r.fail(ctx, run, model.StageEventEmit, err)
	}

	// The schedule deletes itself after firing; this is the backstop
	// for targets invoked more than once. Failure is not worth failing
	// an otherwise complete run over.
	r.setStage(ctx, run, model.StageTriggerDelete)
	if err := r.triggers.DeleteTrigger(ctx, payload.TriggerName); err != nil {
		log.Printf("event=trigger_delete_failed lease_id=%s trigger=%s err=%q", payload.LeaseID, payload.TriggerName, err.Error())
	}

	r.finishRun(ctx, run, store.FinishRunInput{
		TotalCents: int64(math.Round(rep.TotalCost * 100)),
		StartDate:  rep.StartDate,
		EndDate:    rep.EndDate,
		ReportKey:  key,
		ReportURL:  url,
	})
	log.Printf("event=collection_complete lease_id=%s account_id=%s total=%.2f window=%s..%s",
		payload.LeaseID, payload.AccountID, rep.TotalCost, rep.StartDate, rep.EndDate)
	return nil
}

func (r *Runner) startRun(ctx context.Context, payload model.TriggerPayload) *model.CollectionRun {
	run, err := r.ledger.InsertRunStarted(ctx, store.StartRunInput{
		LeaseUUID: payload.LeaseID,
		UserEmail: payload.UserEmail,
		AccountID: payload.AccountID,
	})
	if err != nil {
		log.Printf("event=ledger_insert_failed lease_id=%s err=%q", payload.LeaseID, err.Error())
		return nil
	}
	return run
}

func (r *Runner) setStage(ctx context.Context, run *model.CollectionRun, stage model.Stage) {
	if run == nil {
		return
	}
	if err := r.ledger.SetRunStage(ctx, run.ID, stage); err != nil {
		log.Printf("event=ledger_stage_failed run_id=%s stage=%s err=%q", run.ID, stage, err.Error())
	}
}

func (r *Runner) finishRun(ctx context.Context, run *model.CollectionRun, in store.FinishRunInput) {
	if run == nil {
		return
	}
	if err := r.ledger.MarkRunSucceeded(ctx, run.ID, in); err != nil {
		log.Printf("event=ledger_finish_failed run_id=%s err=%q", run.ID, err.Error())
	}
}

func (r *Runner) fail(ctx context.Context, run *model.CollectionRun, stage model.Stage, cause error) error {
	if run != nil {
		if err := r.ledger.MarkRunFailed(ctx, run.ID, stage, cause.Error()); err != nil {
			log.Printf("event=ledger_fail_failed run_id=%s err=%q", run.ID, err.Error())
		}
	}
	log.Printf("event=collection_failed stage=%s err=%q", stage, cause.Error())
	return fmt.Errorf("collection stage %s: %w", stage, cause)
}
