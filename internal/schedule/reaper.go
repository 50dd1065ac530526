package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	schtypes "github.com/aws/aws-sdk-go-v2/service/scheduler/types"

	"github.com/leasewatch/costplane/internal/awsx"
	"github.com/leasewatch/costplane/internal/metrics"
)

type SweepSummary struct {
	Scanned     int
	Stale       int
	Deleted     int
	AlreadyGone int
	Failed      int
}

// Reaper is the backstop for triggers whose downstream invocation never
// ran or never cleaned up. It deletes any trigger whose configured fire
// time is further in the past than the staleness threshold.
type Reaper struct {
	client    SchedulerAPI
	group     string
	threshold time.Duration
	retry     awsx.RetryPolicy
	now       func() time.Time
}

func NewReaper(client SchedulerAPI, group string, threshold time.Duration, retry awsx.RetryPolicy) *Reaper {
	return &Reaper{client: client, group: group, threshold: threshold, retry: retry, now: time.Now}
}

// Sweep lists every trigger in the managed group and deletes the stale
// ones. Individual failures are counted and logged but do not abort the
// sweep; only a listing failure does.
func (r *Reaper) Sweep(ctx context.Context) (SweepSummary, error) {
	start := r.now()
	var summary SweepSummary

	input := &scheduler.ListSchedulesInput{
		GroupName:  aws.String(r.group),
		MaxResults: aws.Int32(100),
	}
	for {
		var page *scheduler.ListSchedulesOutput
		err := awsx.Do(ctx, "list_schedules", r.retry, func(callCtx context.Context) error {
			var callErr error
			page, callErr = r.client.ListSchedules(callCtx, input)
			return callErr
		})
		if err != nil {
			return summary, fmt.Errorf("list schedules in group %s: %w", r.group, err)
		}
		for _, item := range page.Schedules {
			summary.Scanned++
			r.sweepOne(ctx, aws.ToString(item.Name), &summary)
		}
		token := aws.ToString(page.NextToken)
		if token == "" {
			break
		}
		input.NextToken = aws.String(token)
	}

	durMS := float64(r.now().Sub(start).Milliseconds())
	log.Printf("event=reaper_sweep group=%s scanned=%d stale=%d deleted=%d already_gone=%d failed=%d duration_ms=%d",
		r.group, summary.Scanned, summary.Stale, summary.Deleted, summary.AlreadyGone, summary.Failed, int64(durMS))
	observeSweep(summary, durMS)
	return summary, nil
}

func (r *Reaper) sweepOne(ctx context.Context, name string, summary *SweepSummary) {
	detail, err := r.getSchedule(ctx, name)
	if err != nil {
		var notFound *schtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			summary.AlreadyGone++
			return
		}
		log.Printf("event=reaper_describe_failed trigger=%s err=%q", name, err.Error())
		summary.Failed++
		return
	}

	fireTime, err := ParseAtExpression(aws.ToString(detail.ScheduleExpression))
	if err != nil {
		// Recurring or malformed expressions are not ours to reap.
		log.Printf("event=reaper_skip trigger=%s reason=%q", name, err.Error())
		return
	}
	age := r.now().UTC().Sub(fireTime)
	if age <= r.threshold {
		return
	}
	summary.Stale++

	err = awsx.Do(ctx, "delete_schedule", r.retry, func(callCtx context.Context) error {
		_, callErr := r.client.DeleteSchedule(callCtx, &scheduler.DeleteScheduleInput{
			Name:      aws.String(name),
			GroupName: aws.String(r.group),
		})
		return callErr
	})
	switch {
	case err == nil:
		log.Printf("event=reaper_deleted trigger=%s age_hours=%.1f", name, age.Hours())
		summary.Deleted++
	case isNotFound(err):
		summary.AlreadyGone++
	default:
		log.Printf("event=reaper_delete_failed trigger=%s err=%q", name, err.Error())
		summary.Failed++
	}
}

func (r *Reaper) getSchedule(ctx context.Context, name string) (*scheduler.GetScheduleOutput, error) {
	var out *scheduler.GetScheduleOutput
	err := awsx.Do(ctx, "get_schedule", r.retry, func(callCtx context.Context) error {
		var callErr error
		out, callErr = r.client.GetSchedule(callCtx, &scheduler.GetScheduleInput{
			Name:      aws.String(name),
			GroupName: aws.String(r.group),
		})
		return callErr
	})
	return out, err
}

func isNotFound(err error) bool {
	var notFound *schtypes.ResourceNotFoundException
	return errors.As(err, &notFound)
}

// ParseAtExpression extracts the fire time from a one-shot "at(...)"
// schedule expression. Fire times are stored in UTC.
func ParseAtExpression(expr string) (time.Time, error) {
	inner, ok := strings.CutPrefix(expr, "at(")
	if !ok || !strings.HasSuffix(inner, ")") {
		return time.Time{}, fmt.Errorf("not a one-shot expression: %q", expr)
	}
	inner = strings.TrimSuffix(inner, ")")
	t, err := time.Parse(atExpressionLayout, inner)
	if err != nil {
		return time.Time{}, fmt.Errorf("fire time in %q: %v", expr, err)
	}
	return t.UTC(), nil
}

func observeSweep(s SweepSummary, durMS float64) {
	reg := metrics.Default()
	add := func(disposition string, n int) {
		if n > 0 {
			reg.AddCounter("costplane_reaper_schedules_total", uint64(n), map[string]string{"disposition": disposition})
		}
	}
	add("scanned", s.Scanned)
	add("stale", s.Stale)
	add("deleted", s.Deleted)
	add("already_gone", s.AlreadyGone)
	add("failed", s.Failed)
	reg.ObserveHistogram("costplane_reaper_sweep_duration_ms", durMS, nil)
}
