package schedule

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	schtypes "github.com/aws/aws-sdk-go-v2/service/scheduler/types"

	"github.com/leasewatch/costplane/internal/awsx"
	"github.com/leasewatch/costplane/internal/metrics"
	"github.com/leasewatch/costplane/internal/model"
)

const atExpressionLayout = "2006-01-02T15:04:05"

type SchedulerAPI interface {
	CreateSchedule(ctx context.Context, in *scheduler.CreateScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.CreateScheduleOutput, error)
	DeleteSchedule(ctx context.Context, in *scheduler.DeleteScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.DeleteScheduleOutput, error)
	ListSchedules(ctx context.Context, in *scheduler.ListSchedulesInput, optFns ...func(*scheduler.Options)) (*scheduler.ListSchedulesOutput, error)
	GetSchedule(ctx context.Context, in *scheduler.GetScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.GetScheduleOutput, error)
}

type ManagerOptions struct {
	Group             string
	NamePrefix        string
	TargetArn         string
	TargetRoleArn     string
	Delay             time.Duration
	JitterMax         time.Duration
	FlexWindowMinutes int
	Retry             awsx.RetryPolicy
}

// Manager registers the one-shot deferred trigger for a terminated
// lease. The trigger name is derived from the lease uuid, so processing
// the same termination signal twice is a harmless duplicate.
type Manager struct {
	client SchedulerAPI
	opts   ManagerOptions
	now    func() time.Time
}

func NewManager(client SchedulerAPI, opts ManagerOptions) *Manager {
	if opts.FlexWindowMinutes < 1 {
		opts.FlexWindowMinutes = 5
	}
	return &Manager{client: client, opts: opts, now: time.Now}
}

func (m *Manager) OnTerminationSignal(ctx context.Context, sig model.TerminationSignal) error {
	if err := sig.Validate(); err != nil {
		metrics.Default().IncCounter("costplane_signals_total", map[string]string{"outcome": "invalid"})
		return fmt.Errorf("termination signal rejected: %w", err)
	}

	now := m.now().UTC()
	fireTime := now.Add(m.opts.Delay + fireJitter(m.opts.JitterMax))
	name := TriggerName(m.opts.NamePrefix, sig.LeaseID.UUID)

	payload := model.TriggerPayload{
		LeaseID:           sig.LeaseID.UUID,
		UserEmail:         sig.LeaseID.UserEmail,
		AccountID:         sig.AccountID,
		LeaseEndTimestamp: now.Format(time.RFC3339),
		TriggerName:       name,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal trigger payload: %w", err)
	}

	input := &scheduler.CreateScheduleInput{
		Name:                       aws.String(name),
		GroupName:                  aws.String(m.opts.Group),
		ScheduleExpression:         aws.String("at(" + fireTime.Format(atExpressionLayout) + ")"),
		ScheduleExpressionTimezone: aws.String("UTC"),
		FlexibleTimeWindow: &schtypes.FlexibleTimeWindow{
			Mode:                   schtypes.FlexibleTimeWindowModeFlexible,
			MaximumWindowInMinutes: aws.Int32(int32(m.opts.FlexWindowMinutes)),
		},
		ActionAfterCompletion: schtypes.ActionAfterCompletionDelete,
		Target: &schtypes.Target{
			Arn:     aws.String(m.opts.TargetArn),
			RoleArn: aws.String(m.opts.TargetRoleArn),
			Input:   aws.String(string(raw)),
			RetryPolicy: &schtypes.RetryPolicy{
				MaximumRetryAttempts:     aws.Int32(3),
				MaximumEventAgeInSeconds: aws.Int32(3600),
			},
		},
	}

	err = awsx.Do(ctx, "create_schedule", m.opts.Retry, func(callCtx context.Context) error {
		_, callErr := m.client.CreateSchedule(callCtx, input)
		return callErr
	})
	if err != nil {
		var conflict *schtypes.ConflictException
		if errors.As(err, &conflict) {
			// Deterministic naming makes the duplicate benign.
			log.Printf("event=trigger_exists lease_id=%s trigger=%s", sig.LeaseID.UUID, name)
			metrics.Default().IncCounter("costplane_schedule_creates_total", map[string]string{"status": "duplicate"})
			return nil
		}
		metrics.Default().IncCounter("costplane_schedule_creates_total", map[string]string{"status": "error"})
		return fmt.Errorf("create trigger %s: %w", name, err)
	}

	metrics.Default().IncCounter("costplane_schedule_creates_total", map[string]string{"status": "ok"})
	log.Printf("event=trigger_created lease_id=%s account_id=%s trigger=%s fire_at=%s",
		sig.LeaseID.UUID, sig.AccountID, name, fireTime.Format(time.RFC3339))
	return nil
}

// DeleteTrigger removes a trigger by name. "Already gone" is success:
// the scheduler's own post-execution delete or the reaper may have won
// the race.
func (m *Manager) DeleteTrigger(ctx context.Context, name string) error {
	err := awsx.Do(ctx, "delete_schedule", m.opts.Retry, func(callCtx context.Context) error {
		_, callErr := m.client.DeleteSchedule(callCtx, &scheduler.DeleteScheduleInput{
			Name:      aws.String(name),
			GroupName: aws.String(m.opts.Group),
		})
		return callErr
	})
	if err != nil {
		var notFound *schtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			log.Printf("event=trigger_already_gone trigger=%s", name)
			metrics.Default().IncCounter("costplane_schedule_deletes_total", map[string]string{"origin": "collector", "status": "already_gone"})
			return nil
		}
		metrics.Default().IncCounter("costplane_schedule_deletes_total", map[string]string{"origin": "collector", "status": "error"})
		return fmt.Errorf("delete trigger %s: %w", name, err)
	}
	metrics.Default().IncCounter("costplane_schedule_deletes_total", map[string]string{"origin": "collector", "status": "ok"})
	return nil
}

// fireJitter draws a uniform offset in [0, max) from a cryptographically
// strong source so simultaneous lease terminations do not all fire at
// the same instant.
func fireJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return max / 2
	}
	return time.Duration(binary.LittleEndian.Uint64(raw[:]) % uint64(max))
}
