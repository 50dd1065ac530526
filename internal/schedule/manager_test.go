package schedule

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/leasewatch/costplane/internal/awsx"
	"github.com/leasewatch/costplane/internal/metrics"
	"github.com/leasewatch/costplane/internal/model"
)

const testLeaseUUID = "3f2b8a1c-9d4e-4f6a-8b2c-1e5d7a9c3f0b"

func testSignal() model.TerminationSignal {
	return model.TerminationSignal{
		LeaseID: model.LeaseID{
			UUID:      testLeaseUUID,
			UserEmail: "dev@example.com",
		},
		AccountID: "123456789012",
	}
}

func testManager(fake *FakeScheduler) *Manager {
	m := NewManager(fake, ManagerOptions{
		Group:         "costplane",
		NamePrefix:    "costplane-",
		TargetArn:     "arn:aws:lambda:us-east-1:123456789012:function:collect",
		TargetRoleArn: "arn:aws:iam::123456789012:role/costplane-scheduler",
		Delay:         24 * time.Hour,
		JitterMax:     0,
		Retry:         awsx.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	m.now = func() time.Time { return time.Date(2026, 2, 2, 15, 0, 0, 0, time.UTC) }
	return m
}

func TestOnTerminationSignalCreatesTrigger(t *testing.T) {
	metrics.ResetDefaultForTest()
	fake := NewFakeScheduler()
	m := testManager(fake)

	if err := m.OnTerminationSignal(context.Background(), testSignal()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	name := TriggerName("costplane-", testLeaseUUID)
	stored, ok := fake.Stored(name)
	if !ok {
		t.Fatalf("trigger %s not registered", name)
	}

	// Delay is 24h with zero jitter, so the fire time is exact.
	wantExpr := "at(2026-02-03T15:00:00)"
	if got := aws.ToString(stored.ScheduleExpression); got != wantExpr {
		t.Fatalf("expression = %q, want %q", got, wantExpr)
	}
	if got := aws.ToString(stored.ScheduleExpressionTimezone); got != "UTC" {
		t.Fatalf("timezone = %q, want UTC", got)
	}

	var payload model.TriggerPayload
	if err := json.Unmarshal([]byte(aws.ToString(stored.Target.Input)), &payload); err != nil {
		t.Fatalf("target input not valid json: %v", err)
	}
	if payload.LeaseID != testLeaseUUID {
		t.Fatalf("payload lease id = %q", payload.LeaseID)
	}
	if payload.AccountID != "123456789012" {
		t.Fatalf("payload account id = %q", payload.AccountID)
	}
	if payload.TriggerName != name {
		t.Fatalf("payload trigger name = %q, want %q", payload.TriggerName, name)
	}
	if payload.LeaseEndTimestamp != "2026-02-02T15:00:00Z" {
		t.Fatalf("payload lease end = %q", payload.LeaseEndTimestamp)
	}
	if err := payload.Validate(); err != nil {
		t.Fatalf("stored payload does not validate: %v", err)
	}
}

func TestOnTerminationSignalDuplicateIsBenign(t *testing.T) {
	metrics.ResetDefaultForTest()
	fake := NewFakeScheduler()
	m := testManager(fake)
	sig := testSignal()

	if err := m.OnTerminationSignal(context.Background(), sig); err != nil {
		t.Fatalf("first signal: %v", err)
	}
	if err := m.OnTerminationSignal(context.Background(), sig); err != nil {
		t.Fatalf("duplicate signal should be accepted, got %v", err)
	}
	if fake.Len() != 1 {
		t.Fatalf("want exactly one trigger, got %d", fake.Len())
	}
}

func TestOnTerminationSignalRejectsInvalidSignal(t *testing.T) {
	metrics.ResetDefaultForTest()
	cases := []struct {
		name   string
		mutate func(*model.TerminationSignal)
	}{
		{"bad uuid", func(s *model.TerminationSignal) { s.LeaseID.UUID = "not-a-uuid" }},
		{"non v4 uuid", func(s *model.TerminationSignal) { s.LeaseID.UUID = "3f2b8a1c-9d4e-1f6a-8b2c-1e5d7a9c3f0b" }},
		{"short account", func(s *model.TerminationSignal) { s.AccountID = "12345" }},
		{"bad email", func(s *model.TerminationSignal) { s.LeaseID.UserEmail = "not-an-email" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := NewFakeScheduler()
			m := testManager(fake)
			sig := testSignal()
			tc.mutate(&sig)
			if err := m.OnTerminationSignal(context.Background(), sig); err == nil {
				t.Fatal("want validation error")
			}
			if fake.Len() != 0 {
				t.Fatalf("invalid signal must not reach the scheduler, got %d triggers", fake.Len())
			}
		})
	}
}

func TestDeleteTriggerAlreadyGone(t *testing.T) {
	metrics.ResetDefaultForTest()
	fake := NewFakeScheduler()
	m := testManager(fake)

	if err := m.DeleteTrigger(context.Background(), "costplane-"+testLeaseUUID); err != nil {
		t.Fatalf("missing trigger should delete cleanly, got %v", err)
	}
}

func TestDeleteTriggerRemovesExisting(t *testing.T) {
	metrics.ResetDefaultForTest()
	fake := NewFakeScheduler()
	m := testManager(fake)

	if err := m.OnTerminationSignal(context.Background(), testSignal()); err != nil {
		t.Fatalf("create: %v", err)
	}
	name := TriggerName("costplane-", testLeaseUUID)
	if err := m.DeleteTrigger(context.Background(), name); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if fake.Len() != 0 {
		t.Fatalf("trigger still registered after delete")
	}
}

func TestFireJitterBounds(t *testing.T) {
	const max = 30 * time.Minute
	seen := make(map[time.Duration]bool)
	for i := 0; i < 256; i++ {
		j := fireJitter(max)
		if j < 0 || j >= max {
			t.Fatalf("jitter %v outside [0, %v)", j, max)
		}
		seen[j] = true
	}
	if len(seen) < 2 {
		t.Fatal("jitter is constant across 256 draws")
	}
	if fireJitter(0) != 0 {
		t.Fatal("zero max must yield zero jitter")
	}
}

func TestTriggerNameUsedInExpressionIsSane(t *testing.T) {
	name := TriggerName("costplane-", testLeaseUUID)
	if strings.ContainsAny(name, " ()") {
		t.Fatalf("name %q contains characters the scheduler rejects", name)
	}
}
