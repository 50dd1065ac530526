package awsx

import (
	"context"
	"testing"
	"time"

	"github.com/aws/smithy-go"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDo_RetryableExhaustsExactly(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), "billing_query", fastPolicy(3), func(context.Context) error {
		attempts++
		return &smithy.GenericAPIError{Code: "ThrottlingException", Message: "throttle"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDo_FatalCostsOneAttempt(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), "lease_lookup", fastPolicy(3), func(context.Context) error {
		attempts++
		return &StatusError{Op: "lease_lookup", Status: 400}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestDo_SucceedsAfterTransientFailure(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), "billing_query", fastPolicy(3), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return &StatusError{Op: "billing_query", Status: 503}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDo_ContextCancelStopsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: time.Minute}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, "billing_query", policy, func(context.Context) error {
		attempts++
		return &StatusError{Op: "billing_query", Status: 500}
	})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt before cancel, got %d", attempts)
	}
}
