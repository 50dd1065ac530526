package leases

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leasewatch/costplane/internal/awsx"
	"github.com/leasewatch/costplane/internal/metrics"
)

const leaseUUID = "3f2b8a1c-9d4e-4f6a-8b2c-1e5d7a9c3f0b"

func fastRetry() awsx.RetryPolicy {
	return awsx.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestGetLease(t *testing.T) {
	metrics.ResetDefaultForTest()
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		// Unknown fields must be tolerated.
		w.Write([]byte(`{
			"uuid": "` + leaseUUID + `",
			"startDate": "2026-01-15T10:00:00Z",
			"expirationDate": "2026-02-02T15:00:00Z",
			"awsAccountId": "123456789012",
			"status": "terminated",
			"budgetAmount": 50.0,
			"principalId": "dev"
		}`))
	}))
	defer srv.Close()

	lease, err := NewClient(srv.URL, "secret-token", fastRetry()).GetLease(context.Background(), leaseUUID)
	if err != nil {
		t.Fatalf("GetLease: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("authorization header = %q", gotAuth)
	}
	if gotPath != "/leases/"+leaseUUID {
		t.Fatalf("path = %q", gotPath)
	}
	if lease.AWSAccountID != "123456789012" {
		t.Fatalf("account id = %q", lease.AWSAccountID)
	}
	if lease.Status != "terminated" {
		t.Fatalf("status = %q", lease.Status)
	}
	wantStart := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	if !lease.StartDate.Equal(wantStart) {
		t.Fatalf("start date = %v, want %v", lease.StartDate, wantStart)
	}
}

func TestGetLeaseNotFound(t *testing.T) {
	metrics.ResetDefaultForTest()
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error":"no such lease"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "t", fastRetry()).GetLease(context.Background(), leaseUUID)
	if !errors.Is(err, ErrLeaseNotFound) {
		t.Fatalf("want ErrLeaseNotFound, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("404 must not be retried, got %d calls", calls)
	}
}

func TestGetLeaseRetriesServerErrors(t *testing.T) {
	metrics.ResetDefaultForTest()
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "upstream wobble", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{
			"uuid": "` + leaseUUID + `",
			"startDate": "2026-01-15T10:00:00Z",
			"expirationDate": "2026-02-02T15:00:00Z",
			"awsAccountId": "123456789012",
			"status": "terminated"
		}`))
	}))
	defer srv.Close()

	lease, err := NewClient(srv.URL, "t", fastRetry()).GetLease(context.Background(), leaseUUID)
	if err != nil {
		t.Fatalf("GetLease after transient failures: %v", err)
	}
	if calls != 3 {
		t.Fatalf("want 3 calls, got %d", calls)
	}
	if lease.AWSAccountID != "123456789012" {
		t.Fatalf("account id = %q", lease.AWSAccountID)
	}
}

func TestGetLeaseExhaustsRetries(t *testing.T) {
	metrics.ResetDefaultForTest()
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "t", fastRetry()).GetLease(context.Background(), leaseUUID)
	if err == nil {
		t.Fatal("want error after exhausting retries")
	}
	if calls != 3 {
		t.Fatalf("want 3 calls, got %d", calls)
	}
}

func TestGetLeaseRejectsMalformedRecord(t *testing.T) {
	metrics.ResetDefaultForTest()
	cases := []struct {
		name string
		body string
	}{
		{"missing account", `{"startDate":"2026-01-15T10:00:00Z","expirationDate":"2026-02-02T15:00:00Z"}`},
		{"bad start date", `{"awsAccountId":"123456789012","startDate":"yesterday","expirationDate":"2026-02-02T15:00:00Z"}`},
		{"bad expiration", `{"awsAccountId":"123456789012","startDate":"2026-01-15T10:00:00Z","expirationDate":"soon"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			if _, err := NewClient(srv.URL, "t", fastRetry()).GetLease(context.Background(), leaseUUID); err == nil {
				t.Fatal("want error")
			}
		})
	}
}
