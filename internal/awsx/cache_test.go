package awsx

import (
	"errors"
	"testing"
	"time"
)

func TestCacheKey(t *testing.T) {
	k1 := CacheKey("costexplorer", "us-east-1", "arn:aws:iam::123456789012:role/r", nil)
	k2 := CacheKey("costexplorer", "us-east-1", "arn:aws:iam::999999999999:role/r", nil)
	if k1 == k2 {
		t.Fatal("keys for different identities collide")
	}
	if got := CacheKey("sts", "", "", nil); got != "sts|default|none" {
		t.Fatalf("empty defaults: %q", got)
	}
	withOpts := CacheKey("s3", "us-east-1", "none", map[string]string{"endpoint": "custom"})
	if withOpts == CacheKey("s3", "us-east-1", "none", nil) {
		t.Fatal("extra options not reflected in key")
	}
}

func TestGetOrCreate_ReusesUntilExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewClientCache()
	c.now = func() time.Time { return now }

	made := 0
	factory := func() (any, time.Time, error) {
		made++
		return made, time.Time{}, nil
	}

	first, err := c.GetOrCreate("k", factory)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	again, _ := c.GetOrCreate("k", factory)
	if first != again || made != 1 {
		t.Fatalf("expected cached reuse, made=%d", made)
	}

	// Default TTL is an hour; step past it.
	now = now.Add(61 * time.Minute)
	replaced, _ := c.GetOrCreate("k", factory)
	if replaced == first || made != 2 {
		t.Fatalf("expected replacement after ttl, made=%d", made)
	}
}

func TestGetOrCreate_CredentialExpiryWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewClientCache()
	c.now = func() time.Time { return now }

	made := 0
	credExpiry := now.Add(30 * time.Minute)
	factory := func() (any, time.Time, error) {
		made++
		return made, credExpiry, nil
	}

	if _, err := c.GetOrCreate("k", factory); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	// Five minutes before credential expiry the entry must already be
	// considered stale; reusing it would hand out dying credentials.
	now = credExpiry.Add(-4 * time.Minute)
	credExpiry = now.Add(time.Hour)
	if _, err := c.GetOrCreate("k", factory); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if made != 2 {
		t.Fatalf("expected re-creation inside expiry margin, made=%d", made)
	}
}

func TestGetOrCreate_FactoryErrorNotCached(t *testing.T) {
	c := NewClientCache()
	boom := errors.New("boom")
	if _, err := c.GetOrCreate("k", func() (any, time.Time, error) { return nil, time.Time{}, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}
	made := 0
	if _, err := c.GetOrCreate("k", func() (any, time.Time, error) { made++; return made, time.Time{}, nil }); err != nil {
		t.Fatalf("GetOrCreate after failure: %v", err)
	}
	if made != 1 {
		t.Fatalf("factory not re-invoked after failure")
	}
}

func TestClear(t *testing.T) {
	c := NewClientCache()
	made := 0
	factory := func() (any, time.Time, error) { made++; return made, time.Time{}, nil }
	if _, err := c.GetOrCreate("k", factory); err != nil {
		t.Fatal(err)
	}
	c.Clear()
	if _, err := c.GetOrCreate("k", factory); err != nil {
		t.Fatal(err)
	}
	if made != 2 {
		t.Fatalf("expected rebuild after Clear, made=%d", made)
	}
}
