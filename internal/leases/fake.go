package leases

import (
	"context"
	"time"

	"github.com/leasewatch/costplane/internal/model"
)

// StaticSource returns the same lease record for every uuid. It backs
// the fake backend where no lease API exists to call.
type StaticSource struct {
	AccountID string
}

func (s *StaticSource) GetLease(_ context.Context, _ string) (model.Lease, error) {
	now := time.Now().UTC()
	return model.Lease{
		StartDate:      now.Add(-7 * 24 * time.Hour),
		ExpirationDate: now,
		AWSAccountID:   s.AccountID,
		Status:         "terminated",
	}, nil
}
