package billing

import (
	"fmt"
	"time"

	"github.com/leasewatch/costplane/internal/model"
)

const dateLayout = "2006-01-02"

// ComputeWindow pads the lease interval by paddingHours on both ends and
// aligns it to UTC day boundaries: the start floors to midnight, the end
// ceils to the next midnight unless it already sits on one. The end date
// is exclusive, matching the billing API's half-open convention.
func ComputeWindow(leaseStart, leaseEnd string, paddingHours int) (model.BillingWindow, error) {
	start, err := time.Parse(time.RFC3339, leaseStart)
	if err != nil {
		return model.BillingWindow{}, fmt.Errorf("invalid lease start timestamp %q: %v", leaseStart, err)
	}
	end, err := time.Parse(time.RFC3339, leaseEnd)
	if err != nil {
		return model.BillingWindow{}, fmt.Errorf("invalid lease end timestamp %q: %v", leaseEnd, err)
	}

	padding := time.Duration(paddingHours) * time.Hour
	paddedStart := start.Add(-padding).UTC()
	paddedEnd := end.Add(padding).UTC()

	floorStart := paddedStart.Truncate(24 * time.Hour)
	ceilEnd := paddedEnd.Truncate(24 * time.Hour)
	if paddedEnd.After(ceilEnd) {
		ceilEnd = ceilEnd.Add(24 * time.Hour)
	}

	return model.BillingWindow{
		StartDate: floorStart.Format(dateLayout),
		EndDate:   ceilEnd.Format(dateLayout),
	}, nil
}
