package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/leasewatch/costplane/internal/model"
)

// RenderCSV serializes a cost report. With resource rows present the
// file carries one line per resource; otherwise one line per service.
// The grand total is always the last row.
func RenderCSV(rep model.CostReport) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	var rows [][]string
	if len(rep.CostsByResource) > 0 {
		rows = append(rows, []string{"account_id", "service", "resource_id", "resource_name", "region", "cost_usd"})
		for _, rc := range rep.CostsByResource {
			rows = append(rows, []string{
				rep.AccountID, rc.ServiceName, rc.ResourceID, rc.ResourceName, rc.Region, formatUSD(rc.Cost),
			})
		}
		rows = append(rows, []string{rep.AccountID, "TOTAL", "", "", "", formatUSD(rep.TotalCost)})
	} else {
		rows = append(rows, []string{"account_id", "service", "cost_usd"})
		for _, sc := range rep.CostsByService {
			rows = append(rows, []string{rep.AccountID, sc.ServiceName, formatUSD(sc.Cost)})
		}
		rows = append(rows, []string{rep.AccountID, "TOTAL", formatUSD(rep.TotalCost)})
	}

	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("render report csv: %w", err)
	}
	return buf.Bytes(), nil
}

// ObjectKey is the bucket location for a lease's report.
func ObjectKey(accountID, leaseUUID string) string {
	return "reports/" + accountID + "/" + leaseUUID + ".csv"
}

func formatUSD(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
