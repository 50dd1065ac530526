package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"

	"github.com/leasewatch/costplane/internal/awsx"
	"github.com/leasewatch/costplane/internal/metrics"
	"github.com/leasewatch/costplane/internal/model"
)

var (
	ErrTooManyPages  = errors.New("billing query exceeded page cap")
	ErrTimeBudget    = errors.New("billing query exceeded execution time budget")
	ErrMalformedPage = errors.New("billing response missing cost metric")
)

const (
	costMetric           = "UnblendedCost"
	unattributedResource = "unattributed"
)

type CostExplorerAPI interface {
	GetCostAndUsage(ctx context.Context, in *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
	GetCostAndUsageWithResources(ctx context.Context, in *costexplorer.GetCostAndUsageWithResourcesInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageWithResourcesOutput, error)
}

type CollectorOptions struct {
	MaxPages             int
	PageDelay            time.Duration
	Retry                awsx.RetryPolicy
	WithResources        bool
	ResourceLookbackDays int
}

type Collector struct {
	api   CostExplorerAPI
	opts  CollectorOptions
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func NewCollector(api CostExplorerAPI, opts CollectorOptions) *Collector {
	if opts.MaxPages < 1 {
		opts.MaxPages = 100
	}
	if opts.ResourceLookbackDays < 1 {
		opts.ResourceLookbackDays = 14
	}
	return &Collector{
		api:   api,
		opts:  opts,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

type serviceTotal struct {
	name  string
	cents int64
}

// Collect aggregates the account's costs over the window. An abort from
// the page cap or the time budget fails the whole run; a partial report
// is never returned.
func (c *Collector) Collect(ctx context.Context, accountID string, window model.BillingWindow) (*model.CostReport, error) {
	guard := c.newGuard(ctx)

	services, err := c.collectByService(ctx, accountID, window, guard)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(services, func(i, j int) bool { return services[i].cents > services[j].cents })

	var totalCents int64
	byService := make([]model.ServiceCost, 0, len(services))
	for _, s := range services {
		totalCents += s.cents
		byService = append(byService, model.ServiceCost{ServiceName: s.name, Cost: centsToDollars(s.cents)})
	}

	report := &model.CostReport{
		AccountID:      accountID,
		StartDate:      window.StartDate,
		EndDate:        window.EndDate,
		TotalCost:      centsToDollars(totalCents),
		CostsByService: byService,
	}

	if c.opts.WithResources && len(services) > 0 {
		resources, err := c.collectByResource(ctx, accountID, window, services, guard)
		if err != nil {
			return nil, err
		}
		report.CostsByResource = resources
	}
	return report, nil
}

func (c *Collector) collectByService(ctx context.Context, accountID string, window model.BillingWindow, guard *pageGuard) ([]serviceTotal, error) {
	cents := make(map[string]int64)
	order := make([]string, 0)

	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &cetypes.DateInterval{
			Start: aws.String(window.StartDate),
			End:   aws.String(window.EndDate),
		},
		Granularity: cetypes.GranularityDaily,
		Metrics:     []string{costMetric},
		GroupBy: []cetypes.GroupDefinition{
			{Type: cetypes.GroupDefinitionTypeDimension, Key: aws.String("SERVICE")},
		},
		Filter: accountFilter(accountID),
	}

	for {
		if err := guard.beforeFetch(c.now()); err != nil {
			return nil, fmt.Errorf("service cost query for account %s: %w", accountID, err)
		}
		out, err := c.fetchServicePage(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("service cost query for account %s: %w", accountID, err)
		}
		for _, result := range out.ResultsByTime {
			for _, group := range result.Groups {
				name, amount, err := groupAmount(group)
				if err != nil {
					return nil, err
				}
				if _, seen := cents[name]; !seen {
					order = append(order, name)
				}
				cents[name] += absCents(amount)
			}
		}
		token := aws.ToString(out.NextPageToken)
		if token == "" {
			break
		}
		input.NextPageToken = aws.String(token)
		if err := c.sleep(ctx, c.opts.PageDelay); err != nil {
			return nil, err
		}
	}

	totals := make([]serviceTotal, 0, len(order))
	for _, name := range order {
		totals = append(totals, serviceTotal{name: name, cents: cents[name]})
	}
	return totals, nil
}

func (c *Collector) collectByResource(ctx context.Context, accountID string, window model.BillingWindow, services []serviceTotal, guard *pageGuard) ([]model.ResourceCost, error) {
	// Resource-level data is only retained for a short lookback window;
	// clamp the query start and skip the breakdown entirely when the
	// clamped window collapses.
	start := window.StartDate
	earliest := c.now().UTC().AddDate(0, 0, -c.opts.ResourceLookbackDays).Format(dateLayout)
	if start < earliest {
		start = earliest
	}
	if start >= window.EndDate {
		log.Printf("event=resource_costs_skipped account_id=%s reason=outside_lookback", accountID)
		return nil, nil
	}

	rows := make([]model.ResourceCost, 0)
	for _, svc := range services {
		svcRows, err := c.collectServiceResources(ctx, accountID, svc, start, window.EndDate, guard)
		if err != nil {
			return nil, err
		}
		rows = append(rows, svcRows...)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Cost > rows[j].Cost })
	return rows, nil
}

func (c *Collector) collectServiceResources(ctx context.Context, accountID string, svc serviceTotal, startDate, endDate string, guard *pageGuard) ([]model.ResourceCost, error) {
	cents := make(map[string]int64)
	order := make([]string, 0)

	input := &costexplorer.GetCostAndUsageWithResourcesInput{
		TimePeriod: &cetypes.DateInterval{
			Start: aws.String(startDate),
			End:   aws.String(endDate),
		},
		Granularity: cetypes.GranularityDaily,
		Metrics:     []string{costMetric},
		GroupBy: []cetypes.GroupDefinition{
			{Type: cetypes.GroupDefinitionTypeDimension, Key: aws.String("RESOURCE_ID")},
		},
		Filter: serviceFilter(accountID, svc.name),
	}

	for {
		if err := guard.beforeFetch(c.now()); err != nil {
			return nil, fmt.Errorf("resource cost query for service %s: %w", svc.name, err)
		}
		out, err := c.fetchResourcePage(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("resource cost query for service %s: %w", svc.name, err)
		}
		for _, result := range out.ResultsByTime {
			for _, group := range result.Groups {
				id, amount, err := groupAmount(group)
				if err != nil {
					return nil, err
				}
				if _, seen := cents[id]; !seen {
					order = append(order, id)
				}
				cents[id] += absCents(amount)
			}
		}
		token := aws.ToString(out.NextPageToken)
		if token == "" {
			break
		}
		input.NextPageToken = aws.String(token)
		if err := c.sleep(ctx, c.opts.PageDelay); err != nil {
			return nil, err
		}
	}

	if len(order) == 0 {
		// Keep resource totals reconcilable with the service total.
		return []model.ResourceCost{{
			ResourceID:   unattributedResource,
			ResourceName: unattributedResource,
			ServiceName:  svc.name,
			Cost:         centsToDollars(svc.cents),
		}}, nil
	}

	rows := make([]model.ResourceCost, 0, len(order))
	for _, id := range order {
		rows = append(rows, model.ResourceCost{
			ResourceID:   id,
			ResourceName: resourceName(id),
			ServiceName:  svc.name,
			Region:       resourceRegion(id),
			Cost:         centsToDollars(cents[id]),
		})
	}
	return rows, nil
}

func (c *Collector) fetchServicePage(ctx context.Context, input *costexplorer.GetCostAndUsageInput) (*costexplorer.GetCostAndUsageOutput, error) {
	var out *costexplorer.GetCostAndUsageOutput
	start := c.now()
	err := awsx.Do(ctx, "billing_query", c.opts.Retry, func(callCtx context.Context) error {
		var callErr error
		out, callErr = c.api.GetCostAndUsage(callCtx, input)
		return callErr
	})
	observePage("service", start, c.now(), err)
	return out, err
}

func (c *Collector) fetchResourcePage(ctx context.Context, input *costexplorer.GetCostAndUsageWithResourcesInput) (*costexplorer.GetCostAndUsageWithResourcesOutput, error) {
	var out *costexplorer.GetCostAndUsageWithResourcesOutput
	start := c.now()
	err := awsx.Do(ctx, "billing_query", c.opts.Retry, func(callCtx context.Context) error {
		var callErr error
		out, callErr = c.api.GetCostAndUsageWithResources(callCtx, input)
		return callErr
	})
	observePage("resource", start, c.now(), err)
	return out, err
}

func observePage(kind string, start, end time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	labels := map[string]string{"kind": kind, "status": status}
	metrics.Default().IncCounter("costplane_billing_pages_total", labels)
	metrics.Default().ObserveHistogram("costplane_billing_query_latency_ms", float64(end.Sub(start).Milliseconds()), labels)
}

type pageGuard struct {
	maxPages int
	cutoff   time.Time
	pages    int
}

// newGuard derives the shared page/time budget for one collection run.
// The cutoff sits at 90% of the caller's deadline so the run aborts
// itself cleanly instead of being killed mid-request.
func (c *Collector) newGuard(ctx context.Context) *pageGuard {
	g := &pageGuard{maxPages: c.opts.MaxPages}
	if deadline, ok := ctx.Deadline(); ok {
		now := c.now()
		g.cutoff = now.Add(deadline.Sub(now) * 9 / 10)
	}
	return g
}

func (g *pageGuard) beforeFetch(now time.Time) error {
	if g.pages >= g.maxPages {
		log.Printf("event=billing_page_cap pages=%d", g.pages)
		return ErrTooManyPages
	}
	if !g.cutoff.IsZero() && now.After(g.cutoff) {
		log.Printf("event=billing_time_budget pages=%d", g.pages)
		return ErrTimeBudget
	}
	g.pages++
	return nil
}

func groupAmount(group cetypes.Group) (string, int64, error) {
	if len(group.Keys) == 0 {
		return "", 0, ErrMalformedPage
	}
	name := group.Keys[0]
	metric, ok := group.Metrics[costMetric]
	if !ok || metric.Amount == nil {
		return "", 0, fmt.Errorf("%w: group %q", ErrMalformedPage, name)
	}
	cents, err := ParseCents(aws.ToString(metric.Amount))
	if err != nil {
		return "", 0, err
	}
	return name, cents, nil
}

func accountFilter(accountID string) *cetypes.Expression {
	return &cetypes.Expression{
		And: []cetypes.Expression{
			{Dimensions: &cetypes.DimensionValues{
				Key:    cetypes.DimensionLinkedAccount,
				Values: []string{accountID},
			}},
			{Not: &cetypes.Expression{Dimensions: &cetypes.DimensionValues{
				Key:    cetypes.DimensionRecordType,
				Values: []string{"Credit", "Refund"},
			}}},
		},
	}
}

func serviceFilter(accountID, service string) *cetypes.Expression {
	base := accountFilter(accountID)
	base.And = append(base.And, cetypes.Expression{
		Dimensions: &cetypes.DimensionValues{
			Key:    cetypes.DimensionService,
			Values: []string{service},
		},
	})
	return base
}

// Resource ids are usually ARNs; pull region and a short display name
// out when they are.
func resourceRegion(id string) string {
	if !strings.HasPrefix(id, "arn:") {
		return ""
	}
	parts := strings.SplitN(id, ":", 6)
	if len(parts) < 4 {
		return ""
	}
	return parts[3]
}

func resourceName(id string) string {
	if !strings.HasPrefix(id, "arn:") {
		return id
	}
	trimmed := id
	if idx := strings.LastIndexAny(trimmed, ":/"); idx >= 0 && idx+1 < len(trimmed) {
		return trimmed[idx+1:]
	}
	return id
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
