package collect

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"

	"github.com/leasewatch/costplane/internal/awsx"
	"github.com/leasewatch/costplane/internal/billing"
	"github.com/leasewatch/costplane/internal/model"
)

type AWSProviderOptions struct {
	Region           string
	CostAccessRole   string
	SessionPrefix    string
	DurationSeconds  int
	Retry            awsx.RetryPolicy
	CollectorOptions billing.CollectorOptions
}

// AWSProvider builds per-account cost explorer collectors behind the
// cross-account role, caching each constructed client until shortly
// before its credentials expire.
type AWSProvider struct {
	sts   awsx.STSAPI
	cfg   aws.Config
	cache *awsx.ClientCache
	opts  AWSProviderOptions
}

func NewAWSProvider(stsAPI awsx.STSAPI, cfg aws.Config, opts AWSProviderOptions) *AWSProvider {
	return &AWSProvider{
		sts:   stsAPI,
		cfg:   cfg,
		cache: awsx.NewClientCache(),
		opts:  opts,
	}
}

func (p *AWSProvider) CollectorFor(ctx context.Context, accountID string) (BillingCollector, error) {
	roleArn := fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, p.opts.CostAccessRole)
	key := awsx.CacheKey("costexplorer", p.opts.Region, roleArn, nil)

	client, err := p.cache.GetOrCreate(key, func() (any, time.Time, error) {
		creds, err := awsx.AssumeRole(ctx, p.sts, roleArn, p.opts.SessionPrefix, p.opts.DurationSeconds, p.opts.Retry)
		if err != nil {
			return nil, time.Time{}, err
		}
		ce := costexplorer.NewFromConfig(p.cfg, func(o *costexplorer.Options) {
			o.Region = p.opts.Region
			o.Credentials = credentials.NewStaticCredentialsProvider(
				creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)
		})
		return ce, creds.Expiration, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collector for account %s: %w", accountID, err)
	}

	api, ok := client.(billing.CostExplorerAPI)
	if !ok {
		return nil, fmt.Errorf("cached client for %s has unexpected type %T", key, client)
	}
	return billing.NewCollector(api, p.opts.CollectorOptions), nil
}

// StaticProvider serves a canned report for every account. It backs the
// fake backend so the whole pipeline can run without AWS.
type StaticProvider struct {
	Services []model.ServiceCost
}

func (p *StaticProvider) CollectorFor(context.Context, string) (BillingCollector, error) {
	return staticCollector{services: p.Services}, nil
}

type staticCollector struct {
	services []model.ServiceCost
}

func (c staticCollector) Collect(_ context.Context, accountID string, window model.BillingWindow) (*model.CostReport, error) {
	var total float64
	for _, s := range c.services {
		total += s.Cost
	}
	return &model.CostReport{
		AccountID:      accountID,
		StartDate:      window.StartDate,
		EndDate:        window.EndDate,
		TotalCost:      total,
		CostsByService: append([]model.ServiceCost(nil), c.services...),
	}, nil
}
