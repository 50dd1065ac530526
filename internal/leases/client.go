package leases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/leasewatch/costplane/internal/awsx"
	"github.com/leasewatch/costplane/internal/model"
)

// ErrLeaseNotFound means the lease API has no record for the uuid. The
// caller must fail the run permanently rather than retry.
var ErrLeaseNotFound = errors.New("lease not found")

const requestTimeout = 10 * time.Second

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	retry   awsx.RetryPolicy
}

func NewClient(baseURL, token string, retry awsx.RetryPolicy) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
		retry:   retry,
	}
}

// leaseDocument is the wire shape of a lease record. Fields the
// collector does not need are ignored on decode.
type leaseDocument struct {
	UUID           string `json:"uuid"`
	StartDate      string `json:"startDate"`
	ExpirationDate string `json:"expirationDate"`
	AWSAccountID   string `json:"awsAccountId"`
	Status         string `json:"status"`
}

// GetLease fetches the lease record for a uuid. A 404 maps to
// ErrLeaseNotFound without retrying; transient statuses ride the shared
// retry classifier.
func (c *Client) GetLease(ctx context.Context, leaseUUID string) (model.Lease, error) {
	endpoint := c.baseURL + "/leases/" + url.PathEscape(leaseUUID)

	var doc leaseDocument
	err := awsx.Do(ctx, "lease_lookup", c.retry, func(callCtx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return &awsx.StatusError{Op: "lease_lookup", Status: resp.StatusCode}
		}
		return json.NewDecoder(resp.Body).Decode(&doc)
	})
	if err != nil {
		var statusErr *awsx.StatusError
		if errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound {
			return model.Lease{}, fmt.Errorf("lease %s: %w", leaseUUID, ErrLeaseNotFound)
		}
		return model.Lease{}, fmt.Errorf("fetch lease %s: %w", leaseUUID, err)
	}

	lease, err := doc.toModel()
	if err != nil {
		return model.Lease{}, fmt.Errorf("lease %s: %w", leaseUUID, err)
	}
	return lease, nil
}

func (d leaseDocument) toModel() (model.Lease, error) {
	if d.AWSAccountID == "" {
		return model.Lease{}, errors.New("record missing awsAccountId")
	}
	start, err := time.Parse(time.RFC3339, d.StartDate)
	if err != nil {
		return model.Lease{}, fmt.Errorf("startDate: %v", err)
	}
	end, err := time.Parse(time.RFC3339, d.ExpirationDate)
	if err != nil {
		return model.Lease{}, fmt.Errorf("expirationDate: %v", err)
	}
	return model.Lease{
		StartDate:      start,
		ExpirationDate: end,
		AWSAccountID:   d.AWSAccountID,
		Status:         d.Status,
	}, nil
}
