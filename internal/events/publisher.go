package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/leasewatch/costplane/internal/awsx"
	"github.com/leasewatch/costplane/internal/model"
)

// DetailTypeReportReady is the outbound event name emitted once a
// lease's cost report is uploaded and linkable.
const DetailTypeReportReady = "LeaseCostReportReady"

type EventBridgeAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Publisher emits completion events onto the shared bus.
type Publisher struct {
	client EventBridgeAPI
	bus    string
	source string
	retry  awsx.RetryPolicy
}

func NewPublisher(client EventBridgeAPI, bus, source string, retry awsx.RetryPolicy) *Publisher {
	return &Publisher{client: client, bus: bus, source: source, retry: retry}
}

// PublishReportReady emits the LeaseCostReportReady event. A response
// with a non-zero failed entry count is an error even when the call
// itself succeeded.
func (p *Publisher) PublishReportReady(ctx context.Context, ev model.CompletionEvent) error {
	detail, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal completion event: %w", err)
	}

	entry := ebtypes.PutEventsRequestEntry{
		EventBusName: aws.String(p.bus),
		Source:       aws.String(p.source),
		DetailType:   aws.String(DetailTypeReportReady),
		Detail:       aws.String(string(detail)),
	}

	err = awsx.Do(ctx, "put_events", p.retry, func(callCtx context.Context) error {
		out, callErr := p.client.PutEvents(callCtx, &eventbridge.PutEventsInput{
			Entries: []ebtypes.PutEventsRequestEntry{entry},
		})
		if callErr != nil {
			return callErr
		}
		if out.FailedEntryCount > 0 {
			for _, e := range out.Entries {
				if e.ErrorCode != nil {
					return fmt.Errorf("event entry rejected: %s: %s",
						aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
				}
			}
			return fmt.Errorf("event bus rejected %d entries", out.FailedEntryCount)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish completion for lease %s: %w", ev.LeaseID, err)
	}

	log.Printf("event=completion_published lease_id=%s account_id=%s total=%.2f", ev.LeaseID, ev.AccountID, ev.TotalCost)
	return nil
}
