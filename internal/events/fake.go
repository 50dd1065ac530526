package events

import (
	"context"
	"log"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/google/uuid"
)

// FakeBus is an in-memory EventBridgeAPI for the fake backend. Accepted
// entries are kept and logged instead of leaving the process.
type FakeBus struct {
	mu      sync.Mutex
	entries []ebtypes.PutEventsRequestEntry
}

func NewFakeBus() *FakeBus {
	return &FakeBus{}
}

func (f *FakeBus) PutEvents(_ context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := &eventbridge.PutEventsOutput{}
	for _, entry := range in.Entries {
		f.entries = append(f.entries, entry)
		out.Entries = append(out.Entries, ebtypes.PutEventsResultEntry{
			EventId: aws.String(uuid.NewString()),
		})
		log.Printf("event=fake_bus_put source=%s detail_type=%s", aws.ToString(entry.Source), aws.ToString(entry.DetailType))
	}
	return out, nil
}

func (f *FakeBus) Entries() []ebtypes.PutEventsRequestEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ebtypes.PutEventsRequestEntry(nil), f.entries...)
}
