package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/leasewatch/costplane/internal/model"
)

// DetailTypeLeaseTerminated is the inbound event name the ingest
// endpoint accepts.
const DetailTypeLeaseTerminated = "LeaseTerminated"

const maxEnvelopeBytes = 64 << 10

var ErrUnknownDetailType = errors.New("unknown detail-type")

// Envelope is the bus-shaped wrapper around an inbound event.
type Envelope struct {
	DetailType string          `json:"detail-type"`
	Source     string          `json:"source"`
	Detail     json.RawMessage `json:"detail"`
}

// ParseTermination decodes a LeaseTerminated envelope. Both layers are
// decoded strictly so schema drift surfaces as a 400 at the edge, not
// as a failed collection a day later.
func ParseTermination(r io.Reader) (model.TerminationSignal, error) {
	var sig model.TerminationSignal

	body, err := io.ReadAll(io.LimitReader(r, maxEnvelopeBytes))
	if err != nil {
		return sig, fmt.Errorf("read event body: %w", err)
	}

	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return sig, fmt.Errorf("decode event envelope: %w", err)
	}
	if env.DetailType != DetailTypeLeaseTerminated {
		return sig, fmt.Errorf("%w: %q", ErrUnknownDetailType, env.DetailType)
	}
	if len(env.Detail) == 0 {
		return sig, errors.New("event envelope has no detail")
	}

	dec = json.NewDecoder(bytes.NewReader(env.Detail))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sig); err != nil {
		return sig, fmt.Errorf("decode termination detail: %w", err)
	}
	if err := sig.Validate(); err != nil {
		return sig, err
	}
	return sig, nil
}
