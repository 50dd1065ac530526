package model

import "time"

type RunStatus string

const (
	RunStarted   RunStatus = "started"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Stages a collection run moves through, recorded so a failed run is
// diagnosable without re-running it.
type Stage string

const (
	StageLeaseLookup   Stage = "lease_lookup"
	StageAssumeRole    Stage = "assume_role"
	StageBillingQuery  Stage = "billing_query"
	StageReportUpload  Stage = "report_upload"
	StageEventEmit     Stage = "event_emit"
	StageTriggerDelete Stage = "trigger_delete"
)

type LeaseID struct {
	UUID      string `json:"uuid"`
	UserEmail string `json:"userEmail"`
}

type TerminationSignal struct {
	LeaseID   LeaseID `json:"leaseId"`
	AccountID string  `json:"accountId"`
}

// TriggerPayload is embedded verbatim as the deferred schedule's target
// input and decoded strictly (unknown fields rejected) when it fires.
type TriggerPayload struct {
	LeaseID           string `json:"leaseId"`
	UserEmail         string `json:"userEmail"`
	AccountID         string `json:"accountId"`
	LeaseEndTimestamp string `json:"leaseEndTimestamp"`
	TriggerName       string `json:"triggerName"`
}

type BillingWindow struct {
	StartDate string
	EndDate   string
}

type ServiceCost struct {
	ServiceName string  `json:"serviceName"`
	Cost        float64 `json:"cost"`
}

type ResourceCost struct {
	ResourceID   string  `json:"resourceId"`
	ResourceName string  `json:"resourceName"`
	ServiceName  string  `json:"serviceName"`
	Region       string  `json:"region"`
	Cost         float64 `json:"cost"`
}

type CostReport struct {
	AccountID       string         `json:"accountId"`
	StartDate       string         `json:"startDate"`
	EndDate         string         `json:"endDate"`
	TotalCost       float64        `json:"totalCost"`
	CostsByService  []ServiceCost  `json:"costsByService"`
	CostsByResource []ResourceCost `json:"costsByResource,omitempty"`
}

type Lease struct {
	StartDate      time.Time
	ExpirationDate time.Time
	AWSAccountID   string
	Status         string
}

// CollectionRun is one row of the run ledger.
type CollectionRun struct {
	ID         string
	LeaseUUID  string
	UserEmail  string
	AccountID  string
	Status     RunStatus
	Stage      Stage
	TotalCents int64
	StartDate  string
	EndDate    string
	ReportKey  string
	ReportURL  string
	ErrorText  string
	StartedAt  time.Time
	FinishedAt *time.Time
}

type CompletionEvent struct {
	LeaseID      string  `json:"leaseId"`
	UserEmail    string  `json:"userEmail"`
	AccountID    string  `json:"accountId"`
	TotalCost    float64 `json:"totalCost"`
	Currency     string  `json:"currency"`
	StartDate    string  `json:"startDate"`
	EndDate      string  `json:"endDate"`
	ReportURL    string  `json:"reportUrl"`
	URLExpiresAt string  `json:"urlExpiresAt"`
}
