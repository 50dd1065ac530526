package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ListenAddr      string
	DatabaseURL     string
	JWTSecret       string
	IngestSharedKey string
	AWSRegion       string
	Provider        string

	CollectionDelayHours      int
	BillingPaddingHours       int
	JitterMaxMinutes          int
	MaxPages                  int
	MaxRetryAttempts          int
	CredentialDurationSeconds int
	PageDelayMillis           int
	FlexWindowMinutes         int

	ReaperThresholdHours int
	ReaperIntervalHours  int
	RunRetentionDays     int

	ScheduleGroup      string
	ScheduleNamePrefix string
	ScheduleTargetArn  string
	ScheduleRoleArn    string
	CostAccessRoleName string

	LeaseAPIBaseURL string
	LeaseAPIToken   string

	ReportBucket    string
	PresignTTLHours int
	EventBusName    string
	EventSource     string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:      envOrDefault("COSTPLANE_LISTEN_ADDR", ":8080"),
		DatabaseURL:     os.Getenv("COSTPLANE_DATABASE_URL"),
		JWTSecret:       os.Getenv("COSTPLANE_JWT_SECRET"),
		IngestSharedKey: os.Getenv("COSTPLANE_INGEST_SHARED_KEY"),
		AWSRegion:       envOrDefault("COSTPLANE_AWS_REGION", "us-east-1"),
		Provider:        envOrDefault("COSTPLANE_PROVIDER", "fake"),

		ScheduleGroup:      envOrDefault("COSTPLANE_SCHEDULE_GROUP", "costplane-collection"),
		ScheduleNamePrefix: envOrDefault("COSTPLANE_SCHEDULE_NAME_PREFIX", "lease-cost-"),
		ScheduleTargetArn:  os.Getenv("COSTPLANE_SCHEDULE_TARGET_ARN"),
		ScheduleRoleArn:    os.Getenv("COSTPLANE_SCHEDULE_ROLE_ARN"),
		CostAccessRoleName: envOrDefault("COSTPLANE_COST_ACCESS_ROLE_NAME", "SandboxCostRead"),

		LeaseAPIBaseURL: os.Getenv("COSTPLANE_LEASE_API_BASE_URL"),
		LeaseAPIToken:   os.Getenv("COSTPLANE_LEASE_API_TOKEN"),

		ReportBucket: os.Getenv("COSTPLANE_REPORT_BUCKET"),
		EventBusName: envOrDefault("COSTPLANE_EVENT_BUS_NAME", "default"),
		EventSource:  envOrDefault("COSTPLANE_EVENT_SOURCE", "costplane.collection"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("COSTPLANE_DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("COSTPLANE_JWT_SECRET is required")
	}
	if cfg.IngestSharedKey == "" {
		return Config{}, fmt.Errorf("COSTPLANE_INGEST_SHARED_KEY is required")
	}
	if cfg.Provider != "fake" && cfg.Provider != "aws" {
		return Config{}, fmt.Errorf("COSTPLANE_PROVIDER must be one of fake|aws")
	}
	if cfg.Provider == "aws" {
		required := []struct{ name, value string }{
			{"COSTPLANE_SCHEDULE_TARGET_ARN", cfg.ScheduleTargetArn},
			{"COSTPLANE_SCHEDULE_ROLE_ARN", cfg.ScheduleRoleArn},
			{"COSTPLANE_LEASE_API_BASE_URL", cfg.LeaseAPIBaseURL},
			{"COSTPLANE_REPORT_BUCKET", cfg.ReportBucket},
		}
		for _, req := range required {
			if strings.TrimSpace(req.value) == "" {
				return Config{}, fmt.Errorf("%s is required for aws provider", req.name)
			}
		}
	}

	var err error
	bounded := func(key string, def, lo, hi int) int {
		if err != nil {
			return def
		}
		var n int
		n, err = intEnvInRange(key, def, lo, hi)
		return n
	}
	cfg.CollectionDelayHours = bounded("COSTPLANE_COLLECTION_DELAY_HOURS", 24, 0, 720)
	cfg.BillingPaddingHours = bounded("COSTPLANE_BILLING_PADDING_HOURS", 8, 0, 168)
	cfg.JitterMaxMinutes = bounded("COSTPLANE_JITTER_MAX_MINUTES", 30, 0, 1440)
	cfg.MaxPages = bounded("COSTPLANE_MAX_PAGES", 100, 1, 1000)
	cfg.MaxRetryAttempts = bounded("COSTPLANE_MAX_RETRY_ATTEMPTS", 3, 1, 10)
	cfg.CredentialDurationSeconds = bounded("COSTPLANE_CREDENTIAL_DURATION_SECONDS", 7200, 900, 43200)
	cfg.PageDelayMillis = bounded("COSTPLANE_PAGE_DELAY_MILLIS", 200, 0, 10000)
	cfg.FlexWindowMinutes = bounded("COSTPLANE_FLEX_WINDOW_MINUTES", 5, 1, 60)
	cfg.ReaperThresholdHours = bounded("COSTPLANE_REAPER_THRESHOLD_HOURS", 72, 1, 8760)
	cfg.ReaperIntervalHours = bounded("COSTPLANE_REAPER_INTERVAL_HOURS", 24, 1, 168)
	cfg.RunRetentionDays = bounded("COSTPLANE_RUN_RETENTION_DAYS", 90, 1, 3650)
	cfg.PresignTTLHours = bounded("COSTPLANE_PRESIGN_TTL_HOURS", 24, 1, 168)
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func envOrDefault(k, v string) string {
	if raw := os.Getenv(k); raw != "" {
		return raw
	}
	return v
}

func intEnvInRange(k string, def, lo, hi int) (int, error) {
	raw := os.Getenv(k)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", k, raw)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%s must be in [%d, %d], got %d", k, lo, hi, n)
	}
	return n, nil
}
