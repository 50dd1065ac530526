package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leasewatch/costplane/internal/awsx"
	"github.com/leasewatch/costplane/internal/config"
	"github.com/leasewatch/costplane/internal/jobs"
	"github.com/leasewatch/costplane/internal/schedule"
	"github.com/leasewatch/costplane/internal/store"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}
	ledger := store.New(pool)

	retry := awsx.RetryPolicy{
		MaxAttempts: cfg.MaxRetryAttempts,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
	}

	var schedClient schedule.SchedulerAPI
	switch cfg.Provider {
	case "aws":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			log.Fatalf("load aws config: %v", err)
		}
		schedClient = scheduler.NewFromConfig(awsCfg)
	default:
		schedClient = schedule.NewFakeScheduler()
	}

	reaper := schedule.NewReaper(schedClient, cfg.ScheduleGroup,
		time.Duration(cfg.ReaperThresholdHours)*time.Hour, retry)

	jobs.NewRunner(reaper, ledger, jobs.RunnerOptions{
		ReaperInterval: time.Duration(cfg.ReaperIntervalHours) * time.Hour,
		PruneInterval:  24 * time.Hour,
		RunRetention:   time.Duration(cfg.RunRetentionDays) * 24 * time.Hour,
	}).Start(ctx)

	log.Printf("costplane jobs worker started provider=%s", cfg.Provider)
	<-ctx.Done()
	log.Printf("costplane jobs worker stopping")
}
