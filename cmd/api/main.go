package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leasewatch/costplane/internal/api"
	"github.com/leasewatch/costplane/internal/awsx"
	"github.com/leasewatch/costplane/internal/billing"
	"github.com/leasewatch/costplane/internal/collect"
	"github.com/leasewatch/costplane/internal/config"
	"github.com/leasewatch/costplane/internal/events"
	"github.com/leasewatch/costplane/internal/leases"
	"github.com/leasewatch/costplane/internal/model"
	"github.com/leasewatch/costplane/internal/report"
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

	var (
		schedClient schedule.SchedulerAPI
		provider    collect.CollectorProvider
		leaseAPI    collect.LeaseAPI
		s3Client    report.S3API
		presign     report.PresignAPI
		busClient   events.EventBridgeAPI
	)
	switch cfg.Provider {
	case "aws":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			log.Fatalf("load aws config: %v", err)
		}
		schedClient = scheduler.NewFromConfig(awsCfg)
		busClient = eventbridge.NewFromConfig(awsCfg)
		realS3 := s3.NewFromConfig(awsCfg)
		s3Client = realS3
		presign = s3.NewPresignClient(realS3)
		provider = collect.NewAWSProvider(sts.NewFromConfig(awsCfg), awsCfg, collect.AWSProviderOptions{
			Region:          cfg.AWSRegion,
			CostAccessRole:  cfg.CostAccessRoleName,
			SessionPrefix:   "costplane",
			DurationSeconds: cfg.CredentialDurationSeconds,
			Retry:           retry,
			CollectorOptions: billing.CollectorOptions{
				MaxPages:      cfg.MaxPages,
				PageDelay:     time.Duration(cfg.PageDelayMillis) * time.Millisecond,
				Retry:         retry,
				WithResources: true,
			},
		})
		leaseAPI = leases.NewClient(cfg.LeaseAPIBaseURL, cfg.LeaseAPIToken, retry)
	default:
		schedClient = schedule.NewFakeScheduler()
		fakeStore := report.NewFakeObjectStore()
		s3Client = fakeStore
		presign = fakeStore
		busClient = events.NewFakeBus()
		provider = &collect.StaticProvider{Services: []model.ServiceCost{
			{ServiceName: "Amazon Elastic Compute Cloud - Compute", Cost: 100.50},
			{ServiceName: "Amazon Simple Storage Service", Cost: 49.50},
		}}
		leaseAPI = &leases.StaticSource{AccountID: "123456789012"}
	}

	manager := schedule.NewManager(schedClient, schedule.ManagerOptions{
		Group:             cfg.ScheduleGroup,
		NamePrefix:        cfg.ScheduleNamePrefix,
		TargetArn:         cfg.ScheduleTargetArn,
		TargetRoleArn:     cfg.ScheduleRoleArn,
		Delay:             time.Duration(cfg.CollectionDelayHours) * time.Hour,
		JitterMax:         time.Duration(cfg.JitterMaxMinutes) * time.Minute,
		FlexWindowMinutes: cfg.FlexWindowMinutes,
		Retry:             retry,
	})
	reports := report.NewStore(s3Client, presign, cfg.ReportBucket,
		time.Duration(cfg.PresignTTLHours)*time.Hour, retry)
	publisher := events.NewPublisher(busClient, cfg.EventBusName, cfg.EventSource, retry)
	runner := collect.NewRunner(leaseAPI, provider, reports, publisher, manager, ledger, collect.RunnerOptions{
		BillingPaddingHours: cfg.BillingPaddingHours,
	})

	handler := api.NewRouter(cfg, manager, runner, ledger)

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// A collect hook paginates the billing API inline before it
		// writes a response.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("costplane api listening on %s provider=%s", cfg.ListenAddr, cfg.Provider)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server: %v", err)
	}
}
