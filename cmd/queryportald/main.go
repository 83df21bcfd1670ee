package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	queryportal "github.com/harshg-zluri/db-query-portal-sub000"
	"github.com/harshg-zluri/db-query-portal-sub000/internal/config"
	"github.com/harshg-zluri/db-query-portal-sub000/internal/engine"
	"github.com/harshg-zluri/db-query-portal-sub000/internal/executor"
	"github.com/harshg-zluri/db-query-portal-sub000/internal/lock"
	"github.com/harshg-zluri/db-query-portal-sub000/internal/notification"
	"github.com/harshg-zluri/db-query-portal-sub000/internal/queue"
	"github.com/harshg-zluri/db-query-portal-sub000/internal/sandbox"
	"github.com/harshg-zluri/db-query-portal-sub000/internal/store"
	"github.com/harshg-zluri/db-query-portal-sub000/pkg/crypto"
	"github.com/harshg-zluri/db-query-portal-sub000/pkg/logging"
)

func main() {
	configPath := flag.String("config", "queryportal.yaml", "path to the configuration file")
	dsn := flag.String("dsn", "", "metadata store DSN, overrides the config file")
	workerID := flag.String("worker-id", "", "stable identity of this worker, random when empty")
	masterKey := flag.String("master-key", "", "master key for encrypted config secrets (32 bytes)")
	flag.Parse()

	logger := logging.NewDefaultLogger()

	if *masterKey != "" {
		crypto.SetMasterKey(*masterKey)
	} else if envKey := os.Getenv("QUERYPORTAL_MASTER_KEY"); envKey != "" {
		crypto.SetMasterKey(envKey)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if *dsn != "" {
		cfg.MetadataDSN = *dsn
	}
	if envDSN := os.Getenv("QUERYPORTAL_METADATA_DSN"); cfg.MetadataDSN == "" && envDSN != "" {
		cfg.MetadataDSN = envDSN
	}
	if cfg.MetadataDSN == "" {
		logger.Error("no metadata store DSN configured")
		os.Exit(1)
	}

	id := *workerID
	if id == "" {
		id = "worker-" + uuid.NewString()[:8]
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.MetadataDSN)
	if err != nil {
		logger.Error("failed to connect to metadata store", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	requests := store.New(pool, logger)
	if err := requests.Init(ctx); err != nil {
		logger.Error("failed to initialize request store", "error", err)
		os.Exit(1)
	}

	jobs := queue.New(pool, queue.Config{
		BatchSize:         cfg.Queue.BatchSize,
		PollInterval:      cfg.Queue.PollInterval,
		RetryLimit:        cfg.Queue.RetryLimit,
		RetryBackoff:      cfg.Queue.RetryBackoff,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
	}, logger)
	if err := jobs.Init(ctx); err != nil {
		logger.Error("failed to initialize job queue", "error", err)
		os.Exit(1)
	}

	locks := lock.NewService(lock.NewPgxSource(pool), logger)

	catalog := make(map[string]executor.Instance, len(cfg.Instances))
	for instanceID, inst := range cfg.Instances {
		catalog[instanceID] = executor.Instance{
			ID:            instanceID,
			Backend:       inst.Backend,
			Host:          inst.Host,
			Port:          inst.Port,
			User:          inst.User,
			Password:      inst.Password,
			CredentialRef: inst.CredentialRef,
			Schema:        inst.Schema,
		}
	}

	sb := sandbox.New(sandbox.Config{
		MemoryLimitBytes: int64(cfg.Sandbox.MemoryLimitMB) * 1024 * 1024,
		Timeout:          cfg.Sandbox.Timeout,
	}, logger)

	router := executor.NewRouter(catalog, executor.Limits{
		StatementTimeout:     cfg.Limits.StatementTimeout,
		OperationTimeout:     cfg.Limits.OperationTimeout,
		MaxResultRows:        cfg.Limits.MaxResultRows,
		CompressionThreshold: cfg.Limits.CompressionThreshold,
	}, sb, logger)
	defer router.Close()

	notifier := buildNotifier(cfg.Notify, logger)

	worker := engine.NewWorker(id, locks, router, requests, notifier, logger)

	logger.Info("execution engine started",
		"worker_id", id, "instances", len(catalog),
		"poll_interval", cfg.Queue.PollInterval.String())

	go jobs.Run(ctx, worker.Handle)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	logger.Info("shutting down", "signal", fmt.Sprintf("%v", received))

	cancel()
	jobs.Wait()
	worker.Drain(30 * time.Second)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	locks.ReleaseAll(shutdownCtx)

	logger.Info("shutdown complete", "worker_id", id)
}

func buildNotifier(cfg config.NotifyConfig, logger queryportal.Logger) *notification.Service {
	svc := notification.NewService(logger)
	svc.AddProvider(notification.NewLogProvider(logger))
	if cfg.SlackWebhook != "" {
		svc.AddProvider(notification.NewSlackProvider(cfg.SlackWebhook))
	}
	if cfg.WebhookURL != "" {
		svc.AddProvider(notification.NewWebhookProvider(cfg.WebhookURL))
	}
	if cfg.SMTPHost != "" && cfg.DefaultEmail != "" {
		svc.AddProvider(notification.NewEmailProvider(notification.EmailSettings{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			To:       cfg.DefaultEmail,
			SSL:      cfg.SMTPSSL,
		}))
	}
	return svc
}
