package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/mintfield/billcore/pkg/api"
	"github.com/mintfield/billcore/pkg/audit"
	"github.com/mintfield/billcore/pkg/autopay"
	"github.com/mintfield/billcore/pkg/config"
	"github.com/mintfield/billcore/pkg/engagement"
	"github.com/mintfield/billcore/pkg/invoices"
	"github.com/mintfield/billcore/pkg/ledger"
	"github.com/mintfield/billcore/pkg/observability"
	"github.com/mintfield/billcore/pkg/processor"
	"github.com/mintfield/billcore/pkg/rbac"
	"github.com/mintfield/billcore/pkg/reconcile"
	"github.com/mintfield/billcore/pkg/storage/postgres"
	"github.com/mintfield/billcore/pkg/timeentry"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	db, err := postgres.Connect(postgres.Config{
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer db.Close()

	if err := postgres.EnsureSchema(context.Background(), db); err != nil {
		log.WithError(err).Fatal("failed to ensure database schema")
	}

	// Redis is optional; without it webhook dedup degrades to the
	// in-process LRU.
	var redisClient *redis.Client
	var dedup processor.DedupStore
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.WithError(err).Fatal("invalid redis URL")
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		opts.DB = cfg.Redis.DB
		redisClient = redis.NewClient(opts)
		dedup, err = processor.NewRedisDedup(redisClient, cfg.Redis.DedupTTL, log)
		if err != nil {
			log.WithError(err).Fatal("failed to create redis dedup store")
		}
	} else {
		log.Warn("no redis configured, webhook dedup is process-local")
		dedup, err = processor.NewMemoryDedup()
		if err != nil {
			log.WithError(err).Fatal("failed to create dedup store")
		}
	}
	defer dedup.Close()

	var client processor.Client
	if cfg.Processor.BaseURL != "" {
		client = processor.NewHTTPClient(cfg.Processor.BaseURL, cfg.Processor.APIKey, cfg.Processor.Timeout, log)
	} else {
		log.Warn("no processor configured, charges run against the fake client")
		client = processor.NewFakeClient()
	}

	policies, err := config.LoadPolicies(cfg.PolicyPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load firm policies")
	}

	dbAudit, err := audit.NewDBLogger(db)
	if err != nil {
		log.WithError(err).Fatal("failed to create audit logger")
	}
	auditLogger := audit.NewMultiLogger(audit.NewLogrusLogger(log), dbAudit)

	engagements := engagement.NewPostgresStore(db)
	entries := timeentry.NewPostgresStore(db)
	invoiceStore := invoices.NewPostgresStore(db)
	profiles := autopay.NewPostgresProfileStore(db)
	disputes := reconcile.NewPostgresDisputeStore(db)
	caps := rbac.NewCachedChecker(rbac.NewPostgresGrantStore(db), time.Minute, log)
	credits := ledger.NewService(ledger.NewPostgresStore(db), caps, auditLogger, log)

	metrics := observability.NewMetrics(nil)
	server := api.NewServer(api.Dependencies{
		Engagements:   engagements,
		Renewer:       engagement.NewRenewer(engagements, auditLogger, log),
		Entries:       entries,
		Gate:          timeentry.NewGate(entries, auditLogger, log),
		Invoices:      invoiceStore,
		Generator:     invoices.NewGenerator(engagements, invoiceStore, entries, credits, policies, auditLogger, log),
		Scheduler:     autopay.NewScheduler(invoiceStore, profiles, auditLogger, log),
		Executor:      autopay.NewExecutor(invoiceStore, profiles, client, auditLogger, log),
		Profiles:      profiles,
		Reconciler:    reconcile.NewService(invoiceStore, disputes, credits, client, dedup, auditLogger, log),
		Disputes:      disputes,
		Credits:       credits,
		WebhookSecret: cfg.Processor.WebhookSecret,
		Audit:         auditLogger,
		Health:        observability.NewHealthChecker(db, redisClient),
		Metrics:       metrics,
		Log:           log,
	})

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithField("addr", addr).Info("billing API listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Error("shutdown did not complete cleanly")
	}
}
