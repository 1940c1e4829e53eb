package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/mintfield/billcore/pkg/audit"
	"github.com/mintfield/billcore/pkg/autopay"
	"github.com/mintfield/billcore/pkg/config"
	"github.com/mintfield/billcore/pkg/engagement"
	"github.com/mintfield/billcore/pkg/invoices"
	"github.com/mintfield/billcore/pkg/ledger"
	"github.com/mintfield/billcore/pkg/processor"
	"github.com/mintfield/billcore/pkg/rbac"
	"github.com/mintfield/billcore/pkg/storage/postgres"
	"github.com/mintfield/billcore/pkg/timeentry"
)

var (
	runOnce = flag.Bool("run-once", false, "Run both jobs once and exit (for testing or backfilling)")
	job     = flag.String("job", "", "With --run-once, run only this job: invoices or charges")
	firmID  = flag.String("firm-id", "", "Restrict runs to one firm")
	dryRun  = flag.Bool("dry-run", false, "Report what would happen without writing")
)

func main() {
	flag.Parse()

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

	policies, err := config.LoadPolicies(cfg.PolicyPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load firm policies")
	}

	var client processor.Client
	if cfg.Processor.BaseURL != "" {
		client = processor.NewHTTPClient(cfg.Processor.BaseURL, cfg.Processor.APIKey, cfg.Processor.Timeout, log)
	} else {
		log.Warn("no processor configured, charges run against the fake client")
		client = processor.NewFakeClient()
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
	caps := rbac.NewCachedChecker(rbac.NewPostgresGrantStore(db), time.Minute, log)
	credits := ledger.NewService(ledger.NewPostgresStore(db), caps, auditLogger, log)

	generator := invoices.NewGenerator(engagements, invoiceStore, entries, credits, policies, auditLogger, log)
	executor := autopay.NewExecutor(invoiceStore, profiles, client, auditLogger, log)

	runInvoices := func() {
		result, err := generator.GeneratePackageInvoices(context.Background(), *firmID, *dryRun)
		if err != nil {
			log.WithError(err).Error("package invoice run failed")
			return
		}
		log.WithFields(logrus.Fields{
			"examined":   result.Examined,
			"generated":  result.Generated,
			"duplicates": result.Duplicates,
			"skipped":    result.Skipped,
			"failed":     result.Failed,
			"dry_run":    result.DryRun,
		}).Info("package invoice run complete")
	}

	runCharges := func() {
		result, err := executor.ExecuteDue(context.Background(), *firmID, time.Now().UTC(), *dryRun)
		if err != nil {
			log.WithError(err).Error("autopay run failed")
			return
		}
		log.WithFields(logrus.Fields{
			"examined":    result.Examined,
			"charged":     result.Charged,
			"rescheduled": result.Rescheduled,
			"exhausted":   result.Exhausted,
			"skipped":     result.Skipped,
			"dry_run":     result.DryRun,
		}).Info("autopay run complete")
	}

	if *runOnce {
		switch *job {
		case "invoices":
			runInvoices()
		case "charges":
			runCharges()
		case "":
			runInvoices()
			runCharges()
		default:
			log.WithField("job", *job).Fatal("unknown job")
		}
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Scheduler.PackageInvoiceSchedule, runInvoices); err != nil {
		log.WithError(err).Fatal("failed to schedule package invoice job")
	}
	if _, err := c.AddFunc(cfg.Scheduler.AutopaySchedule, runCharges); err != nil {
		log.WithError(err).Fatal("failed to schedule autopay job")
	}
	c.Start()

	log.WithFields(logrus.Fields{
		"invoice_schedule": cfg.Scheduler.PackageInvoiceSchedule,
		"autopay_schedule": cfg.Scheduler.AutopaySchedule,
	}).Info("billing scheduler started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	<-c.Stop().Done()
}
