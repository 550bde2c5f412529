package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nninov/ngt/internal/clientdata"
	"github.com/nninov/ngt/internal/clients/openfigi"
	"github.com/nninov/ngt/internal/config"
	"github.com/nninov/ngt/internal/database"
	"github.com/nninov/ngt/internal/domain"
	"github.com/nninov/ngt/internal/enrichment"
	"github.com/nninov/ngt/internal/hitl"
	"github.com/nninov/ngt/internal/ingest"
	"github.com/nninov/ngt/internal/ledger"
	"github.com/nninov/ngt/internal/notify"
	"github.com/nninov/ngt/internal/scheduler"
	"github.com/nninov/ngt/internal/securities"
	"github.com/nninov/ngt/internal/server"
	"github.com/nninov/ngt/internal/validation"
	"github.com/nninov/ngt/pkg/logger"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New(logger.Config{Level: "info", Pretty: true})
		boot.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting reconciliation engine")

	// One SQLite file per document store.
	rawDB, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "raw.db"), Profile: database.ProfileLedger, Name: "raw"})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open raw database")
	}
	defer rawDB.Close()

	processedDB, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "processed.db"), Profile: database.ProfileStandard, Name: "processed"})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open processed database")
	}
	defer processedDB.Close()

	faultyDB, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "faulty.db"), Profile: database.ProfileStandard, Name: "faulty"})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open faulty database")
	}
	defer faultyDB.Close()

	apiDB, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "api.db"), Profile: database.ProfileCache, Name: "api"})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open api database")
	}
	defer apiDB.Close()

	// Repositories.
	raw := ledger.NewRepository(rawDB.Conn(), log)
	processed := ingest.NewProcessedStore(processedDB.Conn(), log)
	master := securities.NewRepository(processedDB.Conn(), log)
	faulty := hitl.NewRepository(faultyDB.Conn(), log)
	queue := enrichment.NewQueueRepository(rawDB.Conn(), log)
	payloads := clientdata.NewRepository(apiDB.Conn())

	for name, ensure := range map[string]func() error{
		"raw":        raw.EnsureSchema,
		"processed":  processed.EnsureSchema,
		"securities": master.EnsureSchema,
		"faulty":     faulty.EnsureSchema,
		"queue":      queue.EnsureSchema,
		"payloads":   payloads.EnsureSchema,
	} {
		if err := ensure(); err != nil {
			log.Fatal().Err(err).Str("store", name).Msg("Failed to create schema")
		}
	}

	// Enrichment flow.
	figi := openfigi.NewClient(cfg.OpenFigiAPIKey, log)
	limiter := enrichment.NewWindowLimiter(openfigi.MaxRequestsPerMinute, time.Minute, enrichment.NewRealClock())
	drainer := enrichment.NewDrainer(queue, payloads, limiter, figi.Search, log)
	applier := enrichment.NewApplier(queue, payloads, master, log)

	// Ingestion pipelines.
	portfolios := ingest.NewPortfolioPipeline(raw, processed, faulty, master, queue, log)
	trades := ingest.NewTradePipeline(raw, processed, faulty, master, cfg.TradesCountryMapping, log)

	// Correction workflow.
	var mailer hitl.Mailer = notify.NewMailer(cfg.Mail, log)
	if !cfg.MailEnabled() {
		mailer = logMailer{log: log}
	}
	exportDir := filepath.Join(cfg.HitlDir, "export")
	portfolioNotifier := hitl.NewNotifier(faulty, hitl.CollectionPortfolios, domain.PortfolioColumns, exportDir, mailer, log)
	tradeNotifier := hitl.NewNotifier(faulty, hitl.CollectionTrades, domain.TradeColumns, exportDir, mailer, log)

	portfolioCorrections := hitl.NewProcessor(faulty, hitl.CollectionPortfolios, validation.PortfolioRules(),
		func(rows map[string]map[string]string) error {
			return processed.Upsert(ingest.ProcessedPortfolios, rows)
		}, log)
	tradeCorrections := hitl.NewProcessor(faulty, hitl.CollectionTrades, validation.TradeRules(),
		func(rows map[string]map[string]string) error {
			return processed.Upsert(ingest.ProcessedTrades, rows)
		}, log)

	// Background jobs.
	sched := scheduler.New(log)
	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{scheduler.DrainSchedule, scheduler.NewDrainJob(drainer, log)},
		{scheduler.ApplySchedule, scheduler.NewApplyJob(applier)},
		{scheduler.NotifySchedule, scheduler.NewNotifyJob(portfolioNotifier, tradeNotifier)},
		{scheduler.WatchSchedule, scheduler.NewWatchJob("portfolio_drop_watch",
			filepath.Join(cfg.HitlDir, "drops", "portfolios"),
			func(path string) error {
				_, err := portfolios.Run(path, scheduler.FileDate(path, time.Now().UTC()))
				return err
			}, log)},
		{scheduler.WatchSchedule, scheduler.NewWatchJob("trade_drop_watch",
			filepath.Join(cfg.HitlDir, "drops", "trades"),
			func(path string) error {
				_, err := trades.Run(path)
				return err
			}, log)},
		{scheduler.WatchSchedule, scheduler.NewWatchJob("portfolio_correction_watch",
			filepath.Join(cfg.HitlDir, "upload", "portfolios"),
			func(path string) error {
				_, err := portfolioCorrections.ProcessFile(path)
				return err
			}, log)},
		{scheduler.WatchSchedule, scheduler.NewWatchJob("trade_correction_watch",
			filepath.Join(cfg.HitlDir, "upload", "trades"),
			func(path string) error {
				_, err := tradeCorrections.ProcessFile(path)
				return err
			}, log)},
	}
	for _, j := range jobs {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			log.Fatal().Err(err).Str("job", j.job.Name()).Msg("Failed to register job")
		}
	}
	sched.Start()
	defer sched.Stop()

	// Ops surface.
	srv := server.New(server.Config{
		Port:      cfg.Port,
		Log:       log,
		DevMode:   cfg.DevMode,
		Databases: []*database.DB{rawDB, processedDB, faultyDB, apiDB},
		Raw:       raw,
		Processed: processed,
		Faulty:    faulty,
		Queue:     queue,
	})
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Engine started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Engine stopped")
}

// logMailer stands in when no SMTP relay is configured: correction
// workbooks are still exported to disk, delivery is just logged.
type logMailer struct {
	log zerolog.Logger
}

func (m logMailer) Send(subject, body string, attachments []string) error {
	m.log.Warn().Str("subject", subject).Strs("attachments", attachments).
		Msg("Mail disabled, workbook left on disk")
	return nil
}
