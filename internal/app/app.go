package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/YodaheaD/assetintel/internal/config"
	"github.com/YodaheaD/assetintel/internal/httpserver"
	"github.com/YodaheaD/assetintel/internal/platform"
	"github.com/YodaheaD/assetintel/internal/telemetry"
	"github.com/YodaheaD/assetintel/pkg/admission"
	"github.com/YodaheaD/assetintel/pkg/asset"
	"github.com/YodaheaD/assetintel/pkg/billing"
	"github.com/YodaheaD/assetintel/pkg/cancellation"
	"github.com/YodaheaD/assetintel/pkg/deadletter"
	"github.com/YodaheaD/assetintel/pkg/dispatch"
	"github.com/YodaheaD/assetintel/pkg/fetch"
	"github.com/YodaheaD/assetintel/pkg/identity"
	"github.com/YodaheaD/assetintel/pkg/intelligence"
	"github.com/YodaheaD/assetintel/pkg/processor"
	"github.com/YodaheaD/assetintel/pkg/queue"
	"github.com/YodaheaD/assetintel/pkg/quota"
	"github.com/YodaheaD/assetintel/pkg/related"
	"github.com/YodaheaD/assetintel/pkg/result"
	"github.com/YodaheaD/assetintel/pkg/run"
	"github.com/YodaheaD/assetintel/pkg/searchindex"
	"github.com/YodaheaD/assetintel/pkg/signature"
	"github.com/YodaheaD/assetintel/pkg/usage"
	"github.com/YodaheaD/assetintel/pkg/worker"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the appropriate mode (api or worker).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting assetintel",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
	)

	// Each process sizes its own pool: 5 connections for api, 10 for worker,
	// the pgxpool default otherwise.
	var maxConns int32
	switch cfg.Mode {
	case "api":
		maxConns = 5
	case "worker":
		maxConns = 10
	}
	db, err := platform.NewPostgresPoolSized(ctx, cfg.DatabaseURL, maxConns)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, db, rdb)
	case "migrate":
		// Migrations already ran unconditionally above; this mode exists
		// so operators can run them as a standalone step without starting
		// a server or worker loop.
		return nil
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// deps bundles the collaborators shared between the API server and the
// worker runtime, so both modes build the same domain graph once.
type deps struct {
	assets       *asset.Store
	runs         *run.Store
	results      *result.Store
	index        *searchindex.Store
	usageStore   *usage.Store
	usageSvc     *usage.Service
	billingSvc   *billing.Service
	identitySvc  *identity.Service
	signatures   *signature.Service
	registry     *processor.Registry
	queueAdapter *queue.Adapter
	admissionSvc *admission.Service
	cancelSvc    *cancellation.Service
	relatedRkr   *related.Ranker
	deadletterSt *deadletter.Store
	deadletterSv *deadletter.Service
	dispatcher   *dispatch.Dispatcher
}

func buildDeps(cfg *config.Config, db *pgxpool.Pool, rdb *redis.Client) *deps {
	d := &deps{}

	d.assets = asset.NewStore(db)
	d.runs = run.NewStore(db)
	d.results = result.NewStore(db)
	d.index = searchindex.NewStore(db)
	d.usageStore = usage.NewStore(db)
	d.usageSvc = usage.NewService(d.usageStore)
	d.billingSvc = billing.NewService(db, cfg.BillingWebhookSecret)
	d.identitySvc = identity.NewService(db)
	d.signatures = signature.NewService(d.results)
	d.relatedRkr = related.NewRanker(d.index)
	d.deadletterSt = deadletter.NewStore(db)

	d.queueAdapter = queue.NewAdapter(rdb)

	fetcher := fetch.NewClient()

	d.registry = processor.NewRegistry()
	d.registry.Register(processor.Spec{
		Name:           "asset-fingerprint",
		Version:        "v1",
		PriceCents:     quota.PriceFor("asset-fingerprint"),
		SupportsCancel: true,
		Handler: processor.NewFingerprintHandler(processor.FingerprintDeps{
			Runs:    d.runs,
			Results: d.results,
			Index:   d.index,
			Assets:  d.assets,
			Fetcher: fetcher,
		}),
	})
	d.registry.Register(processor.Spec{
		Name:           "image-metadata",
		Version:        "v1",
		PriceCents:     quota.PriceFor("image-metadata"),
		SupportsCancel: true,
		Handler: processor.NewImageMetadataHandler(processor.ImageMetadataDeps{
			Runs:    d.runs,
			Results: d.results,
			Assets:  d.assets,
			Fetcher: fetcher,
		}),
	})
	d.registry.Register(processor.Spec{
		Name:           "ocr-text",
		Version:        "v1",
		PriceCents:     quota.PriceFor("ocr-text"),
		SupportsCancel: true,
		Handler: processor.NewOCRHandler(processor.OCRDeps{
			Runs:         d.runs,
			Results:      d.results,
			Index:        d.index,
			Assets:       d.assets,
			Fetcher:      fetcher,
			MaxPDFPages:  cfg.MaxPDFOCRPages,
			MaxTextChars: cfg.MaxTextChars,
		}),
	})

	d.admissionSvc = admission.NewService(d.runs, d.usageStore, d.billingSvc, d.signatures, d.registry, d.queueAdapter)
	d.cancelSvc = cancellation.NewService(d.runs)
	d.deadletterSv = deadletter.NewService(d.deadletterSt, d.runs, rdb, d.queueAdapter, deadletter.Config{
		MaxTries:                  cfg.ARQMaxTries,
		MinRetryDelaySeconds:      cfg.MinRetryDelaySeconds,
		MaxOCRRetriesPerSignature: cfg.MaxOCRRetriesPerSignature,
		DeadletterMaxItems:        cfg.DeadletterMaxItems,
	})
	d.dispatcher = dispatch.NewDispatcher(d.runs, d.registry)

	return d
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	d := buildDeps(cfg, db, rdb)

	srv := httpserver.NewServer(httpserver.ServerConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		BuildVersion:       cfg.BuildVersion,
		AdminAPIEnabled:    cfg.AdminAPIEnabled,
		AdminKey:           cfg.AdminKey,
	}, logger, db, rdb, metricsReg, d.identitySvc)

	assetHandler := asset.NewHandler(d.assets)
	assetHandler.Mount(srv.APIRouter)

	intelHandler := intelligence.NewHandler(
		d.admissionSvc,
		d.runs,
		d.results,
		d.cancelSvc,
		d.index,
		d.relatedRkr,
		d.deadletterSv,
		d.signatures,
		d.registry,
	)
	intelHandler.Mount(srv.APIRouter, srv.AdminRouter)

	billingHandler := billing.NewHandler(d.billingSvc)
	billingHandler.Mount(srv.Router)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) error {
	d := buildDeps(cfg, db, rdb)

	logger.Info("worker started", "concurrency", cfg.WorkerConcurrency, "use_arq_worker", cfg.UseARQWorker)

	runtime := worker.NewRuntime(d.queueAdapter, d.dispatcher, d.runs, d.deadletterSv, d.usageSvc, logger, worker.Config{
		Concurrency:     cfg.WorkerConcurrency,
		JobTimeout:      time.Duration(cfg.JobTimeoutSeconds) * time.Second,
		ConsumeBlockFor: 5 * time.Second,
		MaxTries:        cfg.ARQMaxTries,
	})
	return runtime.Run(ctx)
}
