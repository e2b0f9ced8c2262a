package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cite-guard/config"
	"cite-guard/models"
	"cite-guard/providers"
	"cite-guard/providers/crossref"
	"cite-guard/providers/europepmc"
	"cite-guard/providers/pubmed"
	"cite-guard/services"
	"cite-guard/storage"
)

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Database
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to citations database.")

	logging.Info("Running database auto-migration...")
	store, err := storage.NewGormStore(db)
	if err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	// Setup Registries
	doiRegistry := crossref.NewFetcher(&cfg.RegistryConfig, logging)
	var pmidRegistry providers.Registry
	var lookupPMID pmidLookup
	switch cfg.PMIDRegistry {
	case "europepmc":
		epmc := europepmc.NewFetcher(&cfg.RegistryConfig, logging)
		pmidRegistry, lookupPMID = epmc, epmc.LookupByID
	case "pubmed":
		pm := pubmed.NewFetcher(&cfg.RegistryConfig, logging)
		pmidRegistry = pm
		lookupPMID = func(ctx context.Context, pmid string) (*models.Record, error) {
			return pm.BibtexFor(ctx, pmid, doiRegistry)
		}
	default:
		logging.Fatal("Unknown PMID registry in config", zap.String("pmid_registry", cfg.PMIDRegistry))
	}
	logging.Info("Active registries loaded",
		zap.String("doi", doiRegistry.Name()), zap.String("pmid", pmidRegistry.Name()))

	// Setup Services
	resolver := services.NewResolver(doiRegistry, pmidRegistry, logging)
	ingestor := services.NewIngestor(store, services.NewBatchResolver(resolver, logging), doiRegistry, logging)
	ingestor.Marker = cfg.TrailerMarker

	pending := services.NewPendingUpgrades(services.PendingTTL)
	checkpoint := services.NewCheckpoint(store, doiRegistry, resolver, pending, logging).
		WithTimeouts(cfg.CheckpointBudget, cfg.CheckpointCallTimeout, doiRegistry, resolver)

	var bucket *storage.Bucket
	if cfg.S3Enabled() {
		s3Client, err := storage.NewS3Client(context.Background(), storage.S3Settings{
			Endpoint:  cfg.ExportS3URL,
			Region:    cfg.ExportS3Region,
			AccessKey: cfg.ExportS3Key,
			SecretKey: cfg.ExportS3Secret,
			Bucket:    cfg.ExportS3Bucket,
		})
		if err != nil {
			logging.Fatal("S3 client creation failed", zap.Error(err))
		}
		bucket = &storage.Bucket{API: s3Client, Name: cfg.ExportS3Bucket, Endpoint: cfg.ExportS3URL}
	}
	exporter := services.NewExporter(store, bucket, logging)

	router := setupRouter(cfg, &server{
		store:      store,
		ingestor:   ingestor,
		checkpoint: checkpoint,
		pending:    pending,
		exporter:   exporter,
		doi:        doiRegistry,
		lookupPMID: lookupPMID,
	}, logging)

	// Setup Cron
	if cfg.SweepEnabled {
		sweeper := services.NewSweeper(store, resolver, logging)
		cronScheduler := cron.New()
		_, err := cronScheduler.AddFunc(cfg.SweepSchedule, func() {
			logging.Info("Running scheduled sweep of unresolved citations...")
			count, err := sweeper.Run(context.Background())
			if err != nil {
				logging.Error("Sweep failed", zap.Error(err))
				return
			}
			logging.Info("Sweep finished", zap.Int("upgraded", count))
		})
		if err != nil {
			logging.Fatal("Invalid sweep schedule", zap.String("schedule", cfg.SweepSchedule), zap.Error(err))
		}
		cronScheduler.Start()
		defer cronScheduler.Stop()
	}

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// Checkpoint-Streams laufen bis zum Budget.
		WriteTimeout: cfg.CheckpointBudget + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}
