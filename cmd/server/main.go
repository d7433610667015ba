// Package main provides the encounter tracker API server binary.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/croftbawn/wartable/internal/api"
	"github.com/croftbawn/wartable/internal/config"
	"github.com/croftbawn/wartable/internal/engine"
	"github.com/croftbawn/wartable/internal/game/encounter"
	"github.com/croftbawn/wartable/internal/observability"
	"github.com/croftbawn/wartable/internal/server"
	"github.com/croftbawn/wartable/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	effectsDir := flag.String("effects-dir", "", "path to effect preset YAML files; overrides config")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	// Load effect presets
	presetDir := cfg.Content.EffectsDir
	if *effectsDir != "" {
		presetDir = *effectsDir
	}
	presetStart := time.Now()
	presets, err := encounter.LoadPresets(presetDir)
	if err != nil {
		logger.Fatal("loading effect presets", zap.Error(err))
	}
	logger.Info("effect presets loaded",
		zap.Int("count", len(presets.All())),
		zap.String("dir", presetDir),
		zap.Duration("elapsed", time.Since(presetStart)),
	)

	// Connect to PostgreSQL
	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)

	campaignRepo := postgres.NewCampaignRepository(pool.DB())
	characterRepo := postgres.NewCharacterRepository(pool.DB())
	encounterRepo := postgres.NewEncounterRepository(pool.DB())
	store := postgres.NewTxStore(pool.DB())

	eng := engine.New(store, logger)

	apiServer := api.NewServer(cfg.HTTP, logger, eng, campaignRepo, characterRepo, encounterRepo, presets)

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("http", apiServer)

	lifecycle.Add("postgres", &server.FuncService{
		StartFn: func() error {
			for {
				time.Sleep(30 * time.Second)
				if err := pool.Health(ctx, 5*time.Second); err != nil {
					logger.Warn("database health check failed", zap.Error(err))
				}
			}
		},
		StopFn: func() {
			pool.Close()
		},
	})

	logger.Info("server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("http_addr", cfg.HTTP.Addr()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
