package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"pulse/internal/api"
	"pulse/internal/auth"
	"pulse/internal/config"
	"pulse/internal/redis"
	"pulse/internal/service/account"
	"pulse/internal/service/ai"
	"pulse/internal/service/analysis"
	"pulse/internal/storage"
	"pulse/internal/worker"
)

func main() {
	cfgPath := os.Getenv("PULSE_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if cfgPath != "" || !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("load config: %v", err)
		}
		log.Printf("no config.json found, using defaults")
		cfg = config.Default()
	}

	dbType := cfg.BasicConfig.Database
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// users, user_tokens, analyses, analysis_tombstones
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			log.Printf("redis unavailable, auth tokens will not be cached: %v", err)
		} else {
			defer rdb.Close()
		}
	}

	summarizer, err := ai.NewSummarizer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("init summarizer: %v", err)
	}

	dispatcher := worker.NewDispatcher(worker.Config{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	})
	defer dispatcher.Close()

	authService := auth.NewService(db, rdb, time.Duration(cfg.BasicConfig.TokenTTLHours)*time.Hour)
	opts := analysis.OptionsFromConfig(cfg.Analysis)
	opts.Scheduler = dispatcher
	analysisService := analysis.NewService(analysis.NewStore(db), summarizer, opts)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	analysisService.StartTombstoneSweeper(sweepCtx,
		time.Duration(cfg.Analysis.TombstoneSweepMinutes)*time.Minute,
		time.Duration(cfg.Analysis.TombstoneRetentionHours)*time.Hour)
	handlers := api.NewHandler(account.NewService(db), authService, analysisService, dispatcher, db, rdb)

	router := handlers.NewRouter()
	addr := cfg.BasicConfig.ServerAddress
	log.Printf("pulse listening on %s (provider %s, deadline %ds)", addr, cfg.Analysis.Provider, cfg.Analysis.TimeoutSeconds)
	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
