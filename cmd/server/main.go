package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cesargomez89/stripedl/internal/app"
	"github.com/cesargomez89/stripedl/internal/catalog"
	"github.com/cesargomez89/stripedl/internal/config"
	"github.com/cesargomez89/stripedl/internal/downloader"
	"github.com/cesargomez89/stripedl/internal/events"
	httpapp "github.com/cesargomez89/stripedl/internal/http"
	"github.com/cesargomez89/stripedl/internal/httpclient"
	"github.com/cesargomez89/stripedl/internal/logger"
	"github.com/cesargomez89/stripedl/internal/queue"
	"github.com/cesargomez89/stripedl/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	appLogger := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	db, err := store.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		appLogger.Error("Failed to init DB", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if purged, err := db.PurgeExpiredCache(); err != nil {
		appLogger.Warn("Failed to purge expired cache entries", "error", err)
	} else if purged > 0 {
		appLogger.Info("Purged expired cache entries", "count", purged)
	}

	// A limit set through the API wins over the config file
	settingsRepo := store.NewSettingsRepo(db)
	if n, ok, err := settingsRepo.GetInt(store.SettingMaxConcurrent); err != nil {
		appLogger.Warn("Ignoring stored concurrency", "error", err)
	} else if ok {
		cfg.MaxConcurrent = n
	}

	hc := httpclient.NewClient(httpclient.Options{
		Name:        "catalog",
		Timeout:     cfg.RequestTimeout,
		ReadTimeout: cfg.RequestTimeout,
	})
	provider := catalog.NewCachedProvider(catalog.NewClient(catalog.ClientConfig{
		APIURL:     cfg.APIURL,
		GatewayURL: cfg.GatewayURL,
		MediaURL:   cfg.MediaURL,
		ARL:        cfg.ARL,
	}, hc, appLogger), db, cfg.CacheTTL)

	bus := events.NewBus(appLogger)
	q := queue.NewManager(queue.NewFileStore(cfg.SnapshotPath), bus, appLogger)

	worker := downloader.NewWorker(provider, hc, app.NewFinalizer(db, appLogger), q, bus, downloader.WorkerConfig{
		DownloadsDir:   cfg.DownloadsDir,
		TempDir:        cfg.TempDir,
		SubdirTemplate: cfg.SubdirTemplate,
		Quality:        cfg.Quality,
		Secret:         []byte(cfg.Secret),
		ParallelTracks: cfg.ParallelTracks,
		TrackStagger:   cfg.TrackStagger,
	}, appLogger)

	engine := downloader.NewEngine(q, bus, worker, downloader.EngineConfig{
		MaxConcurrent: cfg.MaxConcurrent,
		PollInterval:  cfg.PollInterval,
		StopTimeout:   cfg.StopTimeout,
	}, appLogger)
	engine.Start()

	svc := app.NewQueueService(q, app.NewItemFactory(provider, appLogger), engine, settingsRepo, db, appLogger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpapp.NewRouter(httpapp.NewHandler(svc, appLogger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.Info("Server listening", "addr", srv.Addr, "max_concurrent", engine.MaxConcurrent(), "queued", q.Len())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}
	if err := engine.Stop(context.Background()); err != nil {
		appLogger.Warn("Engine stopped with workers still running", "error", err)
	}
	q.Persist()

	appLogger.Info("Server exiting")
}
