package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/zixofranic/property-sync/internal/browser"
	"github.com/zixofranic/property-sync/internal/config"
	"github.com/zixofranic/property-sync/internal/parser"
	"github.com/zixofranic/property-sync/internal/realty"
	"github.com/zixofranic/property-sync/internal/server"
	"github.com/zixofranic/property-sync/internal/service"
	"github.com/zixofranic/property-sync/pkg/db"
	"github.com/zixofranic/property-sync/pkg/redis"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()

	rdbClient, err := redis.New(cfg.RedisURL)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer rdbClient.Close()

	ctx := context.Background()
	pgPool, err := db.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pgPool.Close()

	if err := service.EnsureSchema(ctx, pgPool.Pool); err != nil {
		log.Fatal("ensure schema", zap.Error(err))
	}

	chrome, err := browser.New(ctx, log, browser.Options{
		Headless:    cfg.BrowserHeadless,
		NavTimeout:  cfg.NavTimeout,
		WaitTimeout: cfg.WaitTimeout,
	})
	if err != nil {
		log.Fatal("start browser", zap.Error(err))
	}
	defer chrome.Close()

	snapshots := service.NewSnapshotStore(cfg.SnapshotPath, log)
	renderer := &service.SnapshotRenderer{Inner: chrome, Store: snapshots, Log: log}

	siteDeps := parser.SiteDeps{
		Fetcher:  parser.NewHTTPFetcher(15 * time.Second),
		Renderer: renderer,
		Log:      log,
	}
	factory, err := parser.NewFactory(log,
		parser.NewZillow(siteDeps),
		parser.NewRedfin(siteDeps),
		parser.NewRealtor(siteDeps),
		parser.NewTrulia(siteDeps),
	)
	if err != nil {
		log.Fatal("parser factory", zap.Error(err))
	}
	log.Info("site parsers registered", zap.Any("sources", factory.Sources()))

	quota := realty.NewQuotaManager(rdbClient.Redis(), cfg.QuotaMonthlyLimit, cfg.QuotaCountFailures, log)
	client := realty.New(realty.Config{
		BaseURL:       cfg.RealtyBaseURL,
		APIKey:        cfg.RealtyAPIKey,
		Timeout:       cfg.RealtyTimeout,
		RatePerSecond: cfg.RealtyRate,
	}, quota, rdbClient.Redis(), log)

	deps := server.NewDeps(cfg, pgPool.Pool, rdbClient.Redis(), factory, client, quota, snapshots, log)
	srv := server.New(cfg, log, deps)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	// Parse jobs may still hold browser tabs; drain them before the
	// deferred chrome.Close tears the session down.
	deps.Jobs.Shutdown(10 * time.Second)
}
