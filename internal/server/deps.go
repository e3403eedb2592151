package server

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zixofranic/property-sync/internal/config"
	"github.com/zixofranic/property-sync/internal/handler"
	"github.com/zixofranic/property-sync/internal/parser"
	"github.com/zixofranic/property-sync/internal/realty"
	"github.com/zixofranic/property-sync/internal/service"
)

// Deps holds server dependencies, wired once so the router and main
// share the same instances.
type Deps struct {
	Store     *service.BatchStore
	Props     *service.PropertyStore
	Manager   *service.BatchManager
	Jobs      *service.JobManager
	Snapshots *service.SnapshotStore

	Batches       *handler.BatchesHandler
	External      *handler.ExternalHandler
	Sources       *handler.SourcesHandler
	SnapshotFiles *handler.SnapshotsHandler
}

// NewDeps creates dependencies from Postgres, Redis, and the parser
// and external-data wiring built in main. The snapshot store is built
// in main because the page renderer tees into it.
func NewDeps(cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client, factory *parser.Factory, client *realty.Client, quota *realty.QuotaManager, snapshots *service.SnapshotStore, log *zap.Logger) *Deps {
	store := service.NewBatchStore(pool)
	props := service.NewPropertyStore(pool)
	resolver := service.NewCollectionResolver(pool, cfg.AutoCreateCollections)
	dedup := service.NewDuplicateDetector(props, log)
	jobs := service.NewJobManager(log)

	sinks := service.MultiNotifier{&service.LogNotifier{Log: log}}
	if rdb != nil && cfg.EventChannel != "" {
		sinks = append(sinks, service.NewRedisNotifier(rdb, cfg.EventChannel, log))
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, service.NewWebhookNotifier(cfg.WebhookURL, log))
	}

	manager := service.NewBatchManager(service.BatchManagerDeps{
		Store:    store,
		Props:    props,
		Dedup:    dedup,
		Resolver: resolver,
		Factory:  factory,
		Jobs:     jobs,
		Notifier: sinks,
		Log:      log,
	})

	return &Deps{
		Store:     store,
		Props:     props,
		Manager:   manager,
		Jobs:      jobs,
		Snapshots: snapshots,

		Batches:       &handler.BatchesHandler{Manager: manager},
		External:      &handler.ExternalHandler{Client: client, Quota: quota},
		Sources:       &handler.SourcesHandler{Factory: factory},
		SnapshotFiles: &handler.SnapshotsHandler{Store: snapshots},
	}
}
