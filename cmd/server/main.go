package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"anoa.com/threadforum/internal/bootstrap"
	"anoa.com/threadforum/internal/config"
	"anoa.com/threadforum/internal/modules/content/repository"
	notifService "anoa.com/threadforum/internal/modules/notification/service"
	searchService "anoa.com/threadforum/internal/modules/search/service"
	userRepo "anoa.com/threadforum/internal/modules/user/repository"
	"anoa.com/threadforum/internal/observ"
	"anoa.com/threadforum/internal/scheduler"
	"anoa.com/threadforum/internal/server"
	"anoa.com/threadforum/pkg/database"
	"anoa.com/threadforum/pkg/session"
	"anoa.com/threadforum/pkg/storage"
	"github.com/meilisearch/meilisearch-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observ.NewLogger(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dsn := cfg.DatabaseURL
	if dsn == "" {
		dsn = database.DSN()
	}
	db, err := database.Connect(dsn, logger)
	if err != nil {
		return err
	}
	if err := bootstrap.Migrate(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	backend, cleanup, gc, err := openBackend(cfg, db, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	store := repository.NewContentStore(backend, logger.Named("store"))
	// A corrupt snapshot must not be silently replaced by an empty forest.
	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	rdb := connectRedis(ctx, cfg.RedisURL, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	bus := notifService.NewBus(cfg.WSBuffer, logger.Named("bus"))
	users := userRepo.NewUserRepository(db)

	srv := server.NewServer(server.Deps{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Bus:     bus,
		Users:   users,
		Revoker: session.NewRevoker(rdb),
		Redis:   rdb,
	})

	if cfg.AppEnv == "development" {
		if err := bootstrap.SeedAdminUser(ctx, users, srv.Auth(), logger); err != nil {
			return fmt.Errorf("failed to seed admin user: %w", err)
		}
	}

	sched := scheduler.NewScheduler(logger.Named("scheduler"))
	if err := registerJobs(sched, cfg, store, bus, gc, logger); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, ":"+cfg.Port)
	})
	if cfg.MeiliSearchHost != "" {
		indexer := searchService.NewIndexer(bus, searchService.NewMeiliIndex(newMeiliClient(cfg), logger.Named("meili")), logger.Named("indexer"))
		g.Go(func() error {
			return indexer.Run(gctx)
		})
	}

	runErr := g.Wait()

	// Final flush happens regardless of how the server stopped.
	if err := store.Close(context.Background()); err != nil {
		logger.Error("final snapshot flush failed", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	logger.Info("server stopped")
	return runErr
}

// openBackend returns the snapshot backend selected by STORAGE_BACKEND. gc is
// non-nil only for badger.
func openBackend(cfg *config.Config, db *gorm.DB, logger *zap.Logger) (repository.Backend, func(), scheduler.GarbageCollector, error) {
	noop := func() {}
	switch cfg.StorageBackend {
	case config.BackendBadger:
		bs, err := storage.OpenBadger(storage.BadgerConfig{
			Path:       cfg.BadgerPath,
			SyncWrites: true,
			Logger:     logger.Named("badger"),
		})
		if err != nil {
			return nil, noop, nil, err
		}
		return bs, func() {
			if err := bs.Close(); err != nil {
				logger.Warn("closing badger", zap.Error(err))
			}
		}, bs, nil

	case config.BackendPostgres:
		ps, err := database.NewSnapshotStorage(db)
		if err != nil {
			return nil, noop, nil, err
		}
		return ps, noop, nil, nil

	default:
		fs, err := storage.NewFileStorage(cfg.SnapshotPath)
		if err != nil {
			return nil, noop, nil, err
		}
		return fs, noop, nil, nil
	}
}

func registerJobs(sched *scheduler.Scheduler, cfg *config.Config, store *repository.ContentStore, bus *notifService.Bus, gc scheduler.GarbageCollector, logger *zap.Logger) error {
	jobs := []scheduler.Job{
		&scheduler.ObserverReportJob{Bus: bus, Cron: "@every 5m", Logger: logger.Named("observers")},
	}
	if cfg.BackupDir != "" {
		jobs = append(jobs, &scheduler.BackupJob{Source: store, Dir: cfg.BackupDir, Cron: cfg.BackupSchedule, Keep: 24})
	}
	if gc != nil {
		jobs = append(jobs, &scheduler.GCJob{DB: gc, Cron: "@every 10m"})
	}
	for _, job := range jobs {
		if err := sched.Register(job); err != nil {
			return err
		}
	}
	return nil
}

// connectRedis returns nil when REDIS_URL is unset or unreachable; rate
// limiting is then disabled and revocations are kept in memory.
func connectRedis(ctx context.Context, url string, logger *zap.Logger) *redis.Client {
	if url == "" {
		logger.Info("REDIS_URL not set, running without redis")
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		logger.Warn("invalid REDIS_URL, running without redis", zap.Error(err))
		return nil
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, running without redis", zap.Error(err))
		rdb.Close()
		return nil
	}
	return rdb
}

func newMeiliClient(cfg *config.Config) meilisearch.ServiceManager {
	host := cfg.MeiliSearchHost
	if !strings.HasPrefix(host, "http") {
		host = "http://" + host + ":7700"
	}
	return meilisearch.New(host, meilisearch.WithAPIKey(cfg.MeiliMasterKey))
}
