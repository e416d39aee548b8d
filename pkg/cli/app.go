package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/rolekeeper/pkg/assignment"
	"github.com/platinummonkey/rolekeeper/pkg/audit"
	"github.com/platinummonkey/rolekeeper/pkg/catalog"
	"github.com/platinummonkey/rolekeeper/pkg/config"
	"github.com/platinummonkey/rolekeeper/pkg/observability"
	"github.com/platinummonkey/rolekeeper/pkg/rbac"
	"github.com/platinummonkey/rolekeeper/pkg/storage"
)

// RedisKeyPrefix namespaces the assignment keys written to Redis
const RedisKeyPrefix = "rolekeeper:"

// App is a wired role engine with its backends
type App struct {
	Config   *config.Config
	Catalog  *catalog.Catalog
	Engine   *rbac.Engine
	Checker  *rbac.PermissionChecker
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Health   *observability.HealthChecker
	Logger   *observability.Logger

	db       *sql.DB
	redis    *redis.Client
	activity audit.Logger
}

// LoadCatalog loads the catalog file named by cfg, or the built-in catalog
func LoadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.CatalogPath == "" {
		return catalog.Default(), nil
	}
	return catalog.LoadFile(cfg.CatalogPath)
}

// OpenApp connects the configured backends and starts the engine. The
// caller must Close the returned App.
func OpenApp(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*App, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	cat, err := LoadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:   cfg,
		Catalog:  cat,
		Registry: prometheus.NewRegistry(),
		Logger:   logger,
	}
	app.Metrics = observability.NewMetrics(app.Registry)

	repo, activity, index, err := app.openBackends(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	if cfg.Audit.FileDir != "" {
		fileLogger, err := audit.NewFileLogger(audit.FileLoggerConfig{
			BasePath: cfg.Audit.FileDir,
			Rotate:   true,
			MaxSize:  cfg.Audit.FileMaxSize,
			MaxFiles: cfg.Audit.FileMaxFiles,
		})
		if err != nil {
			activity.Close()
			app.Close()
			return nil, err
		}
		activity = audit.NewMultiLogger(activity, fileLogger).WithLogger(logger)
	}
	app.activity = activity

	resolver := rbac.NewResolver(cat)
	app.Checker = rbac.NewPermissionChecker(resolver, repo, index, app.Metrics, rbac.CheckerConfig{
		CacheSize: cfg.Checker.CacheSize,
		CacheTTL:  cfg.Checker.CacheTTL,
	})

	app.Engine, err = rbac.NewEngine(ctx, cat, repo, activity, index,
		rbac.WithLogger(logger),
		rbac.WithMetrics(app.Metrics),
		rbac.WithChangeHook(app.Checker.OnChange),
	)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Health = observability.NewHealthChecker(app.db, app.redis, app.Metrics, Version)
	return app, nil
}

func (a *App) openBackends(ctx context.Context) (rbac.Repository, audit.Logger, assignment.Index, error) {
	var (
		repo     rbac.Repository
		activity audit.Logger
		index    assignment.Index
	)

	switch a.Config.Storage.Type {
	case storage.TypeMemory:
		repo = rbac.NewMemoryRepository()
		activity = audit.NewMemoryLogger()
		index = assignment.NewMemoryIndex()
	case storage.TypeSQLite, storage.TypePostgres:
		db, err := storage.OpenDB(ctx, a.Config.Storage)
		if err != nil {
			return nil, nil, nil, err
		}
		a.db = db
		if err := rbac.RunMigrations(ctx, db, a.Logger); err != nil {
			return nil, nil, nil, err
		}
		repo = rbac.NewSQLStore(db)
		if activity, err = audit.NewDBLogger(db); err != nil {
			return nil, nil, nil, err
		}
		sqlIndex, err := assignment.NewSQLIndex(db)
		if err != nil {
			return nil, nil, nil, err
		}
		index = sqlIndex
	default:
		return nil, nil, nil, fmt.Errorf("invalid storage type: %q", a.Config.Storage.Type)
	}

	if a.Config.Storage.RedisURL != "" {
		client, err := storage.OpenRedis(ctx, a.Config.Storage)
		if err != nil {
			return nil, nil, nil, err
		}
		a.redis = client
		index = assignment.NewRedisIndex(client, RedisKeyPrefix)
	}

	return repo, activity, index, nil
}

// DB returns the SQL connection, or nil for the memory backend
func (a *App) DB() *sql.DB {
	return a.db
}

// Close releases the activity log and the storage connections
func (a *App) Close() error {
	var errs []error
	if a.activity != nil {
		errs = append(errs, a.activity.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
