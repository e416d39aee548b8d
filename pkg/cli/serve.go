package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/rolekeeper/pkg/catalog"
	"github.com/platinummonkey/rolekeeper/pkg/config"
	"github.com/platinummonkey/rolekeeper/pkg/observability"
	"github.com/platinummonkey/rolekeeper/pkg/snapshot"
)

// statsInterval is how often serve refreshes the role and connection gauges
const statsInterval = 15 * time.Second

func (c *CLI) serveCommand() *Command {
	return &Command{
		Name:        "serve",
		Description: "Serve metrics and health, and run scheduled snapshots",
		Run:         c.runServe,
	}
}

// NewOpsRouter routes /metrics and the health probes of app
func NewOpsRouter(app *App) *mux.Router {
	r := mux.NewRouter()
	r.Use(mux.MiddlewareFunc(observability.HTTPMetricsMiddleware(app.Metrics)))
	r.Handle("/metrics", observability.MetricsHandler(app.Registry)).Methods(http.MethodGet)
	observability.RegisterHealthRoutes(r, app.Health)
	return r
}

func (c *CLI) runServe(ctx context.Context, args []string) error {
	fs := c.flags("serve", "Runs until interrupted, serving /metrics and /healthz and taking scheduled snapshots.")
	addr := fs.String("addr", "", "Listen address (default ROLEKEEPER_METRICS_ADDR)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := c.config()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.MetricsAddr = *addr
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, c.Err)

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return err
	}

	app, err := OpenApp(ctx, cfg, logger)
	if err != nil {
		observability.ShutdownOTel(context.Background(), providers, logger)
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.MetricsAddr,
		Handler:      otelhttp.NewHandler(NewOpsRouter(app), "rolekeeper.ops"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})
	shutdown.RegisterCloser("backends", app.Close)

	scheduler, err := newSnapshotScheduler(ctx, cfg, app)
	if err != nil {
		shutdown.Shutdown(context.Background())
		return err
	}
	if scheduler != nil {
		if err := scheduler.Schedule(cfg.Snapshot.Schedule); err != nil {
			shutdown.Shutdown(context.Background())
			return err
		}
		scheduler.Start()
		shutdown.Register("snapshots", scheduler.Stop)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c.Log.WithField("addr", server.Addr).Info("Serving metrics and health checks")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server failed: %w", err)
		}
		return nil
	})

	if cfg.CatalogPath != "" {
		g.Go(func() error {
			return catalog.Watch(gctx, cfg.CatalogPath, func(event fsnotify.Event) {
				app.Health.MarkCatalogStale(cfg.CatalogPath)
				c.Log.WithField("path", cfg.CatalogPath).WithField("op", event.Op.String()).
					Warn("Catalog file changed; restart to load it")
			})
		})
	}

	g.Go(func() (err error) {
		defer func() {
			if perr := observability.RecoverPanicAsError(logger, "stats refresh", recover()); perr != nil {
				err = perr
			}
		}()
		c.refreshStats(gctx, app)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		c.Log.Info("Shutting down")
		return shutdown.Shutdown(context.Background())
	})

	return g.Wait()
}

// refreshStats updates the role and connection pool gauges until ctx is done
func (c *CLI) refreshStats(ctx context.Context, app *App) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		if _, err := app.Engine.ListRoles(ctx); err != nil && ctx.Err() == nil {
			c.Log.WithError(err).Warn("Failed to refresh role gauges")
		}
		if db := app.DB(); db != nil {
			app.Metrics.RecordDBStats(db.Stats())
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// newSnapshotScheduler builds a scheduler over the configured sinks. It
// returns nil when no sink is configured.
func newSnapshotScheduler(ctx context.Context, cfg *config.Config, app *App) (*snapshot.Scheduler, error) {
	var sinks []snapshot.Sink

	if cfg.Snapshot.Dir != "" {
		sink, err := snapshot.NewFileSink(cfg.Snapshot.Dir)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}

	if cfg.Snapshot.S3Bucket != "" {
		client, err := snapshot.NewS3Client(ctx, snapshot.S3Config{
			Bucket:       cfg.Snapshot.S3Bucket,
			Prefix:       cfg.Snapshot.S3Prefix,
			Region:       cfg.Snapshot.S3Region,
			Endpoint:     cfg.Snapshot.S3Endpoint,
			AccessKey:    cfg.Snapshot.S3AccessKey,
			SecretKey:    cfg.Snapshot.S3SecretKey,
			UsePathStyle: cfg.Snapshot.S3UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		sink, err := snapshot.NewS3Sink(client, cfg.Snapshot.S3Bucket, cfg.Snapshot.S3Prefix)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}

	if len(sinks) == 0 {
		return nil, nil
	}
	return snapshot.NewScheduler(app.Engine, sinks, app.Logger, app.Metrics), nil
}

func (c *CLI) snapshotCommand() *Command {
	return &Command{
		Name:        "snapshot",
		Description: "Take one role snapshot to the configured sinks",
		Run:         c.runSnapshot,
	}
}

func (c *CLI) runSnapshot(ctx context.Context, args []string) error {
	fs := c.flags("snapshot", "Exports every role once to ROLEKEEPER_SNAPSHOT_DIR and ROLEKEEPER_SNAPSHOT_S3_BUCKET.")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return c.withApp(ctx, func(app *App) error {
		scheduler, err := newSnapshotScheduler(ctx, app.Config, app)
		if err != nil {
			return err
		}
		if scheduler == nil {
			return fmt.Errorf("no snapshot sink configured")
		}
		if err := scheduler.Run(ctx); err != nil {
			return err
		}
		c.Log.Info("Snapshot written")
		return nil
	})
}
