package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/cafepos/internal/core/config"
	"github.com/vietddude/cafepos/internal/core/domain"
	"github.com/vietddude/cafepos/internal/core/worker"
	"github.com/vietddude/cafepos/internal/failover/health"
	"github.com/vietddude/cafepos/internal/failover/manager"
	"github.com/vietddude/cafepos/internal/failover/replay"
	redisclient "github.com/vietddude/cafepos/internal/infra/redis"
	"github.com/vietddude/cafepos/internal/infra/storage"
	"github.com/vietddude/cafepos/internal/infra/storage/memory"
	"github.com/vietddude/cafepos/internal/infra/storage/postgres"
	"github.com/vietddude/cafepos/internal/infra/storage/sqlite"
)

// App owns the data-access layer and its background workers.
type App struct {
	cfg          *config.AppConfig
	db           *postgres.DB
	local        *sqlite.DB
	oplog        *sqlite.OpLog
	mirror       *sqlite.Mirror
	primary      storage.Adapter
	ctrl         *health.Controller
	manager      *manager.Manager
	engine       *replay.Engine
	refresher    *worker.Refresher
	watchdog     *worker.Watchdog
	pruner       *worker.Pruner
	healthServer *health.Server
	grpcServer   *health.GRPCServer
	redisClient  *redisclient.Client
	log          *slog.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewApp opens both stores and wires every component. The primary does not
// have to be reachable: the app starts on the local mirror and recovers later.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	log := slog.Default().With("component", "app")

	// 1. Local mirror and pending log
	localCfg := cfg.Local
	localCfg.Migrate = true // the mirror schema is owned by this service
	local, err := sqlite.Open(ctx, localCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open local mirror: %w", err)
	}
	oplog, err := sqlite.NewOpLog(ctx, local)
	if err != nil {
		_ = local.Close()
		return nil, fmt.Errorf("failed to load pending log: %w", err)
	}
	mirror := sqlite.NewMirror(local, oplog, cfg.Tables)
	log.Info("Local mirror ready", "path", local.Path(), "pending", oplog.Total())

	// 2. Primary
	var (
		db      *postgres.DB
		primary storage.Adapter
	)
	if cfg.Primary() {
		db, err = postgres.NewDB(cfg.Database)
		if err != nil {
			_ = local.Close()
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if cfg.Database.Migrate {
			migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := db.Migrate(migrateCtx); err != nil {
				log.Warn("Failed to migrate primary, continuing", "error", err)
			}
			cancel()
		}
		primary = postgres.NewPrimary(db, cfg.Tables)
		log.Info("Using PostgreSQL primary", "driver", cfg.Database.Driver)
	} else {
		primary = memory.NewMemoryStorage(domain.SourcePrimary, cfg.Tables)
		log.Warn("No database.url configured, using in-memory primary")
	}

	// 3. Alerts
	var (
		redisClient   *redisclient.Client
		notifier      replay.Notifier
		staleNotifier worker.StaleNotifier
		alertPruner   worker.AlertPruner
	)
	if cfg.Redis.URL != "" {
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, alerts disabled", "error", err)
		} else {
			alerts := redisclient.NewAlertRepo(redisClient, cfg.Redis.Channel, cfg.OpLog.DeadLetterRetention)
			notifier, staleNotifier, alertPruner = alerts, alerts, alerts
		}
	}

	// 4. Failover core
	ctrl := health.NewController(cfg.Health)
	engine := replay.NewEngine(primary, oplog, ctrl, cfg.Tables, notifier, cfg.Replay)
	mgr := manager.New(
		manager.NewRouter(primary, mirror, ctrl),
		mirror,
		oplog,
		ctrl,
		engine,
		cfg.Tables,
		manager.Config{Timeout: cfg.Database.Timeout},
	)

	// 5. Workers and servers
	monitor := health.NewMonitor(ctrl, oplog, cfg.OpLog.Thresholds())
	app := &App{
		cfg:          cfg,
		db:           db,
		local:        local,
		oplog:        oplog,
		mirror:       mirror,
		primary:      primary,
		ctrl:         ctrl,
		manager:      mgr,
		engine:       engine,
		refresher:    worker.NewRefresher(cfg.Mirror, primary, mirror, oplog, ctrl, cfg.Tables),
		watchdog:     worker.NewWatchdog(oplog, cfg.OpLog.Thresholds(), cfg.OpLog.CheckInterval, staleNotifier),
		pruner:       worker.NewPruner(cfg.OpLog.DeadLetterRetention, oplog, alertPruner),
		healthServer: health.NewServer(monitor, oplog, engine, cfg.Server.Port),
		redisClient:  redisClient,
		log:          log,
	}
	if cfg.Server.GRPCPort > 0 {
		app.grpcServer = health.NewGRPCServer(ctrl, cfg.Server.GRPCPort)
	}
	return app, nil
}

// Manager returns the data-access facade.
func (a *App) Manager() *manager.Manager { return a.manager }

// Engine returns the replay engine.
func (a *App) Engine() *replay.Engine { return a.engine }

// Start launches servers and workers and returns immediately.
func (a *App) Start(ctx context.Context) error {
	if a.group != nil {
		return errors.New("app already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	a.cancel, a.group = cancel, g

	g.Go(func() error {
		a.log.Info("Starting health server", "port", a.cfg.Server.Port)
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	if a.grpcServer != nil {
		g.Go(func() error {
			a.log.Info("Starting gRPC health server", "port", a.cfg.Server.GRPCPort)
			return a.grpcServer.Start()
		})
	}

	if a.db != nil {
		a.db.StartMetricsCollector(gctx)
	}

	for name, run := range map[string]func(context.Context){
		"replay":    a.engine.Start,
		"refresher": a.refresher.Start,
		"watchdog":  a.watchdog.Start,
		"pruner":    a.pruner.Start,
	} {
		g.Go(func() error {
			a.log.Debug("Starting worker", "worker", name)
			run(gctx)
			return nil
		})
	}
	return nil
}

// Wait blocks until every goroutine started by Start has returned and reports
// the first server failure.
func (a *App) Wait() error {
	if a.group == nil {
		return nil
	}
	return a.group.Wait()
}

// Stop shuts servers down, waits for workers and closes both stores.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping app...")

	var errs []error
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.healthServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop health server: %w", err))
	}
	if a.grpcServer != nil {
		a.grpcServer.Stop()
	}

	if a.group != nil {
		done := make(chan error, 1)
		go func() { done <- a.group.Wait() }()
		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("workers did not stop: %w", ctx.Err()))
		}
	}

	if pending := a.oplog.Total(); pending > 0 {
		a.log.Warn("Stopping with writes still pending replay", "pending", pending)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close primary: %w", err))
		}
	}
	if err := a.local.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close local mirror: %w", err))
	}
	return errors.Join(errs...)
}
