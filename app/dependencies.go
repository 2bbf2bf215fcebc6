package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/config"
	"github.com/arbiterhq/arbiter/internal/observability"
	"github.com/arbiterhq/arbiter/middleware"
	"github.com/arbiterhq/arbiter/repositories"
	"github.com/arbiterhq/arbiter/repositories/memory"
	"github.com/arbiterhq/arbiter/repositories/policyfile"
	"github.com/arbiterhq/arbiter/repositories/postgres"
	"github.com/arbiterhq/arbiter/repositories/sqlite"
	"github.com/arbiterhq/arbiter/services/decision"
	"github.com/arbiterhq/arbiter/services/evaluator"
	"github.com/arbiterhq/arbiter/services/ledger"
	"github.com/arbiterhq/arbiter/services/override"
	"github.com/arbiterhq/arbiter/services/routing"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics
	DB      *postgres.DB // set only for the postgres ledger backend

	// Repositories
	LedgerStore repositories.LedgerStore
	Snapshot    *policyfile.Repository
	Policies    repositories.PolicyRepository
	Pools       repositories.PoolRepository

	// Services
	Ledger    *ledger.Service
	Scheduler *ledger.Scheduler
	Gate      *override.Gate
	Evaluator *evaluator.Evaluator
	Selector  *routing.Selector
	Decisions *decision.Service

	// Auth
	AuthMiddleware *middleware.AuthMiddleware

	// Background work lifecycle
	cancelBackground context.CancelFunc
	background       sync.WaitGroup
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if cfg.Observability.MetricsEnabled {
		deps.Metrics = observability.NewMetrics()
	}

	if err := deps.initLedger(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}

	if err := deps.initPolicyStore(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize policy store: %w", err)
	}

	deps.initServices()
	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initLedger opens the configured ledger backend and the ledger service.
func (d *Dependencies) initLedger(ctx context.Context, cfg *config.Config) error {
	var store repositories.LedgerStore

	switch cfg.Ledger.Backend {
	case "memory":
		store = memory.NewLedgerStore()
		d.Logger.Warn("using in-memory ledger backend; audit records will not survive a restart")

	case "sqlite":
		s, err := sqlite.NewLedgerStore(cfg.Ledger.SQLitePath, d.Logger)
		if err != nil {
			return fmt.Errorf("opening sqlite ledger at %s: %w", cfg.Ledger.SQLitePath, err)
		}
		store = s

	case "postgres":
		db, err := postgres.NewDB(cfg.Database, d.Logger)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating ledger schema: %w", err)
		}
		d.DB = db
		store = postgres.NewLedgerStore(db, d.Logger)
		d.Logger.Info("postgres ledger backend ready",
			zap.String("connection", cfg.Database.LogString()))

	default:
		return fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}

	led, err := ledger.NewService(ctx, store, cfg.Ledger.CheckpointEvery, d.Metrics, d.Logger)
	if err != nil {
		return err
	}

	d.LedgerStore = store
	d.Ledger = led
	d.Scheduler = ledger.NewScheduler(led, d.Logger)
	d.Gate = override.NewGate(led, cfg.Ledger.OverrideTTL, d.Metrics, d.Logger)
	return nil
}

// initPolicyStore loads the policy and pool snapshot.
func (d *Dependencies) initPolicyStore(cfg *config.Config) error {
	snap, err := policyfile.New(cfg.Policy.SnapshotPath, d.Logger)
	if err != nil {
		return err
	}
	d.Snapshot = snap
	d.Policies = snap.Policies()
	d.Pools = snap.Pools()
	return nil
}

// initServices wires the evaluator, selector and decision orchestrator.
func (d *Dependencies) initServices() {
	d.Evaluator = evaluator.New(d.Logger)
	d.Selector = routing.NewSelector(d.Pools, d.Logger)
	d.Decisions = decision.NewService(
		d.Policies,
		d.Evaluator,
		d.Selector,
		d.Ledger,
		d.Gate,
		d.Metrics,
		d.Logger,
	)
}

// initAuth wires JWT validation when enabled.
func (d *Dependencies) initAuth(cfg *config.Config) {
	if !cfg.Auth.Enabled {
		d.Logger.Warn("authentication disabled; API is open")
		return
	}
	validator := middleware.NewHMACValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	d.Logger.Info("JWT authentication enabled", zap.String("issuer", cfg.Auth.Issuer))
}

// StartBackground launches the checkpoint schedule, the snapshot watcher and
// the pending-override expiry sweep.
func (d *Dependencies) StartBackground() error {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancelBackground = cancel

	if schedule := d.Config.Ledger.CheckpointSchedule; schedule != "" {
		if err := d.Scheduler.Start(schedule); err != nil {
			cancel()
			return fmt.Errorf("starting checkpoint schedule: %w", err)
		}
	}

	if d.Config.Policy.Watch {
		d.background.Add(1)
		go func() {
			defer d.background.Done()
			if err := d.Snapshot.Watch(ctx, 0); err != nil && ctx.Err() == nil {
				d.Logger.Error("snapshot watcher stopped", zap.Error(err))
			}
		}()
	}

	if interval := d.Config.Ledger.OverrideSweep; interval > 0 {
		d.background.Add(1)
		go func() {
			defer d.background.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n, err := d.Gate.ExpireStale(ctx); err != nil {
						d.Logger.Error("override expiry sweep failed", zap.Error(err))
					} else if n > 0 {
						d.Logger.Info("expired stale overrides", zap.Int("count", n))
					}
				}
			}
		}()
	}

	return nil
}

// Close gracefully shuts down all dependencies: background work stops, the
// ledger flushes a final checkpoint, then the backing store closes.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	if d.cancelBackground != nil {
		d.cancelBackground()
	}
	if d.Scheduler != nil {
		d.Scheduler.Stop()
	}
	d.background.Wait()

	var errs []error
	if d.Ledger != nil {
		if err := d.Ledger.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close ledger: %w", err))
		} else {
			d.Logger.Info("ledger closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}
