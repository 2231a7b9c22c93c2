package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/vietddude/slotwatcher/internal/core/config"
	"github.com/vietddude/slotwatcher/internal/core/worker"
	"github.com/vietddude/slotwatcher/internal/health"
	"github.com/vietddude/slotwatcher/internal/infra/booking"
	"github.com/vietddude/slotwatcher/internal/infra/notify"
	"github.com/vietddude/slotwatcher/internal/infra/probe"
	redisclient "github.com/vietddude/slotwatcher/internal/infra/redis"
	"github.com/vietddude/slotwatcher/internal/infra/storage"
	"github.com/vietddude/slotwatcher/internal/infra/storage/memory"
	"github.com/vietddude/slotwatcher/internal/infra/storage/postgres"
	"github.com/vietddude/slotwatcher/internal/pool"
	"github.com/vietddude/slotwatcher/internal/recovery"
	"github.com/vietddude/slotwatcher/internal/relay"
	"github.com/vietddude/slotwatcher/internal/throttle"
	"github.com/vietddude/slotwatcher/internal/workflow"
)

// App is the main application struct that wires the pool and its collaborators.
type App struct {
	cfg          *config.AppConfig
	pool         *pool.Pool
	relay        *relay.Relay
	pruner       *worker.Pruner
	healthMon    *health.Monitor
	healthServer *health.Server
	bookings     storage.BookingRepository
	db           *postgres.DB
	redisClient  *redisclient.Client
	log          *slog.Logger

	cancel context.CancelFunc
	done   chan error
	once   sync.Once
}

// Option configures an App.
type Option func(*options)

type options struct {
	factory    workflow.ProbeFactory
	httpClient *http.Client
	backends   []relay.Notifier
}

// WithProbeFactory replaces the WebDriver probe.
func WithProbeFactory(f workflow.ProbeFactory) Option {
	return func(o *options) { o.factory = f }
}

// WithHTTPClient sets the client used by the REST and notification backends.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithBackends adds notification backends to the configured ones.
func WithBackends(b ...relay.Notifier) Option {
	return func(o *options) { o.backends = append(o.backends, b...) }
}

// NewApp creates a new App with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.factory == nil {
		o.factory = probe.Factory(cfg.Probe, nil)
	}
	log := slog.Default().With("component", "app")

	// 1. Journal storage
	var bookings storage.BookingRepository
	var alerts storage.AlertRepository
	var db *postgres.DB
	var deps []health.Dependency

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		bookings = postgres.NewBookingRepo(db)
		alerts = postgres.NewAlertRepo(db)
		deps = append(deps, health.Dependency{Name: "database", Check: db.Health})
		log.Info("Using PostgreSQL journal")
	} else {
		store := memory.NewMemoryStorage()
		bookings = memory.NewBookingRepo(store)
		alerts = memory.NewAlertRepo(store)
		log.Info("Using memory journal")
	}

	// 2. Redis: queue, code claims and inbox
	var redisClient *redisclient.Client
	var poolOpts []pool.Option
	relayOpts := []relay.Option{relay.WithJournal(alerts)}
	backends := notify.Build(cfg.Backends.Config, o.httpClient)

	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			if db != nil {
				_ = db.Close()
			}
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		poolOpts = append(poolOpts, pool.WithQueue(redisclient.NewLocationQueue(redisClient)))
		relayOpts = append(relayOpts, relay.WithClaimer(redisclient.NewCodeClaims(redisClient)))
		if cfg.Backends.Inbox.Enabled {
			inbox := redisclient.NewInbox(redisClient, redisclient.WithRetention(cfg.Backends.Inbox.Retention))
			backends = append(backends, inbox)
		}
		deps = append(deps, health.Dependency{Name: "redis", Check: redisClient.Ping, Critical: true})
		log.Info("Using Redis queue", "prefix", cfg.Redis.Prefix)
	} else if cfg.Backends.Inbox.Enabled {
		log.Warn("Inbox backend needs redis, skipping")
	}
	backends = append(backends, o.backends...)
	if len(backends) == 0 {
		log.Warn("No notification backend enabled; codes cannot be relayed")
	}
	for _, b := range backends {
		_, polls := b.(relay.Poller)
		log.Info("Notification backend enabled", "backend", b.Name(), "polls", polls)
	}

	// 3. Workflow collaborators
	rly := relay.New(backends, cfg.Relay(), relayOpts...)
	ctrl := throttle.NewController(cfg.Throttle())
	classifier := recovery.NewClassifier(cfg.Recovery())

	machineOpts := []workflow.Option{workflow.WithLedger(bookings)}
	if cfg.BookingAPI.Enabled {
		machineOpts = append(machineOpts, workflow.WithBookingAPI(booking.NewClient(cfg.Booking(), o.httpClient)))
	}
	machine := workflow.New(cfg.Workflow(), ctrl, rly, classifier, machineOpts...)

	// 4. Pool, pruner and health
	p := pool.New(cfg.Pool(), machine, o.factory, poolOpts...)
	healthMon := health.NewMonitor(p, deps...)

	return &App{
		cfg:          cfg,
		pool:         p,
		relay:        rly,
		pruner:       worker.NewPruner(cfg.Database.Retention, alerts),
		healthMon:    healthMon,
		healthServer: health.NewServer(healthMon, cfg.Server.Port),
		bookings:     bookings,
		db:           db,
		redisClient:  redisClient,
		log:          log,
		done:         make(chan error, 1),
	}, nil
}

// Start starts the pool and its background tasks. It returns immediately.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	go func() {
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Health server failed", "error", err)
		}
	}()

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}
	go a.pruner.Start(ctx)

	go func() {
		a.done <- a.pool.Run(ctx, a.cfg.Locations)
	}()

	a.log.Info("Slot watcher started", "locations", len(a.cfg.Locations))
	return nil
}

// Stop cancels the pool, waits for the workers to re-queue their locations
// and closes every connection.
func (a *App) Stop(ctx context.Context) error {
	var err error
	a.once.Do(func() {
		a.log.Info("Stopping slot watcher...")
		if a.cancel != nil {
			a.cancel()
			select {
			case runErr := <-a.done:
				if runErr != nil && !errors.Is(runErr, context.Canceled) {
					a.log.Warn("Worker pool stopped with error", "error", runErr)
				}
			case <-ctx.Done():
				a.log.Warn("Timed out waiting for workers")
			}
		}

		if a.redisClient != nil {
			if cerr := a.redisClient.Close(); cerr != nil {
				a.log.Warn("Failed to close Redis", "error", cerr)
			}
		}
		if a.db != nil {
			if cerr := a.db.Close(); cerr != nil {
				a.log.Warn("Failed to close database", "error", cerr)
			}
		}
		err = a.healthServer.Stop(ctx)
	})
	return err
}

// Stats returns the pool snapshot.
func (a *App) Stats() pool.Stats {
	return a.pool.Stats()
}

// Health returns the current health report.
func (a *App) Health(ctx context.Context) health.HealthReport {
	return a.healthMon.CheckHealth(ctx)
}

// Bookings returns the booking journal.
func (a *App) Bookings() storage.BookingRepository {
	return a.bookings
}
