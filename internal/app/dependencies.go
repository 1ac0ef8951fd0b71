package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// runtimeDependencies содержит хранилища, выбранные по StorageDriver.
type runtimeDependencies struct {
	products       domain.ProductStore
	carts          domain.CartRepository
	outboxRepo     domain.OutboxRepository
	storageChecker healthcheck.Checker
	closeFn        func() error
	// durable: данные переживают рестарт процесса.
	durable bool
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if driver == "" {
		driver = StorageDriverMemory
	}

	switch driver {
	case StorageDriverMemory:
		products := memory.NewProductStore()
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			products:   products,
			carts:      memory.NewCartRepository(),
			outboxRepo: memory.NewOutboxRepository(),
			storageChecker: healthcheck.NewCheckFunc("storage", func(ctx context.Context) error {
				_, err := products.Stats(ctx)
				return err
			}),
		}, nil

	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, errors.New("postgres storage requires CATALOG_POSTGRES_DSN")
		}

		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithMetricsRegisterer(prometheus.DefaultRegisterer))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}

		logger.Info("using postgres storage")
		return &runtimeDependencies{
			products:       postgres.NewProductStore(store),
			carts:          postgres.NewCartRepository(store),
			outboxRepo:     postgres.NewOutboxRepository(store),
			storageChecker: healthcheck.NewCheckFunc("storage", store.Ping),
			closeFn:        store.Close,
			durable:        true,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// outboxBacklogChecker сообщает degraded, когда неотправленных событий больше порога.
func outboxBacklogChecker(repo domain.OutboxRepository, maxPending int) healthcheck.Checker {
	return backlogChecker{repo: repo, maxPending: maxPending}
}

type backlogChecker struct {
	repo       domain.OutboxRepository
	maxPending int
}

func (c backlogChecker) Check(_ context.Context) healthcheck.Check {
	check := healthcheck.Check{Name: "outbox", Status: healthcheck.StatusHealthy}
	stats, err := c.repo.Stats()
	if err != nil {
		check.Status = healthcheck.StatusDegraded
		check.Message = err.Error()
		return check
	}
	if c.maxPending > 0 && stats.PendingCount > c.maxPending {
		check.Status = healthcheck.StatusDegraded
		check.Message = fmt.Sprintf("%d pending events", stats.PendingCount)
	}
	return check
}
