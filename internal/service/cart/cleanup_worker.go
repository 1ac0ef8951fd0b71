package cart

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// DefaultCartTTL задаёт срок жизни неактивной гостевой корзины.
	DefaultCartTTL = 30 * 24 * time.Hour

	defaultCleanupInterval  = time.Hour
	defaultCleanupBatchSize = 500
)

var (
	cartCleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_cart_cleanup_runs_total",
		Help: "Total number of guest cart cleanup runs grouped by result.",
	}, []string{"result"})
	cartCleanupDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_cart_cleanup_deleted_total",
		Help: "Total number of deleted idle guest carts.",
	})
	cartCleanupLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_cart_cleanup_last_deleted",
		Help: "Number of deleted carts during the last cleanup run.",
	})
)

// CleanupOptions задаёт параметры воркера очистки корзин.
type CleanupOptions struct {
	Logger    *log.Entry
	TTL       time.Duration
	Interval  time.Duration
	BatchSize int
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Logger = logger
	}
}

// WithTTL задаёт, сколько гостевая корзина может быть неактивной.
func WithTTL(ttl time.Duration) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.TTL = ttl
	}
}

// WithInterval задаёт интервал между cleanup-циклами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Interval = interval
	}
}

// WithBatchSize задаёт размер batch для одного удаления.
func WithBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.BatchSize = batchSize
	}
}

// CleanupWorker периодически удаляет гостевые корзины, не обновлявшиеся дольше TTL.
type CleanupWorker struct {
	repo      domain.CartRepository
	logger    *log.Entry
	ttl       time.Duration
	interval  time.Duration
	batchSize int
}

// NewCleanupWorker создаёт воркер очистки корзин.
func NewCleanupWorker(repo domain.CartRepository, options ...CleanupOption) *CleanupWorker {
	opts := CleanupOptions{
		TTL:       DefaultCartTTL,
		Interval:  defaultCleanupInterval,
		BatchSize: defaultCleanupBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "cart-cleanup-worker")
	}

	if opts.TTL <= 0 {
		opts.TTL = DefaultCartTTL
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}

	return &CleanupWorker{
		repo:      repo,
		logger:    logger,
		ttl:       opts.TTL,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("cart cleanup worker is disabled: repo is nil")
		return
	}

	w.cleanup(ctx, time.Now().UTC())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cleanup(ctx, time.Now().UTC())
		}
	}
}

func (w *CleanupWorker) cleanup(ctx context.Context, now time.Time) {
	deleted, err := w.DeleteIdle(ctx, now)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		cartCleanupRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("cart cleanup run failed")
		return
	}

	cartCleanupRunsTotal.WithLabelValues("ok").Inc()
	cartCleanupLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("cart cleanup completed")
	}
}

// DeleteIdle удаляет все гостевые корзины с UpdatedAt < now-TTL порциями batchSize.
func (w *CleanupWorker) DeleteIdle(ctx context.Context, now time.Time) (int, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	before := now.Add(-w.ttl)

	totalDeleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return totalDeleted, err
		}

		deleted, err := w.repo.DeleteIdleGuests(ctx, before, w.batchSize)
		if err != nil {
			return totalDeleted, err
		}

		totalDeleted += deleted
		if deleted > 0 {
			cartCleanupDeletedTotal.Add(float64(deleted))
		}

		if deleted < w.batchSize {
			break
		}
	}

	return totalDeleted, nil
}
