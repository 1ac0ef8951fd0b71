package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
	defaultApplicationName = "storefront-catalog"
)

// Store держит пул соединений к PostgreSQL, общий для репозиториев каталога, корзин и outbox.
type Store struct {
	db *sql.DB
}

type storeOptions struct {
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
	applicationName string
	registerer      prometheus.Registerer
}

// Option настраивает Open.
type Option func(*storeOptions)

// WithPoolSize ограничивает число открытых и простаивающих соединений.
func WithPoolSize(maxOpen, maxIdle int) Option {
	return func(o *storeOptions) {
		if maxOpen > 0 {
			o.maxOpenConns = maxOpen
		}
		if maxIdle >= 0 {
			o.maxIdleConns = min(maxIdle, o.maxOpenConns)
		}
	}
}

// WithConnMaxLifetime задаёт время жизни соединения в пуле.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(o *storeOptions) {
		if d > 0 {
			o.connMaxLifetime = d
		}
	}
}

// WithApplicationName подписывает соединения в pg_stat_activity.
func WithApplicationName(name string) Option {
	return func(o *storeOptions) {
		if name != "" {
			o.applicationName = name
		}
	}
}

// WithMetricsRegisterer публикует статистику пула (sql.DBStats) в prometheus.
func WithMetricsRegisterer(registerer prometheus.Registerer) Option {
	return func(o *storeOptions) {
		o.registerer = registerer
	}
}

// Open открывает пул через pgx и проверяет доступность базы.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	options := storeOptions{
		maxOpenConns:    defaultMaxOpenConns,
		maxIdleConns:    defaultMaxIdleConns,
		connMaxLifetime: defaultConnMaxLifetime,
		applicationName: defaultApplicationName,
	}
	for _, opt := range opts {
		opt(&options)
	}

	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if _, ok := connConfig.RuntimeParams["application_name"]; !ok {
		connConfig.RuntimeParams["application_name"] = options.applicationName
	}

	db := stdlib.OpenDB(*connConfig)
	db.SetMaxOpenConns(options.maxOpenConns)
	db.SetMaxIdleConns(options.maxIdleConns)
	db.SetConnMaxLifetime(options.connMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if options.registerer != nil {
		collector := collectors.NewDBStatsCollector(db, connConfig.Database)
		if err := options.registerer.Register(collector); err != nil {
			var alreadyRegistered prometheus.AlreadyRegisteredError
			if !errors.As(err, &alreadyRegistered) {
				_ = db.Close()
				return nil, fmt.Errorf("register db stats collector: %w", err)
			}
		}
	}

	return &Store{db: db}, nil
}

// DB возвращает пул для репозиториев и тестов.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность базы; используется readiness-проверкой storage.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все ожидающие миграции при CATALOG_POSTGRES_AUTO_MIGRATE=true.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает пул.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
