package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/app"
)

const (
	envHTTPAddr             = "CATALOG_HTTP_ADDR"
	envGRPCAddr             = "CATALOG_GRPC_ADDR"
	envMetricsAddr          = "CATALOG_METRICS_ADDR"
	envStorageDriver        = "CATALOG_STORAGE_DRIVER"
	envPostgresDSN          = "CATALOG_POSTGRES_DSN"
	envPostgresAutoMigrate  = "CATALOG_POSTGRES_AUTO_MIGRATE"
	envFallbackImageURL     = "CATALOG_FALLBACK_IMAGE_URL"
	envCORSAllowedOrigins   = "CATALOG_CORS_ALLOWED_ORIGINS"
	envRequestTimeout       = "CATALOG_HTTP_REQUEST_TIMEOUT"
	envKafkaBrokers         = "CATALOG_KAFKA_BROKERS"
	envKafkaTopic           = "CATALOG_KAFKA_TOPIC"
	envKafkaDeadLetterTopic = "CATALOG_KAFKA_DLQ_TOPIC"
	envOutboxPollInterval   = "CATALOG_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize      = "CATALOG_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts    = "CATALOG_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay     = "CATALOG_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending     = "CATALOG_OUTBOX_MAX_PENDING"
	envCartTTL              = "CATALOG_CART_TTL"
	envCartCleanupInterval  = "CATALOG_CART_CLEANUP_INTERVAL"
	envCartCleanupBatchSize = "CATALOG_CART_CLEANUP_BATCH_SIZE"
	envLogLevel             = "CATALOG_LOG_LEVEL"
)

type envLookup func(key string) (string, bool)

func positiveInt(v int) bool { return v > 0 }

func nonNegativeInt(v int) bool { return v >= 0 }

func positiveDuration(v time.Duration) bool { return v > 0 }

func nonNegativeDuration(v time.Duration) bool { return v >= 0 }

// readConfigFromEnv собирает конфигурацию из окружения.
// Некорректные значения не прерывают запуск: остаётся значение по умолчанию, а в warnings
// попадает описание проблемы.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, value string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, value, err))
	}

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseBool(v)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = parsed
		}
	}
	integer := func(key string, dst *int, valid func(int) bool, rule string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseInt(v, valid, rule)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = parsed
		}
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseDuration(v, valid, rule)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = parsed
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok {
			if items := parseList(v); len(items) > 0 {
				*dst = items
			}
		}
	}

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)

	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		driver := strings.ToLower(strings.TrimSpace(v))
		switch driver {
		case app.StorageDriverMemory, app.StorageDriverPostgres:
			cfg.StorageDriver = driver
		default:
			warn(envStorageDriver, v, fmt.Errorf("must be %s or %s", app.StorageDriverMemory, app.StorageDriverPostgres))
		}
	}
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	str(envFallbackImageURL, &cfg.FallbackImageURL)
	list(envCORSAllowedOrigins, &cfg.CORSAllowedOrigins)
	duration(envRequestTimeout, &cfg.RequestTimeout, positiveDuration, "must be > 0")

	list(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaTopic, &cfg.KafkaTopic)
	str(envKafkaDeadLetterTopic, &cfg.KafkaDeadLetterTopic)

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positiveInt, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positiveInt, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")
	integer(envOutboxMaxPending, &cfg.OutboxMaxPending, nonNegativeInt, "must be >= 0")

	duration(envCartTTL, &cfg.CartTTL, positiveDuration, "must be > 0")
	duration(envCartCleanupInterval, &cfg.CartCleanupInterval, positiveDuration, "must be > 0")
	integer(envCartCleanupBatchSize, &cfg.CartCleanupBatchSize, positiveInt, "must be > 0")

	return cfg, warnings
}

// readLogLevel возвращает уровень из CATALOG_LOG_LEVEL или info.
func readLogLevel(lookup envLookup) (log.Level, string) {
	v, ok := lookup(envLogLevel)
	if !ok || strings.TrimSpace(v) == "" {
		return log.InfoLevel, ""
	}
	level, err := log.ParseLevel(strings.TrimSpace(v))
	if err != nil {
		return log.InfoLevel, fmt.Sprintf("%s=%q ignored: %v", envLogLevel, v, err)
	}
	return level, ""
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("%d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("%s %s", value, rule)
	}
	return value, nil
}

// parseList разбирает список через запятую, пропуская пустые элементы.
func parseList(raw string) []string {
	var items []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}
