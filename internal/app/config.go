package app

import "time"

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// DefaultFallbackImageURL подставляется вместо пустой ссылки на изображение товара.
const DefaultFallbackImageURL = "https://github.com/brambleappmatus/images/blob/main/placeholder.png?raw=true"

// Config описывает настройки запуска сервиса каталога.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	FallbackImageURL   string
	CORSAllowedOrigins []string
	RequestTimeout     time.Duration

	KafkaBrokers         []string
	KafkaTopic           string
	KafkaDeadLetterTopic string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending задаёт порог backlog, выше которого /healthz сообщает degraded.
	OutboxMaxPending int

	CartTTL              time.Duration
	CartCleanupInterval  time.Duration
	CartCleanupBatchSize int
}

// DefaultConfig возвращает настройки по умолчанию: in-memory хранилище, Kafka выключена.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		FallbackImageURL: DefaultFallbackImageURL,
		RequestTimeout:   30 * time.Second,

		KafkaTopic:           "storefront.catalog.events",
		KafkaDeadLetterTopic: "storefront.catalog.dlq",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,
		OutboxMaxPending:   1000,

		CartTTL:              30 * 24 * time.Hour,
		CartCleanupInterval:  time.Hour,
		CartCleanupBatchSize: 500,
	}
}
