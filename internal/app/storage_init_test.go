package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"))
	require.NoError(t, err)

	require.NotNil(t, deps.products)
	require.NotNil(t, deps.carts)
	require.NotNil(t, deps.outboxRepo)
	require.False(t, deps.durable)
	require.Nil(t, deps.closeFn)
	require.Equal(t, healthcheck.StatusHealthy, deps.storageChecker.Check(context.Background()).Status)
}

func TestInitRuntimeDependencies_EmptyDriverDefaultsToMemory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{}, log.WithField("test", "default-storage"))
	require.NoError(t, err)
	require.NotNil(t, deps.products)
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
	}, log.WithField("test", "postgres-missing-dsn"))
	require.ErrorContains(t, err, "CATALOG_POSTGRES_DSN")
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: "sqlite",
	}, log.WithField("test", "unsupported-driver"))
	require.ErrorContains(t, err, "unsupported storage driver")
}
