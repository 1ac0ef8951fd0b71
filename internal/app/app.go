// Package app собирает сервис каталога: хранилище, сервисы, HTTP API,
// gRPC health, метрики и фоновые воркеры.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run запускает сервис и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		producer = nil
	}
	defer closeKafkaProducer(producer, logger)

	// Без брокера и без postgres события некому забрать, outbox не подключаем.
	var catalogOutbox domain.OutboxRepository
	if producer != nil || deps.durable {
		catalogOutbox = deps.outboxRepo
	}

	products := catalog.NewService(deps.products,
		catalog.WithLogger(logger.WithField("layer", "catalog")),
		catalog.WithOutbox(catalogOutbox),
		catalog.WithMetrics(metrics.NewCatalogMetrics()),
		catalog.WithFallbackImageURL(cfg.FallbackImageURL),
	)
	carts := cart.NewService(deps.carts, products, logger.WithField("layer", "cart"))

	workersCtx, stopWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	startWorker := func(run func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			run(workersCtx)
		}()
	}
	defer func() {
		stopWorkers()
		workers.Wait()
	}()

	if producer != nil {
		outboxWorker := outbox.NewWorker(
			deps.outboxRepo,
			kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
			outbox.WithLogger(logger.WithField("layer", "outbox")),
			outbox.WithDeadLetterPublisher(kafka.NewOutboxPublisher(producer, cfg.KafkaDeadLetterTopic)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		startWorker(outboxWorker.Run)
	}

	cleanupWorker := cart.NewCleanupWorker(
		deps.carts,
		cart.WithLogger(logger.WithField("layer", "cart-cleanup")),
		cart.WithTTL(cfg.CartTTL),
		cart.WithInterval(cfg.CartCleanupInterval),
		cart.WithBatchSize(cfg.CartCleanupBatchSize),
	)
	startWorker(cleanupWorker.Run)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	if catalogOutbox != nil {
		healthHandler.RegisterChecker("outbox", outboxBacklogChecker(catalogOutbox, cfg.OutboxMaxPending))
	}
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}
	apiSrv := &http.Server{
		Handler: httpapi.NewRouter(products, carts,
			httpapi.WithLogger(logger.WithField("layer", "http")),
			httpapi.WithRequestTimeout(cfg.RequestTimeout),
			httpapi.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = apiLis.Close()
		return err
	}
	grpcServer, grpcHealth := newGRPCServer(logger.WithField("layer", "grpc"))

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("HTTP API слушает %s", apiLis.Addr())
		if err := apiSrv.Serve(apiLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Infof("gRPC health сервер слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		shutdownServers(grpcServer, grpcHealth, apiSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownServers(grpcServer, grpcHealth, apiSrv, logger)
		return err
	}
}

// shutdownServers переводит gRPC health в NOT_SERVING и останавливает оба сервера.
func shutdownServers(grpcServer *grpc.Server, grpcHealth *health.Server, apiSrv *http.Server, logger *log.Entry) {
	grpcHealth.Shutdown()

	shutdownHTTP(apiSrv, logger)

	stoppedCh := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		grpcServer.Stop()
	}
}

// startMetricsServer запускает /metrics и health-пробы на отдельном адресе.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
