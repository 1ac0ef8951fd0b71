package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения label result.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultNotFound = "not_found"
	ResultInvalid  = "invalid"
)

// CatalogMetrics содержит метрики операций каталога.
type CatalogMetrics struct {
	// Счётчики и длительность операций по имени операции
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	// Восстановление порядка
	repairPasses prometheus.Counter
	repairedRows prometheus.Counter

	// Конфликты display_order при создании
	createRetries prometheus.Counter

	outboxEvents prometheus.Counter

	catalogSize prometheus.Gauge
}

// NewCatalogMetrics создаёт метрики каталога в DefaultRegisterer.
func NewCatalogMetrics() *CatalogMetrics {
	return NewCatalogMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCatalogMetricsWithRegisterer создаёт метрики в указанном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewCatalogMetricsWithRegisterer(registerer prometheus.Registerer) *CatalogMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CatalogMetrics{
		operations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_catalog_operations_total",
			Help: "Total number of catalog operations grouped by operation and result",
		}, []string{"op", "result"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_catalog_operation_duration_seconds",
			Help:    "Duration of catalog operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"op"}),
		repairPasses: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_catalog_order_repairs_total",
			Help: "Total number of display order repair passes",
		}),
		repairedRows: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_catalog_order_repaired_rows_total",
			Help: "Total number of products renumbered by repair passes",
		}),
		createRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_catalog_create_retries_total",
			Help: "Total number of create retries caused by display order conflicts",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_catalog_outbox_events_total",
			Help: "Total number of catalog events enqueued to outbox",
		}),
		catalogSize: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_catalog_products",
			Help: "Number of products observed by the last listing",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOperation учитывает результат и длительность операции каталога.
func (m *CatalogMetrics) RecordOperation(op, result string, duration time.Duration) {
	m.operations.WithLabelValues(op, result).Inc()
	m.operationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordRepair учитывает проход восстановления порядка и число перенумерованных строк.
func (m *CatalogMetrics) RecordRepair(rows int) {
	m.repairPasses.Inc()
	if rows > 0 {
		m.repairedRows.Add(float64(rows))
	}
}

// RecordCreateRetry увеличивает счётчик повторов создания.
func (m *CatalogMetrics) RecordCreateRetry() {
	m.createRetries.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CatalogMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// SetCatalogSize фиксирует размер каталога.
func (m *CatalogMetrics) SetCatalogSize(n int) {
	m.catalogSize.Set(float64(n))
}
