// Package catalog управляет товарами витрины и их порядком отображения.
//
// Service является единственным писателем display_order. Он выдаёт позицию при создании,
// закрывает разрыв после удаления, применяет ручную перестановку и чинит
// унаследованный порядок при чтении.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultMaxCreateAttempts = 5

	opCreate           = "create"
	opUpdate           = "update"
	opDelete           = "delete"
	opDuplicate        = "duplicate"
	opToggleVisibility = "toggle_visibility"
	opReorder          = "reorder"
	opList             = "list"
	opGet              = "get"

	catalogAggregateID = "catalog"
)

// Options задаёт зависимости и параметры Service.
type Options struct {
	Logger            *log.Entry
	Outbox            domain.OutboxRepository
	Metrics           *metrics.CatalogMetrics
	FallbackImageURL  string
	MaxCreateAttempts int
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithOutbox включает публикацию событий каталога через transactional outbox.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(opts *Options) {
		opts.Outbox = outbox
	}
}

// WithMetrics задаёт prometheus-метрики каталога.
func WithMetrics(m *metrics.CatalogMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithFallbackImageURL задаёт картинку для товаров без ImageURL.
func WithFallbackImageURL(url string) Option {
	return func(opts *Options) {
		opts.FallbackImageURL = url
	}
}

// WithMaxCreateAttempts ограничивает число попыток создания при конфликте display_order.
func WithMaxCreateAttempts(attempts int) Option {
	return func(opts *Options) {
		opts.MaxCreateAttempts = attempts
	}
}

// Service реализует операции каталога поверх ProductStore.
type Service struct {
	store             domain.ProductStore
	outbox            domain.OutboxRepository
	metrics           *metrics.CatalogMetrics
	logger            *log.Entry
	fallbackImageURL  string
	maxCreateAttempts int
}

// NewService создаёт сервис каталога.
func NewService(store domain.ProductStore, options ...Option) *Service {
	opts := Options{MaxCreateAttempts: defaultMaxCreateAttempts}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "catalog")
	}
	if opts.MaxCreateAttempts <= 0 {
		opts.MaxCreateAttempts = defaultMaxCreateAttempts
	}

	return &Service{
		store:             store,
		outbox:            opts.Outbox,
		metrics:           opts.Metrics,
		logger:            logger,
		fallbackImageURL:  strings.TrimSpace(opts.FallbackImageURL),
		maxCreateAttempts: opts.MaxCreateAttempts,
	}
}

// Create добавляет товар в конец каталога.
func (s *Service) Create(ctx context.Context, in domain.ProductInput) (created domain.Product, err error) {
	start := time.Now()
	defer func() { s.observe(opCreate, start, err) }()

	if errs := in.Validate(); len(errs) > 0 {
		return domain.Product{}, errors.Join(errs...)
	}

	created, err = s.insertAppended(ctx, s.productFromInput(in))
	if err != nil {
		return domain.Product{}, err
	}

	s.logger.WithFields(log.Fields{
		"product_id":    created.ID,
		"display_order": created.DisplayOrder,
	}).Info("product created")
	s.emit(domain.AggregateProduct, created.ID, domain.EventProductCreated, productEvent(created))
	return created, nil
}

// Get возвращает товар по ID.
func (s *Service) Get(ctx context.Context, id string) (product domain.Product, err error) {
	start := time.Now()
	defer func() { s.observe(opGet, start, err) }()

	product, err = s.store.GetByID(ctx, id)
	if err != nil {
		return domain.Product{}, domain.NewStoreError("get product", err)
	}
	return product, nil
}

// Update перезаписывает изменяемые поля товара. DisplayOrder из входа игнорируется.
func (s *Service) Update(ctx context.Context, product domain.Product) (err error) {
	start := time.Now()
	defer func() { s.observe(opUpdate, start, err) }()

	_, err = s.applyPatch(ctx, product.ID, product.Patch())
	return err
}

// Patch меняет только заданные поля и возвращает сохранённый товар.
// Проверяется запись после слияния, но в хранилище уходят только переданные колонки.
func (s *Service) Patch(ctx context.Context, id string, patch domain.ProductPatch) (updated domain.Product, err error) {
	start := time.Now()
	defer func() { s.observe(opUpdate, start, err) }()

	return s.applyPatch(ctx, id, patch)
}

func (s *Service) applyPatch(ctx context.Context, id string, patch domain.ProductPatch) (domain.Product, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Product{}, domain.ErrProductIDRequired
	}
	if patch.Empty() {
		return domain.Product{}, fmt.Errorf("%w: no product fields to update", domain.ErrValidation)
	}

	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return domain.Product{}, domain.NewStoreError("get product", err)
	}
	merged := patch.Apply(current)
	if errs := merged.ValidateInvariants(); len(errs) > 0 {
		return domain.Product{}, errors.Join(errs...)
	}
	if patch.ImageURL != nil {
		url := s.imageURL(*patch.ImageURL)
		patch.ImageURL = &url
	}

	if err := s.store.Update(ctx, id, patch); err != nil {
		return domain.Product{}, domain.NewStoreError("update product", err)
	}
	updated, err := s.store.GetByID(ctx, id)
	if err != nil {
		return domain.Product{}, domain.NewStoreError("get product", err)
	}

	s.logger.WithField("product_id", id).Info("product updated")
	s.emit(domain.AggregateProduct, id, domain.EventProductUpdated, productEvent(updated))
	return updated, nil
}

// Delete удаляет товар и сдвигает на одну позицию все товары после него.
//
// Если удаление прошло, а перенумерация нет, в порядке остаётся разрыв,
// который закрывает следующий List; ошибка при этом возвращается.
func (s *Service) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { s.observe(opDelete, start, err) }()

	target, err := s.store.GetByID(ctx, id)
	if err != nil {
		return domain.NewStoreError("get product", err)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return domain.NewStoreError("delete product", err)
	}

	s.logger.WithFields(log.Fields{
		"product_id":    id,
		"display_order": target.DisplayOrder,
	}).Info("product deleted")
	s.emit(domain.AggregateProduct, id, domain.EventProductDeleted, productEvent(target))

	if err := s.closeGap(ctx, target.DisplayOrder); err != nil {
		s.logger.WithError(err).WithField("product_id", id).
			Warn("display order gap left after delete, next listing will repair it")
		return err
	}
	return nil
}

// closeGap сдвигает хвост после removedOrder на одну позицию.
// Товары, удалённые параллельно, пропускаются, хвост остаётся сплошным.
func (s *Service) closeGap(ctx context.Context, removedOrder int) error {
	if removedOrder <= 0 {
		return nil
	}

	remaining, err := s.store.GetAll(ctx)
	if err != nil {
		return domain.NewStoreError("close display order gap", err)
	}

	tail := make([]string, 0, len(remaining))
	for _, p := range remaining {
		if p.DisplayOrder > removedOrder {
			tail = append(tail, p.ID)
		}
	}
	if len(tail) == 0 {
		return nil
	}

	if _, err := s.store.Renumber(ctx, tail, removedOrder, domain.RenumberExisting); err != nil {
		return domain.NewStoreError("close display order gap", err)
	}
	return nil
}

// Duplicate создаёт копию товара с суффиксом " (Copy)" в конце каталога.
// Hidden копируется из исходного товара.
func (s *Service) Duplicate(ctx context.Context, source domain.Product) (created domain.Product, err error) {
	start := time.Now()
	defer func() { s.observe(opDuplicate, start, err) }()

	in := source.Input()
	in.Name = source.Name + domain.CopyNameSuffix
	if errs := in.Validate(); len(errs) > 0 {
		return domain.Product{}, errors.Join(errs...)
	}

	created, err = s.insertAppended(ctx, s.productFromInput(in))
	if err != nil {
		return domain.Product{}, err
	}

	s.logger.WithFields(log.Fields{
		"product_id":    created.ID,
		"source_id":     source.ID,
		"display_order": created.DisplayOrder,
	}).Info("product duplicated")
	payload := productEvent(created)
	payload["source_id"] = source.ID
	s.emit(domain.AggregateProduct, created.ID, domain.EventProductDuplicated, payload)
	return created, nil
}

// ToggleVisibility инвертирует Hidden сохранённого товара, не трогая порядок.
func (s *Service) ToggleVisibility(ctx context.Context, product domain.Product) (updated domain.Product, err error) {
	start := time.Now()
	defer func() { s.observe(opToggleVisibility, start, err) }()

	current, err := s.store.GetByID(ctx, product.ID)
	if err != nil {
		return domain.Product{}, domain.NewStoreError("get product", err)
	}

	hidden := !current.Hidden
	if err := s.store.Update(ctx, current.ID, domain.ProductPatch{Hidden: &hidden}); err != nil {
		return domain.Product{}, domain.NewStoreError("toggle product visibility", err)
	}

	updated, err = s.store.GetByID(ctx, current.ID)
	if err != nil {
		return domain.Product{}, domain.NewStoreError("get product", err)
	}

	s.logger.WithFields(log.Fields{
		"product_id": updated.ID,
		"hidden":     updated.Hidden,
	}).Info("product visibility changed")
	s.emit(domain.AggregateProduct, updated.ID, domain.EventProductVisibilityChanged, productEvent(updated))
	return updated, nil
}

// Reorder задаёт новый порядок: orderedIDs должен быть перестановкой всех товаров.
// Хранилище меняет только display_order. Если товар из списка удалён параллельно,
// перестановка не применяется и возвращается ErrValidation.
func (s *Service) Reorder(ctx context.Context, orderedIDs []string) (err error) {
	start := time.Now()
	defer func() { s.observe(opReorder, start, err) }()

	current, err := s.store.GetAll(ctx)
	if err != nil {
		return domain.NewStoreError("load catalog", err)
	}
	if len(orderedIDs) != len(current) {
		return fmt.Errorf("%w: reorder must list all %d products, got %d", domain.ErrValidation, len(current), len(orderedIDs))
	}

	known := make(map[string]struct{}, len(current))
	for _, p := range current {
		known[p.ID] = struct{}{}
	}

	seen := make(map[string]struct{}, len(orderedIDs))
	for _, id := range orderedIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: product %q listed more than once", domain.ErrValidation, id)
		}
		seen[id] = struct{}{}

		if _, ok := known[id]; !ok {
			return fmt.Errorf("%w: unknown product %q", domain.ErrValidation, id)
		}
	}

	if len(orderedIDs) > 0 {
		if _, err := s.store.Renumber(ctx, orderedIDs, 1, domain.RenumberAll); err != nil {
			if domain.IsNotFound(err) {
				return fmt.Errorf("%w: catalog changed during reorder: %v", domain.ErrValidation, err)
			}
			return domain.NewStoreError("reorder catalog", err)
		}
	}

	s.logger.WithField("products", len(orderedIDs)).Info("catalog reordered")
	s.emit(domain.AggregateCatalog, catalogAggregateID, domain.EventCatalogReordered, map[string]any{
		"ids": orderedIDs,
	})
	return nil
}

// List возвращает товары по возрастанию DisplayOrder. Если порядок нарушен
// (нули, дубликаты, разрывы), он сначала восстанавливается и сохраняется.
// Скрытые товары участвуют в нумерации, но возвращаются только при includeHidden.
func (s *Service) List(ctx context.Context, includeHidden bool) (products []domain.Product, err error) {
	start := time.Now()
	defer func() { s.observe(opList, start, err) }()

	all, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, domain.NewStoreError("load catalog", err)
	}

	if domain.NeedsOrderRepair(all) {
		if all, err = s.repairOrder(ctx, all); err != nil {
			return nil, err
		}
	}
	if s.metrics != nil {
		s.metrics.SetCatalogSize(len(all))
	}

	if includeHidden {
		return all, nil
	}
	visible := make([]domain.Product, 0, len(all))
	for _, p := range all {
		if !p.Hidden {
			visible = append(visible, p)
		}
	}
	return visible, nil
}

// repairOrder присваивает 1..N в порядке чтения и возвращает перечитанный каталог.
// Товары, удалённые после чтения, пропускаются.
func (s *Service) repairOrder(ctx context.Context, products []domain.Product) ([]domain.Product, error) {
	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}

	repaired, err := s.store.Renumber(ctx, ids, 1, domain.RenumberExisting)
	if err != nil {
		return nil, domain.NewStoreError("repair display order", err)
	}
	fresh, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, domain.NewStoreError("load catalog", err)
	}
	if repaired == 0 {
		return fresh, nil
	}

	if s.metrics != nil {
		s.metrics.RecordRepair(repaired)
	}
	s.logger.WithFields(log.Fields{
		"products": len(fresh),
		"repaired": repaired,
	}).Warn("display order repaired")

	ordered := make([]string, 0, len(fresh))
	for _, p := range fresh {
		ordered = append(ordered, p.ID)
	}
	s.emit(domain.AggregateCatalog, catalogAggregateID, domain.EventCatalogOrderRepaired, map[string]any{
		"ids":      ordered,
		"repaired": repaired,
	})
	return fresh, nil
}

// insertAppended вставляет товар в позицию N+1, повторяя попытку при конфликте display_order.
func (s *Service) insertAppended(ctx context.Context, product domain.Product) (domain.Product, error) {
	for attempt := 1; ; attempt++ {
		stats, err := s.store.Stats(ctx)
		if err != nil {
			return domain.Product{}, domain.NewStoreError("read catalog stats", err)
		}
		product.DisplayOrder = stats.NextDisplayOrder()

		created, err := s.store.Insert(ctx, product)
		if err == nil {
			return created, nil
		}
		if !domain.IsDisplayOrderConflict(err) {
			return domain.Product{}, domain.NewStoreError("insert product", err)
		}
		if attempt >= s.maxCreateAttempts {
			return domain.Product{}, &domain.StoreError{
				Op:  "insert product",
				Err: fmt.Errorf("display order still taken after %d attempts: %w", attempt, err),
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Product{}, domain.NewStoreError("insert product", ctxErr)
		}

		if s.metrics != nil {
			s.metrics.RecordCreateRetry()
		}
		s.logger.WithFields(log.Fields{
			"attempt":       attempt,
			"display_order": product.DisplayOrder,
		}).Debug("display order taken by concurrent create, retrying")
	}
}

func (s *Service) productFromInput(in domain.ProductInput) domain.Product {
	return domain.Product{
		Name:        strings.TrimSpace(in.Name),
		Price:       in.Price,
		Description: in.Description,
		ImageURL:    s.imageURL(in.ImageURL),
		Kcal:        in.Kcal,
		Protein:     in.Protein,
		Fats:        in.Fats,
		Carbs:       in.Carbs,
		Hidden:      in.Hidden,
	}
}

func (s *Service) imageURL(url string) string {
	if strings.TrimSpace(url) == "" {
		return s.fallbackImageURL
	}
	return url
}

func (s *Service) emit(aggregateType, aggregateID, eventType string, payload map[string]any) {
	if s.outbox == nil {
		return
	}

	payload["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithField("event", eventType).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := s.outbox.Enqueue(msg); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"aggregate_id": aggregateID,
			"event":        eventType,
		}).Error("enqueue event failed")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}
}

func (s *Service) observe(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordOperation(op, resultLabel(err), time.Since(start))
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case domain.IsNotFound(err):
		return metrics.ResultNotFound
	case domain.IsValidation(err):
		return metrics.ResultInvalid
	default:
		return metrics.ResultError
	}
}

func productEvent(p domain.Product) map[string]any {
	return map[string]any{
		"id":            p.ID,
		"name":          p.Name,
		"price":         p.Price.String(),
		"display_order": p.DisplayOrder,
		"hidden":        p.Hidden,
	}
}
