package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// productStoreInMemory реализует ProductStore в памяти.
// Все операции выполняются под одним мьютексом, поэтому Renumber атомарен.
type productStoreInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
	now   func() time.Time
}

// NewProductStore возвращает in-memory хранилище каталога для локальной разработки и тестов.
func NewProductStore() *productStoreInMemory {
	return &productStoreInMemory{
		items: make(map[string]domain.Product),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Seed загружает записи как есть, без проверки display_order.
// Нужен для импорта унаследованных данных и тестов восстановления порядка.
func (s *productStoreInMemory) Seed(products ...domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range products {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = s.now()
		}
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = p.CreatedAt
		}
		s.items[p.ID] = p
	}
}

// Insert выдаёт ID и сохраняет товар, если его DisplayOrder свободен.
func (s *productStoreInMemory) Insert(ctx context.Context, product domain.Product) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if _, exists := s.items[product.ID]; exists {
		return domain.Product{}, domain.ErrProductIDConflict
	}
	if product.DisplayOrder > 0 {
		for _, existing := range s.items {
			if existing.DisplayOrder == product.DisplayOrder {
				return domain.Product{}, domain.ErrDisplayOrderConflict
			}
		}
	}

	now := s.now()
	product.CreatedAt = now
	product.UpdatedAt = now
	s.items[product.ID] = product
	return product, nil
}

// GetByID возвращает товар или ErrProductNotFound.
func (s *productStoreInMemory) GetByID(ctx context.Context, id string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// GetAll возвращает снимок каталога в порядке display_order, created_at, id.
func (s *productStoreInMemory) GetAll(ctx context.Context) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.items))
	for _, p := range s.items {
		result = append(result, p)
	}
	sortProducts(result)
	return result, nil
}

// Update применяет частичное обновление к существующему товару.
func (s *productStoreInMemory) Update(ctx context.Context, id string, patch domain.ProductPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	updated := patch.Apply(current)
	updated.UpdatedAt = s.now()
	s.items[id] = updated
	return nil
}

// Delete удаляет товар.
func (s *productStoreInMemory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return domain.ErrProductNotFound
	}
	delete(s.items, id)
	return nil
}

// Renumber проверяет итоговый порядок целиком до записи:
// если display_order пересекаются или ID отсутствует в режиме RenumberAll, ничего не меняется.
func (s *productStoreInMemory) Renumber(ctx context.Context, ids []string, from int, mode domain.RenumberMode) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	assigned := make(map[string]int, len(ids))
	position := from
	for _, id := range ids {
		if _, ok := s.items[id]; !ok {
			if mode == domain.RenumberAll {
				return 0, domain.ErrProductNotFound
			}
			continue
		}
		if _, dup := assigned[id]; dup {
			return 0, fmt.Errorf("%w: product %q listed more than once", domain.ErrValidation, id)
		}
		assigned[id] = position
		position++
	}

	seen := make(map[int]struct{}, len(s.items))
	for id, p := range s.items {
		order := p.DisplayOrder
		if next, ok := assigned[id]; ok {
			order = next
		}
		if order <= 0 {
			continue
		}
		if _, dup := seen[order]; dup {
			return 0, domain.ErrDisplayOrderConflict
		}
		seen[order] = struct{}{}
	}

	now := s.now()
	changed := 0
	for id, order := range assigned {
		p := s.items[id]
		if p.DisplayOrder == order {
			continue
		}
		p.DisplayOrder = order
		p.UpdatedAt = now
		s.items[id] = p
		changed++
	}
	return changed, nil
}

// Stats возвращает количество товаров и максимальный display_order.
func (s *productStoreInMemory) Stats(ctx context.Context) (domain.ProductStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.ProductStats{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.ProductStats{Count: len(s.items)}
	for _, p := range s.items {
		if p.DisplayOrder > stats.MaxDisplayOrder {
			stats.MaxDisplayOrder = p.DisplayOrder
		}
	}
	return stats, nil
}

func sortProducts(products []domain.Product) {
	sort.SliceStable(products, func(i, j int) bool {
		a, b := products[i], products[j]
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

var _ domain.ProductStore = (*productStoreInMemory)(nil)
