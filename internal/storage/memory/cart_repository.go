package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// cartRepositoryInMemory реализует CartRepository в памяти.
type cartRepositoryInMemory struct {
	mu    sync.RWMutex
	carts map[string]domain.Cart
}

// NewCartRepository создаёт in-memory репозиторий корзин.
func NewCartRepository() *cartRepositoryInMemory {
	return &cartRepositoryInMemory{carts: make(map[string]domain.Cart)}
}

// Create сохраняет новую корзину, генерируя ID при необходимости.
func (r *cartRepositoryInMemory) Create(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return domain.Cart{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cart.ID == "" {
		cart.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = cart.CreatedAt
	}
	r.carts[cart.ID] = copyCart(cart)
	return cart, nil
}

// Get возвращает копию корзины или ErrCartNotFound.
func (r *cartRepositoryInMemory) Get(ctx context.Context, id string) (domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return domain.Cart{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	cart, ok := r.carts[id]
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return copyCart(cart), nil
}

// Save перезаписывает позиции и время обновления корзины, если версия не устарела.
func (r *cartRepositoryInMemory) Save(ctx context.Context, cart domain.Cart) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.carts[cart.ID]
	if !ok {
		return domain.ErrCartNotFound
	}
	if current.Version != cart.Version {
		return domain.ErrCartConflict
	}
	current.Version++
	current.Items = cart.Items
	current.UpdatedAt = cart.UpdatedAt
	if current.UpdatedAt.IsZero() {
		current.UpdatedAt = time.Now().UTC()
	}
	r.carts[cart.ID] = copyCart(current)
	return nil
}

// DeleteIdleGuests удаляет самые старые гостевые корзины, не обновлявшиеся с before.
func (r *cartRepositoryInMemory) DeleteIdleGuests(ctx context.Context, before time.Time, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idle := make([]domain.Cart, 0)
	for _, cart := range r.carts {
		if cart.IsGuest && cart.UpdatedAt.Before(before) {
			idle = append(idle, cart)
		}
	}
	sort.Slice(idle, func(i, j int) bool {
		return idle[i].UpdatedAt.Before(idle[j].UpdatedAt)
	})
	if limit > 0 && len(idle) > limit {
		idle = idle[:limit]
	}

	for _, cart := range idle {
		delete(r.carts, cart.ID)
	}
	return len(idle), nil
}

func copyCart(cart domain.Cart) domain.Cart {
	if cart.Items != nil {
		items := make([]domain.CartItem, len(cart.Items))
		copy(items, cart.Items)
		cart.Items = items
	}
	return cart
}

var _ domain.CartRepository = (*cartRepositoryInMemory)(nil)
