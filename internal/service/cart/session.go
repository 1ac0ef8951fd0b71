// Package cart управляет гостевыми корзинами: сессией покупателя,
// позициями корзины и очисткой заброшенных корзин.
package cart

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Session хранит идентификатор корзины одного покупателя.
// Создаётся явно и передаётся вызывающей стороне; глобального экземпляра нет.
type Session struct {
	repo domain.CartRepository
	now  func() time.Time

	mu     sync.Mutex
	cartID string
}

// NewSession создаёт сессию. cartID может быть пустым, если корзины ещё нет.
func NewSession(repo domain.CartRepository, cartID string) *Session {
	return &Session{
		repo:   repo,
		now:    func() time.Time { return time.Now().UTC() },
		cartID: cartID,
	}
}

// Initialize возвращает ID корзины сессии, создавая гостевую корзину при необходимости.
// Если сохранённая корзина уже удалена очисткой, создаётся новая.
func (s *Session) Initialize(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cartID != "" {
		_, err := s.repo.Get(ctx, s.cartID)
		if err == nil {
			return s.cartID, nil
		}
		if !domain.IsNotFound(err) {
			return "", domain.NewStoreError("load cart", err)
		}
	}

	cart, err := s.repo.Create(ctx, domain.Cart{IsGuest: true})
	if err != nil {
		return "", domain.NewStoreError("create cart", err)
	}
	s.cartID = cart.ID
	return s.cartID, nil
}

// GetOrCreate возвращает корзину сессии, создавая её при необходимости.
func (s *Session) GetOrCreate(ctx context.Context) (domain.Cart, error) {
	id, err := s.Initialize(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	cart, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Cart{}, domain.NewStoreError("load cart", err)
	}
	return cart, nil
}

// Touch обновляет время активности корзины, откладывая её очистку.
// Без корзины ничего не делает.
func (s *Session) Touch(ctx context.Context) error {
	id := s.CartID()
	if id == "" {
		return nil
	}

	cart, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.NewStoreError("load cart", err)
	}
	cart.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, cart); err != nil {
		// Параллельная запись уже обновила UpdatedAt.
		if errors.Is(err, domain.ErrCartConflict) {
			return nil
		}
		return domain.NewStoreError("touch cart", err)
	}
	return nil
}

// CartID возвращает текущий ID корзины или пустую строку.
func (s *Session) CartID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartID
}

// Clear забывает ID корзины; сама корзина остаётся в хранилище до очистки.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cartID = ""
}
