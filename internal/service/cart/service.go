package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const maxSaveAttempts = 5

// ProductLookup находит товар каталога по ID.
type ProductLookup interface {
	Get(ctx context.Context, id string) (domain.Product, error)
}

// Service выполняет операции над позициями корзины.
type Service struct {
	carts    domain.CartRepository
	products ProductLookup
	logger   *log.Entry
	now      func() time.Time
}

// NewService создаёт сервис корзин.
func NewService(carts domain.CartRepository, products ProductLookup, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "cart")
	}
	return &Service{
		carts:    carts,
		products: products,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Open возвращает корзину по ID или создаёт новую гостевую корзину, если ID пуст
// или корзина уже удалена.
func (s *Service) Open(ctx context.Context, cartID string) (domain.Cart, error) {
	return NewSession(s.carts, cartID).GetOrCreate(ctx)
}

// Get возвращает корзину и отмечает её активность, откладывая очистку.
func (s *Service) Get(ctx context.Context, cartID string) (domain.Cart, error) {
	session := NewSession(s.carts, cartID)
	session.now = s.now
	if err := session.Touch(ctx); err != nil {
		return domain.Cart{}, err
	}

	cart, err := s.carts.Get(ctx, cartID)
	if err != nil {
		return domain.Cart{}, domain.NewStoreError("load cart", err)
	}
	return cart, nil
}

// AddItem добавляет одну единицу товара. Скрытые товары добавить нельзя.
func (s *Service) AddItem(ctx context.Context, cartID, productID string) (domain.Cart, error) {
	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return domain.Cart{}, err
	}
	if product.Hidden {
		return domain.Cart{}, fmt.Errorf("%w: product %q is not available", domain.ErrValidation, productID)
	}

	cart, err := s.mutate(ctx, cartID, func(c *domain.Cart) error {
		c.Add(product)
		return nil
	})
	if err != nil {
		return domain.Cart{}, err
	}

	s.logger.WithFields(log.Fields{
		"cart_id":    cartID,
		"product_id": productID,
		"donation":   domain.ItemDonation(product).StringFixed(2),
	}).Info("product added to cart")
	return cart, nil
}

// SetQuantity задаёт количество позиции; ноль удаляет её.
func (s *Service) SetQuantity(ctx context.Context, cartID, productID string, qty int) (domain.Cart, error) {
	return s.mutate(ctx, cartID, func(c *domain.Cart) error {
		return c.SetQuantity(productID, qty)
	})
}

// RemoveItem удаляет позицию целиком. Отсутствующая позиция не считается ошибкой.
func (s *Service) RemoveItem(ctx context.Context, cartID, productID string) (domain.Cart, error) {
	var removed domain.CartItem
	var found bool
	cart, err := s.mutate(ctx, cartID, func(c *domain.Cart) error {
		removed, found = c.Remove(productID)
		return nil
	})
	if err != nil {
		return domain.Cart{}, err
	}

	if found {
		s.logger.WithFields(log.Fields{
			"cart_id":       cartID,
			"product_id":    productID,
			"lost_donation": removed.Donation().StringFixed(2),
		}).Info("product removed from cart")
	}
	return cart, nil
}

// Clear удаляет все позиции корзины.
func (s *Service) Clear(ctx context.Context, cartID string) (domain.Cart, error) {
	return s.mutate(ctx, cartID, func(c *domain.Cart) error {
		c.Clear()
		return nil
	})
}

// mutate перечитывает корзину и повторяет apply, если Save вернул ErrCartConflict.
func (s *Service) mutate(ctx context.Context, cartID string, apply func(*domain.Cart) error) (domain.Cart, error) {
	for attempt := 1; ; attempt++ {
		cart, err := s.carts.Get(ctx, cartID)
		if err != nil {
			return domain.Cart{}, domain.NewStoreError("load cart", err)
		}
		if err := apply(&cart); err != nil {
			return domain.Cart{}, err
		}

		cart.UpdatedAt = s.now()
		err = s.carts.Save(ctx, cart)
		if err == nil {
			cart.Version++
			return cart, nil
		}
		if !errors.Is(err, domain.ErrCartConflict) || attempt >= maxSaveAttempts {
			return domain.Cart{}, domain.NewStoreError("save cart", err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Cart{}, domain.NewStoreError("save cart", ctxErr)
		}

		s.logger.WithFields(log.Fields{
			"cart_id": cartID,
			"attempt": attempt,
		}).Debug("cart changed concurrently, retrying")
	}
}
