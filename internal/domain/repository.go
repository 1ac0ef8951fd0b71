package domain

import (
	"context"
	"time"
)

// ProductStore описывает требования к хранилищу каталога.
type ProductStore interface {
	// Insert сохраняет новый товар и возвращает его с выданным хранилищем ID.
	// Возвращает ErrDisplayOrderConflict, если DisplayOrder уже занят.
	Insert(ctx context.Context, product Product) (Product, error)
	// GetByID возвращает товар или ErrProductNotFound.
	GetByID(ctx context.Context, id string) (Product, error)
	// GetAll возвращает все товары по возрастанию DisplayOrder, затем CreatedAt и ID.
	GetAll(ctx context.Context) ([]Product, error)
	// Update применяет частичное обновление; DisplayOrder не меняется.
	Update(ctx context.Context, id string, patch ProductPatch) error
	// Delete удаляет товар или возвращает ErrProductNotFound.
	Delete(ctx context.Context, id string) error
	// Renumber атомарно присваивает товарам из ids позиции from, from+1, ... в порядке списка.
	// Меняется только DisplayOrder: остальные поля перечитываются внутри транзакции и не переписываются.
	// Возвращает число товаров, у которых DisplayOrder изменился.
	Renumber(ctx context.Context, ids []string, from int, mode RenumberMode) (int, error)
	// Stats возвращает количество товаров и максимальный DisplayOrder.
	Stats(ctx context.Context) (ProductStats, error)
}

// RenumberMode задаёт реакцию Renumber на ID, которых уже нет в хранилище.
type RenumberMode uint8

const (
	// RenumberAll отменяет перенумерацию целиком с ErrProductNotFound.
	RenumberAll RenumberMode = iota
	// RenumberExisting пропускает отсутствующие ID, позиции остальных идут подряд.
	RenumberExisting
)

// CartRepository хранит гостевые корзины.
type CartRepository interface {
	Create(ctx context.Context, cart Cart) (Cart, error)
	Get(ctx context.Context, id string) (Cart, error)
	// Save перезаписывает позиции и UpdatedAt корзины и увеличивает Version.
	// Если сохранённая Version отличается от cart.Version, возвращает ErrCartConflict.
	Save(ctx context.Context, cart Cart) error
	// DeleteIdleGuests удаляет до limit гостевых корзин с UpdatedAt < before.
	DeleteIdleGuests(ctx context.Context, before time.Time, limit int) (int, error)
}
