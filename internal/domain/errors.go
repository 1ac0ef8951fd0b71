package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrProductNotFound возвращается, если товар с указанным ID отсутствует в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrCartNotFound возвращается, если корзина не найдена в репозитории.
	ErrCartNotFound = errors.New("cart not found")
	// ErrValidation означает некорректный или неполный ввод (например, reorder не является перестановкой).
	ErrValidation = errors.New("validation failed")
	// ErrStore означает сбой нижележащего хранилища. Конкретная причина доступна через StoreError.
	ErrStore = errors.New("store failure")
	// ErrDisplayOrderConflict сигнализирует, что display_order уже занят другим товаром.
	ErrDisplayOrderConflict = errors.New("display order conflict")
	// ErrProductIDConflict возвращается при вставке товара с уже существующим ID.
	ErrProductIDConflict = errors.New("product id already exists")
	// ErrCartConflict возвращается, если корзину изменили после её чтения.
	ErrCartConflict = errors.New("cart was modified concurrently")
	// ErrOutboxPublish возвращается при ошибке публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибки валидации полей товара.
	ErrProductNameRequired = fmt.Errorf("%w: product name is required", ErrValidation)
	ErrProductPriceInvalid = fmt.Errorf("%w: product price must be non-negative", ErrValidation)
	ErrNutritionInvalid    = fmt.Errorf("%w: nutrition values must be non-negative", ErrValidation)
	ErrProductIDRequired   = fmt.Errorf("%w: product id is required", ErrValidation)
	ErrCartQtyInvalid      = fmt.Errorf("%w: cart item quantity must be non-negative", ErrValidation)
)

// StoreError оборачивает ошибку хранилища с названием операции.
// errors.Is(err, ErrStore) возвращает true для любой StoreError.
type StoreError struct {
	Op  string
	Err error
}

// NewStoreError создаёт StoreError. Ошибки NotFound/Validation/Conflict не оборачиваются,
// чтобы вызывающая сторона видела их как есть.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsValidation(err) || errors.Is(err, ErrStore) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("store: %v", e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is позволяет сопоставлять любую StoreError с ErrStore.
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// IsNotFound проверяет, ссылается ли ошибка на несуществующую сущность.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) || errors.Is(err, ErrCartNotFound)
}

// IsValidation проверяет, является ли ошибка ошибкой валидации.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsStoreError проверяет, является ли ошибка сбоем хранилища.
func IsStoreError(err error) bool {
	return errors.Is(err, ErrStore)
}

// IsDisplayOrderConflict проверяет конфликт display_order при вставке.
func IsDisplayOrderConflict(err error) bool {
	return errors.Is(err, ErrDisplayOrderConflict)
}
