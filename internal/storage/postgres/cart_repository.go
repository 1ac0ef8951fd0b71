package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type cartRepository struct {
	db *sql.DB
}

// NewCartRepository создаёт PostgreSQL-реализацию CartRepository.
// Позиции корзины хранятся одним JSONB-документом.
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepository{db: store.DB()}
}

func (r *cartRepository) Create(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

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

	items, err := encodeCartItems(cart.Items)
	if err != nil {
		return domain.Cart{}, domain.NewStoreError("insert cart", err)
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO carts (id, is_guest, items, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, cart.ID, cart.IsGuest, items, cart.Version, cart.CreatedAt, cart.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.Cart{}, fmt.Errorf("%w: cart %s already exists", domain.ErrValidation, cart.ID)
		}
		return domain.Cart{}, domain.NewStoreError("insert cart", err)
	}

	return cart, nil
}

func (r *cartRepository) Get(ctx context.Context, id string) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		cart  domain.Cart
		items []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, is_guest, items, version, created_at, updated_at
		FROM carts
		WHERE id = $1
	`, id).Scan(&cart.ID, &cart.IsGuest, &items, &cart.Version, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Cart{}, domain.ErrCartNotFound
		}
		return domain.Cart{}, domain.NewStoreError("select cart", err)
	}

	if err := json.Unmarshal(items, &cart.Items); err != nil {
		return domain.Cart{}, domain.NewStoreError("decode cart items", err)
	}
	cart.CreatedAt = cart.CreatedAt.UTC()
	cart.UpdatedAt = cart.UpdatedAt.UTC()
	return cart, nil
}

func (r *cartRepository) Save(ctx context.Context, cart domain.Cart) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	items, err := encodeCartItems(cart.Items)
	if err != nil {
		return domain.NewStoreError("update cart", err)
	}
	updatedAt := cart.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE carts
		SET items = $1,
		    updated_at = $2,
		    version = version + 1
		WHERE id = $3 AND version = $4
	`, items, updatedAt, cart.ID, cart.Version)
	if err != nil {
		return domain.NewStoreError("update cart", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.NewStoreError("cart rows affected", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM carts WHERE id = $1)`, cart.ID).Scan(&exists); err != nil {
		return domain.NewStoreError("check cart", err)
	}
	if !exists {
		return domain.ErrCartNotFound
	}
	return domain.ErrCartConflict
}

func (r *cartRepository) DeleteIdleGuests(ctx context.Context, before time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		res sql.Result
		err error
	)

	if limit > 0 {
		res, err = r.db.ExecContext(ctx, `
			DELETE FROM carts
			WHERE id IN (
				SELECT id
				FROM carts
				WHERE is_guest AND updated_at < $1
				ORDER BY updated_at ASC
				LIMIT $2
			)
		`, before, limit)
	} else {
		res, err = r.db.ExecContext(ctx, `
			DELETE FROM carts
			WHERE is_guest AND updated_at < $1
		`, before)
	}
	if err != nil {
		return 0, domain.NewStoreError("delete idle guest carts", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, domain.NewStoreError("cart rows affected", err)
	}
	return int(affected), nil
}

func encodeCartItems(items []domain.CartItem) (string, error) {
	if items == nil {
		items = []domain.CartItem{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode cart items: %w", err)
	}
	return string(raw), nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
