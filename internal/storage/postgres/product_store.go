package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	uniqueViolationCode         = "23505"
	displayOrderConstraint      = "products_display_order_key"
	productColumns              = "id, name, price, description, image_url, kcal, protein, fats, carbs, display_order, hidden, created_at, updated_at"
	setDisplayOrderDeferredStmt = "SET CONSTRAINTS " + displayOrderConstraint + " DEFERRED"
)

type productStore struct {
	db *sql.DB
}

// NewProductStore создаёт PostgreSQL-реализацию ProductStore.
func NewProductStore(store *Store) domain.ProductStore {
	return &productStore{db: store.DB()}
}

func (s *productStore) Insert(ctx context.Context, product domain.Product) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		product.ID, product.Name, product.Price, product.Description, product.ImageURL,
		product.Kcal, product.Protein, product.Fats, product.Carbs,
		product.DisplayOrder, product.Hidden, product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		if conflict := conflictError(err); conflict != nil {
			return domain.Product{}, conflict
		}
		return domain.Product{}, domain.NewStoreError("insert product", err)
	}

	return product, nil
}

func (s *productStore) GetByID(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, domain.NewStoreError("select product", err)
	}
	return product, nil
}

func (s *productStore) GetAll(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		ORDER BY display_order ASC, created_at ASC, id ASC
	`)
	if err != nil {
		return nil, domain.NewStoreError("list products", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, domain.NewStoreError("scan product row", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStoreError("iterate product rows", err)
	}

	return products, nil
}

func (s *productStore) Update(ctx context.Context, id string, patch domain.ProductPatch) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	sets, args := patchAssignments(patch)
	args = append(args, time.Now().UTC(), id)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)-1))

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE products SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args)),
		args...,
	)
	if err != nil {
		return domain.NewStoreError("update product", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.NewStoreError("update product rows affected", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (s *productStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return domain.NewStoreError("delete product", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.NewStoreError("delete product rows affected", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

// Renumber блокирует строки из ids (SELECT ... FOR UPDATE) и меняет только display_order.
// Проверка уникальности откладывается до COMMIT, поэтому перестановки внутри пачки допустимы.
func (s *productStore) Renumber(ctx context.Context, ids []string, from int, mode domain.RenumberMode) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, domain.NewStoreError("begin renumber tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, setDisplayOrderDeferredStmt); err != nil {
		return 0, domain.NewStoreError("defer display order constraint", err)
	}

	current, err := lockDisplayOrders(ctx, tx, ids)
	if err != nil {
		return 0, err
	}

	var (
		now      = time.Now().UTC()
		position = from
		changed  int
		seen     = make(map[string]struct{}, len(ids))
	)
	for _, id := range ids {
		order, ok := current[id]
		if !ok {
			if mode == domain.RenumberAll {
				return 0, domain.ErrProductNotFound
			}
			continue
		}
		if _, dup := seen[id]; dup {
			return 0, fmt.Errorf("%w: product %q listed more than once", domain.ErrValidation, id)
		}
		seen[id] = struct{}{}

		if order != position {
			if _, err := tx.ExecContext(ctx,
				`UPDATE products SET display_order = $1, updated_at = $2 WHERE id = $3`,
				position, now, id,
			); err != nil {
				if conflict := conflictError(err); conflict != nil {
					return 0, conflict
				}
				return 0, domain.NewStoreError("renumber product", err)
			}
			changed++
		}
		position++
	}

	if err := tx.Commit(); err != nil {
		if conflict := conflictError(err); conflict != nil {
			return 0, conflict
		}
		return 0, domain.NewStoreError("commit renumber", err)
	}
	return changed, nil
}

// lockDisplayOrders читает текущие позиции и держит блокировку строк до конца транзакции.
func lockDisplayOrders(ctx context.Context, tx *sql.Tx, ids []string) (map[string]int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, display_order
		FROM products
		WHERE id = ANY($1)
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, domain.NewStoreError("lock products for renumber", err)
	}
	defer rows.Close()

	current := make(map[string]int, len(ids))
	for rows.Next() {
		var (
			id    string
			order int
		)
		if err := rows.Scan(&id, &order); err != nil {
			return nil, domain.NewStoreError("scan locked product", err)
		}
		current[id] = order
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStoreError("iterate locked products", err)
	}
	return current, nil
}

func (s *productStore) Stats(ctx context.Context) (domain.ProductStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var stats domain.ProductStats
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MAX(display_order), 0)
		FROM products
	`).Scan(&stats.Count, &stats.MaxDisplayOrder); err != nil {
		return domain.ProductStats{}, domain.NewStoreError("product stats", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	if err := row.Scan(
		&p.ID, &p.Name, &p.Price, &p.Description, &p.ImageURL,
		&p.Kcal, &p.Protein, &p.Fats, &p.Carbs,
		&p.DisplayOrder, &p.Hidden, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return domain.Product{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

// patchAssignments собирает SET-выражения только для заданных полей патча.
func patchAssignments(patch domain.ProductPatch) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Price != nil {
		add("price", *patch.Price)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.ImageURL != nil {
		add("image_url", *patch.ImageURL)
	}
	if patch.Kcal != nil {
		add("kcal", *patch.Kcal)
	}
	if patch.Protein != nil {
		add("protein", *patch.Protein)
	}
	if patch.Fats != nil {
		add("fats", *patch.Fats)
	}
	if patch.Carbs != nil {
		add("carbs", *patch.Carbs)
	}
	if patch.Hidden != nil {
		add("hidden", *patch.Hidden)
	}
	return sets, args
}

// conflictError переводит нарушение уникальности в доменную ошибку.
func conflictError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolationCode {
		return nil
	}
	if pgErr.ConstraintName == displayOrderConstraint {
		return domain.ErrDisplayOrderConflict
	}
	return domain.ErrProductIDConflict
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolationCode
	}
	return false
}

var _ domain.ProductStore = (*productStore)(nil)
