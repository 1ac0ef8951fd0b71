package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

const testFallbackImage = "https://example.com/placeholder.png"

func newTestService(t *testing.T, store domain.ProductStore, options ...Option) *Service {
	t.Helper()

	logger := log.New()
	logger.SetLevel(log.PanicLevel)

	opts := []Option{
		WithLogger(logger.WithField("test", t.Name())),
		WithFallbackImageURL(testFallbackImage),
		WithMetrics(metrics.NewCatalogMetricsWithRegisterer(prometheus.NewRegistry())),
	}
	return NewService(store, append(opts, options...)...)
}

func input(name string) domain.ProductInput {
	return domain.ProductInput{
		Name:        name,
		Price:       decimal.RequireFromString("1.99"),
		Description: name + " description",
		ImageURL:    "https://example.com/" + name + ".png",
		Kcal:        120,
		Protein:     2,
		Fats:        5,
		Carbs:       18,
	}
}

func orders(products []domain.Product) []int {
	result := make([]int, 0, len(products))
	for _, p := range products {
		result = append(result, p.DisplayOrder)
	}
	return result
}

func ids(products []domain.Product) []string {
	result := make([]string, 0, len(products))
	for _, p := range products {
		result = append(result, p.ID)
	}
	return result
}

func seq(n int) []int {
	result := make([]int, n)
	for i := range result {
		result[i] = i + 1
	}
	return result
}

func createN(t *testing.T, svc *Service, n int) []domain.Product {
	t.Helper()
	created := make([]domain.Product, 0, n)
	for i := 0; i < n; i++ {
		p, err := svc.Create(context.Background(), input(fmt.Sprintf("p%d", i)))
		require.NoError(t, err)
		created = append(created, p)
	}
	return created
}

func TestCreate_AppendsContiguousOrders(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memory.NewProductStore())

	created := createN(t, svc, 5)
	for i, p := range created {
		require.NotEmpty(t, p.ID)
		require.Equal(t, i+1, p.DisplayOrder)
		require.False(t, p.Hidden)
	}

	listed, err := svc.List(ctx, true)
	require.NoError(t, err)
	require.Equal(t, seq(5), orders(listed))
}

func TestCreate_ConcurrentCreatesNeverCollide(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memory.NewProductStore(), WithMaxCreateAttempts(50))

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.Create(ctx, input(fmt.Sprintf("c%d", i))); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	listed, err := svc.List(ctx, true)
	require.NoError(t, err)
	require.Equal(t, seq(workers), orders(listed))

	unique := make(map[string]struct{}, workers)
	for _, p := range listed {
		unique[p.ID] = struct{}{}
	}
	require.Len(t, unique, workers)
}

func TestCreate_ValidationAndFallbackImage(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memory.NewProductStore())

	_, err := svc.Create(ctx, domain.ProductInput{Name: "  ", Price: decimal.NewFromInt(-1)})
	require.True(t, domain.IsValidation(err))
	require.ErrorIs(t, err, domain.ErrProductNameRequired)
	require.ErrorIs(t, err, domain.ErrProductPriceInvalid)

	in := input("plain")
	in.ImageURL = ""
	created, err := svc.Create(ctx, in)
	require.NoError(t, err)
	require.Equal(t, testFallbackImage, created.ImageURL)
}

func TestUpdate_IgnoresDisplayOrder(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memory.NewProductStore())
	created := createN(t, svc, 3)

	edited := created[0]
	edited.Name = "renamed"
	edited.Price = decimal.RequireFromString("9.99")
	edited.DisplayOrder = 3
	require.NoError(t, svc.Update(ctx, edited))

	stored, err := svc.Get(ctx, edited.ID)
	require.NoError(t, err)
	require.Equal(t, "renamed", stored.Name)
	require.True(t, stored.Price.Equal(decimal.RequireFromString("9.99")))
	require.Equal(t, 1, stored.DisplayOrder)

	missing := created[1]
	missing.ID = "missing"
	err = svc.Update(ctx, missing)
	require.True(t, domain.IsNotFound(err))
}

func TestUpdate_EventCarriesStoredRecord(t *testing.T) {
	ctx := context.Background()
	outbox := memory.NewOutboxRepository()
	svc := newTestService(t, memory.NewProductStore(), WithOutbox(outbox))
	created := createN(t, svc, 2)

	edited := created[0]
	edited.DisplayOrder = 2
	require.NoError(t, svc.Update(ctx, edited))

	pending := outbox.AllPending()
	last := pending[len(pending)-1]
	require.Equal(t, domain.EventProductUpdated, last.EventType)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(last.Payload, &payload))
	require.EqualValues(t, 1, payload["display_order"])
}

func TestPatch_RejectsEmptyAndInvalidMerge(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memory.NewProductStore())
	created := createN(t, svc, 1)

	_, err := svc.Patch(ctx, created[0].ID, domain.ProductPatch{})
	require.ErrorIs(t, err, domain.ErrValidation)

	blank := " "
	_, err = svc.Patch(ctx, created[0].ID, domain.ProductPatch{Name: &blank})
	require.ErrorIs(t, err, domain.ErrProductNameRequired)

	empty := ""
	updated, err := svc.Patch(ctx, created[0].ID, domain.ProductPatch{ImageURL: &empty})
	require.NoError(t, err)
	require.Equal(t, testFallbackImage, updated.ImageURL)
	require.Equal(t, created[0].Name, updated.Name)

	_, err = svc.Patch(ctx, "", domain.ProductPatch{Name: &blank})
	require.ErrorIs(t, err, domain.ErrProductIDRequired)
}

func TestDelete_ClosesGapAtAnyPosition(t *testing.T) {
	for _, position := range []int{0, 2, 4} {
		t.Run(fmt.Sprintf("position_%d", position), func(t *testing.T) {
			ctx := context.Background()
			svc := newTestService(t, memory.NewProductStore())
			created := createN(t, svc, 5)

			require.NoError(t, svc.Delete(ctx, created[position].ID))

			listed, err := svc.List(ctx, true)
			require.NoError(t, err)
			require.Equal(t, seq(4), orders(listed))
			require.NotContains(t, ids(listed), created[position].ID)
		})
	}
}

func TestDelete_NotFound(t *testing.T) {
	svc := newTestService(t, memory.NewProductStore())
	err := svc.Delete(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestReorder_RoundTripPreservesFields(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memory.NewProductStore())
	created := createN(t, svc, 4)

	before := make(map[string]domain.Product, len(created))
	for _, p := range created {
		before[p.ID] = p
	}

	perm := []string{created[2].ID, created[0].ID, created[3].ID, created[1].ID}
	require.NoError(t, svc.Reorder(ctx, perm))

	listed, err := svc.List(ctx, true)
	require.NoError(t, err)
	require.Equal(t, perm, ids(listed))
	require.Equal(t, seq(4), orders(listed))

	for _, p := range listed {
		prev := before[p.ID]
		require.Equal(t, prev.Name, p.Name)
		require.True(t, prev.Price.Equal(p.Price))
		require.Equal(t, prev.Description, p.Description)
		require.Equal(t, prev.ImageURL, p.ImageURL)
		require.Equal(t, prev.Kcal, p.Kcal)
		require.Equal(t, prev.Protein, p.Protein)
		require.Equal(t, prev.Fats, p.Fats)
		require.Equal(t, prev.Carbs, p.Carbs)
		require.Equal(t, prev.Hidden, p.Hidden)
	}
}

func TestReorder_RejectsNonPermutation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memory.NewProductStore())
	created := createN(t, svc, 3)

	cases := map[string][]string{
		"missing one": {created[2].ID, created[1].ID},
		"unknown id":  {created[2].ID, created[1].ID, "unknown"},
		"duplicate":   {created[2].ID, created[2].ID, created[0].ID},
		"extra id":    {created[2].ID, created[1].ID, created[0].ID, "unknown"},
	}
	for name, perm := range cases {
		t.Run(name, func(t *testing.T) {
			err := svc.Reorder(ctx, perm)
			require.ErrorIs(t, err, domain.ErrValidation)

			listed, err := svc.List(ctx, true)
			require.NoError(t, err)
			require.Equal(t, ids(created), ids(listed))
			require.Equal(t, seq(3), orders(listed))
		})
	}
}

func TestList_IdempotentAndFiltersHidden(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memory.NewProductStore())
	created := createN(t, svc, 3)

	toggled, err := svc.ToggleVisibility(ctx, created[1])
	require.NoError(t, err)
	require.True(t, toggled.Hidden)
	require.Equal(t, 2, toggled.DisplayOrder)

	first, err := svc.List(ctx, true)
	require.NoError(t, err)
	second, err := svc.List(ctx, true)
	require.NoError(t, err)
	require.Equal(t, first, second)

	visible, err := svc.List(ctx, false)
	require.NoError(t, err)
	require.Equal(t, []string{created[0].ID, created[2].ID}, ids(visible))
	require.Equal(t, []int{1, 3}, orders(visible))
}

func TestToggleVisibility_FlipsStoredValue(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memory.NewProductStore())
	created := createN(t, svc, 1)

	stale := created[0]
	stale.Hidden = true // устаревшая копия у вызывающей стороны

	updated, err := svc.ToggleVisibility(ctx, stale)
	require.NoError(t, err)
	require.True(t, updated.Hidden)

	updated, err = svc.ToggleVisibility(ctx, updated)
	require.NoError(t, err)
	require.False(t, updated.Hidden)

	_, err = svc.ToggleVisibility(ctx, domain.Product{ID: "missing"})
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestDuplicate_AppendsCopy(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memory.NewProductStore())
	created := createN(t, svc, 3)

	source, err := svc.ToggleVisibility(ctx, created[0])
	require.NoError(t, err)

	copyProduct, err := svc.Duplicate(ctx, source)
	require.NoError(t, err)
	require.NotEqual(t, source.ID, copyProduct.ID)
	require.Equal(t, source.Name+" (Copy)", copyProduct.Name)
	require.Equal(t, 4, copyProduct.DisplayOrder)
	require.True(t, copyProduct.Hidden)
	require.True(t, source.Price.Equal(copyProduct.Price))
	require.Equal(t, source.Carbs, copyProduct.Carbs)
}

func TestScenario_DeleteCreateReorder(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memory.NewProductStore())

	a, err := svc.Create(ctx, input("A"))
	require.NoError(t, err)
	b, err := svc.Create(ctx, input("B"))
	require.NoError(t, err)
	c, err := svc.Create(ctx, input("C"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, b.ID))
	listed, err := svc.List(ctx, true)
	require.NoError(t, err)
	require.Equal(t, []string{a.ID, c.ID}, ids(listed))
	require.Equal(t, []int{1, 2}, orders(listed))

	d, err := svc.Create(ctx, input("D"))
	require.NoError(t, err)
	require.Equal(t, 3, d.DisplayOrder)

	require.NoError(t, svc.Reorder(ctx, []string{c.ID, d.ID, a.ID}))
	listed, err = svc.List(ctx, true)
	require.NoError(t, err)
	require.Equal(t, []string{c.ID, d.ID, a.ID}, ids(listed))
	require.Equal(t, []int{1, 2, 3}, orders(listed))
	require.Equal(t, "C", listed[0].Name)
	require.Equal(t, "D", listed[1].Name)
	require.Equal(t, "A", listed[2].Name)
}

func TestScenario_LegacyZeroOrdersRepaired(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProductStore()
	outbox := memory.NewOutboxRepository()
	svc := newTestService(t, store, WithOutbox(outbox))

	base := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	legacy := func(id string, order int, created time.Time) domain.Product {
		return domain.Product{ID: id, Name: id, Price: decimal.NewFromInt(1), DisplayOrder: order, CreatedAt: created}
	}
	store.Seed(
		legacy("ordered", 1, base),
		legacy("zero-late", 0, base.Add(2*time.Minute)),
		legacy("zero-early", 0, base.Add(time.Minute)),
	)

	first, err := svc.List(ctx, true)
	require.NoError(t, err)
	require.Equal(t, []string{"zero-early", "zero-late", "ordered"}, ids(first))
	require.Equal(t, seq(3), orders(first))

	persisted, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Equal(t, seq(3), orders(persisted))

	second, err := svc.List(ctx, true)
	require.NoError(t, err)
	require.Equal(t, ids(first), ids(second))
	require.Equal(t, orders(first), orders(second))

	pending := outbox.AllPending()
	require.Len(t, pending, 1)
	require.Equal(t, domain.EventCatalogOrderRepaired, pending[0].EventType)
}

func TestList_RepairsDuplicatesAndGaps(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProductStore()
	svc := newTestService(t, store)

	base := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	store.Seed(
		domain.Product{ID: "a", Name: "a", DisplayOrder: 2, CreatedAt: base},
		domain.Product{ID: "b", Name: "b", DisplayOrder: 2, CreatedAt: base.Add(time.Second)},
		domain.Product{ID: "c", Name: "c", DisplayOrder: 7, CreatedAt: base},
	)

	listed, err := svc.List(ctx, false)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, ids(listed))
	require.Equal(t, seq(3), orders(listed))

	created, err := svc.Create(ctx, input("d"))
	require.NoError(t, err)
	require.Equal(t, 4, created.DisplayOrder)
}

func TestCreate_NextOrderSkipsLegacyGap(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProductStore()
	store.Seed(domain.Product{ID: "legacy", Name: "legacy", DisplayOrder: 5})
	svc := newTestService(t, store)

	created, err := svc.Create(ctx, input("fresh"))
	require.NoError(t, err)
	require.Equal(t, 6, created.DisplayOrder)
}

func TestEvents_EnqueuedForMutations(t *testing.T) {
	ctx := context.Background()
	outbox := memory.NewOutboxRepository()
	svc := newTestService(t, memory.NewProductStore(), WithOutbox(outbox))

	created := createN(t, svc, 2)
	_, err := svc.Duplicate(ctx, created[0])
	require.NoError(t, err)
	_, err = svc.ToggleVisibility(ctx, created[0])
	require.NoError(t, err)
	require.NoError(t, svc.Update(ctx, created[1]))
	require.NoError(t, svc.Delete(ctx, created[1].ID))

	listed, err := svc.List(ctx, true)
	require.NoError(t, err)
	require.NoError(t, svc.Reorder(ctx, []string{listed[1].ID, listed[0].ID}))

	var events []string
	for _, msg := range outbox.AllPending() {
		events = append(events, msg.EventType)
	}
	require.Equal(t, []string{
		domain.EventProductCreated,
		domain.EventProductCreated,
		domain.EventProductDuplicated,
		domain.EventProductVisibilityChanged,
		domain.EventProductUpdated,
		domain.EventProductDeleted,
		domain.EventCatalogReordered,
	}, events)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(outbox.AllPending()[0].Payload, &payload))
	require.Equal(t, created[0].ID, payload["id"])
	require.EqualValues(t, 1, payload["display_order"])
}

// failingStore подменяет отдельные методы хранилища для проверки путей ошибок.
type failingStore struct {
	domain.ProductStore
	insertErrs  []error
	renumberErr error
	getAllErr   error
	statsErr    error
}

func newFailingStore() *failingStore {
	return &failingStore{ProductStore: memory.NewProductStore()}
}

func (f *failingStore) Insert(ctx context.Context, p domain.Product) (domain.Product, error) {
	if len(f.insertErrs) > 0 {
		err := f.insertErrs[0]
		f.insertErrs = f.insertErrs[1:]
		if err != nil {
			return domain.Product{}, err
		}
	}
	return f.ProductStore.Insert(ctx, p)
}

func (f *failingStore) Renumber(ctx context.Context, ids []string, from int, mode domain.RenumberMode) (int, error) {
	if f.renumberErr != nil {
		return 0, f.renumberErr
	}
	return f.ProductStore.Renumber(ctx, ids, from, mode)
}

func (f *failingStore) GetAll(ctx context.Context) ([]domain.Product, error) {
	if f.getAllErr != nil {
		return nil, f.getAllErr
	}
	return f.ProductStore.GetAll(ctx)
}

func (f *failingStore) Stats(ctx context.Context) (domain.ProductStats, error) {
	if f.statsErr != nil {
		return domain.ProductStats{}, f.statsErr
	}
	return f.ProductStore.Stats(ctx)
}

var errConnectionLost = errors.New("connection lost")

func TestCreate_RetriesDisplayOrderConflict(t *testing.T) {
	store := newFailingStore()
	store.insertErrs = []error{domain.ErrDisplayOrderConflict, domain.ErrDisplayOrderConflict}
	svc := newTestService(t, store)

	created, err := svc.Create(context.Background(), input("retry"))
	require.NoError(t, err)
	require.Equal(t, 1, created.DisplayOrder)
}

func TestCreate_RetriesExhaustedIsStoreError(t *testing.T) {
	store := newFailingStore()
	store.insertErrs = []error{
		domain.ErrDisplayOrderConflict,
		domain.ErrDisplayOrderConflict,
		domain.ErrDisplayOrderConflict,
	}
	svc := newTestService(t, store, WithMaxCreateAttempts(3))

	_, err := svc.Create(context.Background(), input("retry"))
	require.ErrorIs(t, err, domain.ErrStore)
	require.ErrorIs(t, err, domain.ErrDisplayOrderConflict)

	listed, err := svc.List(context.Background(), true)
	require.NoError(t, err)
	require.Empty(t, listed)
}

func TestCreate_StoreFailure(t *testing.T) {
	store := newFailingStore()
	store.insertErrs = []error{errConnectionLost}
	svc := newTestService(t, store)

	_, err := svc.Create(context.Background(), input("broken"))
	require.True(t, domain.IsStoreError(err))
	require.ErrorIs(t, err, errConnectionLost)

	var storeErr *domain.StoreError
	require.ErrorAs(t, err, &storeErr)
	require.Equal(t, "insert product", storeErr.Op)

	store.statsErr = errConnectionLost
	_, err = svc.Create(context.Background(), input("broken"))
	require.True(t, domain.IsStoreError(err))
}

func TestDelete_GapLeftOnRenumberFailureIsHealedByList(t *testing.T) {
	ctx := context.Background()
	store := newFailingStore()
	svc := newTestService(t, store)
	created := createN(t, svc, 3)

	store.renumberErr = errConnectionLost
	err := svc.Delete(ctx, created[0].ID)
	require.True(t, domain.IsStoreError(err))

	raw, err := store.ProductStore.GetAll(ctx)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, orders(raw))

	store.renumberErr = nil
	listed, err := svc.List(ctx, true)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, orders(listed))
	require.Equal(t, []string{created[1].ID, created[2].ID}, ids(listed))
}

func TestList_RepairFailurePropagates(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewProductStore()
	inner.Seed(domain.Product{ID: "zero", Name: "zero"})
	store := &failingStore{ProductStore: inner, renumberErr: errConnectionLost}
	svc := newTestService(t, store)

	_, err := svc.List(ctx, true)
	require.True(t, domain.IsStoreError(err))
	require.ErrorIs(t, err, errConnectionLost)

	store.getAllErr = errConnectionLost
	_, err = svc.List(ctx, true)
	require.True(t, domain.IsStoreError(err))
}

func TestReorder_StoreFailureLeavesOrder(t *testing.T) {
	ctx := context.Background()
	store := newFailingStore()
	svc := newTestService(t, store)
	created := createN(t, svc, 2)

	store.renumberErr = errConnectionLost
	err := svc.Reorder(ctx, []string{created[1].ID, created[0].ID})
	require.True(t, domain.IsStoreError(err))

	store.renumberErr = nil
	listed, err := svc.List(ctx, true)
	require.NoError(t, err)
	require.Equal(t, ids(created), ids(listed))
}

type failingOutbox struct {
	domain.OutboxRepository
}

func (failingOutbox) Enqueue(domain.OutboxMessage) (domain.OutboxMessage, error) {
	return domain.OutboxMessage{}, errConnectionLost
}

func TestEvents_EnqueueFailureDoesNotFailOperation(t *testing.T) {
	svc := newTestService(t, memory.NewProductStore(), WithOutbox(failingOutbox{}))

	created, err := svc.Create(context.Background(), input("quiet"))
	require.NoError(t, err)
	require.Equal(t, 1, created.DisplayOrder)
}

// racingStore выполняет конкурирующую запись непосредственно перед первым
// Renumber или Update, между чтением сервиса и его записью.
type racingStore struct {
	domain.ProductStore
	beforeRenumber func()
	beforeUpdate   func()
}

func (r *racingStore) Renumber(ctx context.Context, ids []string, from int, mode domain.RenumberMode) (int, error) {
	if hook := r.beforeRenumber; hook != nil {
		r.beforeRenumber = nil
		hook()
	}
	return r.ProductStore.Renumber(ctx, ids, from, mode)
}

func (r *racingStore) Update(ctx context.Context, id string, patch domain.ProductPatch) error {
	if hook := r.beforeUpdate; hook != nil {
		r.beforeUpdate = nil
		hook()
	}
	return r.ProductStore.Update(ctx, id, patch)
}

func newRacingFixture(t *testing.T, n int) (*racingStore, *Service, []domain.Product) {
	t.Helper()
	store := &racingStore{ProductStore: memory.NewProductStore()}
	svc := newTestService(t, store)
	return store, svc, createN(t, svc, n)
}

func TestReorder_ConcurrentDeleteIsNotUndone(t *testing.T) {
	ctx := context.Background()
	store, svc, created := newRacingFixture(t, 3)

	store.beforeRenumber = func() {
		require.NoError(t, store.ProductStore.Delete(ctx, created[1].ID))
	}
	err := svc.Reorder(ctx, []string{created[2].ID, created[1].ID, created[0].ID})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Get(ctx, created[1].ID)
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	listed, err := svc.List(ctx, true)
	require.NoError(t, err)
	require.Equal(t, []string{created[0].ID, created[2].ID}, ids(listed))
	require.Equal(t, seq(2), orders(listed))
}

func TestReorder_ConcurrentEditSurvives(t *testing.T) {
	ctx := context.Background()
	store, svc, created := newRacingFixture(t, 3)

	price := decimal.RequireFromString("9.99")
	store.beforeRenumber = func() {
		require.NoError(t, store.ProductStore.Update(ctx, created[0].ID, domain.ProductPatch{Price: &price}))
	}
	require.NoError(t, svc.Reorder(ctx, []string{created[2].ID, created[1].ID, created[0].ID}))

	stored, err := svc.Get(ctx, created[0].ID)
	require.NoError(t, err)
	require.True(t, price.Equal(stored.Price), "price was %s", stored.Price)
	require.Equal(t, 3, stored.DisplayOrder)
}

func TestDelete_ConcurrentDeleteDuringGapClose(t *testing.T) {
	ctx := context.Background()
	store, svc, created := newRacingFixture(t, 3)

	store.beforeRenumber = func() {
		require.NoError(t, store.ProductStore.Delete(ctx, created[1].ID))
	}
	require.NoError(t, svc.Delete(ctx, created[0].ID))

	raw, err := store.ProductStore.GetAll(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{created[2].ID}, ids(raw))
	require.Equal(t, []int{1}, orders(raw))
}

func TestList_RepairSkipsConcurrentDelete(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewProductStore()
	inner.Seed(
		domain.Product{ID: "a", Name: "a", DisplayOrder: 0},
		domain.Product{ID: "b", Name: "b", DisplayOrder: 5},
		domain.Product{ID: "c", Name: "c", DisplayOrder: 9},
	)
	store := &racingStore{ProductStore: inner}
	svc := newTestService(t, store)

	store.beforeRenumber = func() {
		require.NoError(t, inner.Delete(ctx, "b"))
	}
	listed, err := svc.List(ctx, true)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c"}, ids(listed))
	require.Equal(t, seq(2), orders(listed))
}

func TestPatch_DisjointConcurrentPatchesBothSurvive(t *testing.T) {
	ctx := context.Background()
	store, svc, created := newRacingFixture(t, 1)
	id := created[0].ID

	price := decimal.RequireFromString("4.20")
	store.beforeUpdate = func() {
		_, err := svc.Patch(ctx, id, domain.ProductPatch{Price: &price})
		require.NoError(t, err)
	}

	name := "renamed"
	updated, err := svc.Patch(ctx, id, domain.ProductPatch{Name: &name})
	require.NoError(t, err)
	require.Equal(t, name, updated.Name)
	require.True(t, price.Equal(updated.Price), "price was %s", updated.Price)
}
