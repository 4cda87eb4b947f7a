package requisition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockcontrol/internal/inventory"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

type memoryRepo struct {
	mu           sync.Mutex
	requisitions map[int64]Requisition
	receipts     map[string][]ReceiptLine
	nextID       int64
	beforeInsert func(*memoryRepo) // runs as a concurrent commit ahead of the next transaction
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{requisitions: map[int64]Requisition{}, receipts: map[string][]ReceiptLine{}}
}

func (r *memoryRepo) snapshot() (map[int64]Requisition, map[string][]ReceiptLine, int64) {
	reqs := make(map[int64]Requisition, len(r.requisitions))
	for id, req := range r.requisitions {
		req.Items = append([]Item(nil), req.Items...)
		reqs[id] = req
	}
	receipts := make(map[string][]ReceiptLine, len(r.receipts))
	for k, v := range r.receipts {
		receipts[k] = v
	}
	return reqs, receipts, r.nextID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hook := r.beforeInsert; hook != nil {
		r.beforeInsert = nil
		hook(r)
	}
	reqs, receipts, next := r.snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.requisitions, r.receipts, r.nextID = reqs, receipts, next
		return err
	}
	return nil
}

func (r *memoryRepo) find(match func(Requisition) bool) (Requisition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.requisitions {
		if match(req) {
			return req, nil
		}
	}
	return Requisition{}, shared.ErrNotFound
}

func (r *memoryRepo) GetRequisition(ctx context.Context, companyID, id int64) (Requisition, error) {
	return r.find(func(req Requisition) bool { return req.CompanyID == companyID && req.ID == id })
}

func (r *memoryRepo) ActiveForJob(ctx context.Context, companyID, jobID int64) (Requisition, error) {
	return r.find(func(req Requisition) bool {
		return req.CompanyID == companyID && req.Source == SourceJob && req.JobID == jobID && req.Status.Active()
	})
}

func (r *memoryRepo) ActiveReorderForItem(ctx context.Context, companyID, stockItemID int64) (Requisition, error) {
	return r.find(func(req Requisition) bool {
		return req.CompanyID == companyID && req.Source == SourceReorder && req.StockItemID == stockItemID && req.Status.Active()
	})
}

func (r *memoryRepo) ListRequisitions(ctx context.Context, companyID int64, filter ListFilter) ([]Requisition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Requisition
	for _, req := range r.requisitions {
		if req.CompanyID != companyID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.Source != "" && req.Source != filter.Source {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

func (r *memoryRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requisitions)
}

func (t *memoryTx) InsertRequisition(ctx context.Context, req Requisition) (Requisition, error) {
	for _, existing := range t.repo.requisitions {
		if existing.CompanyID != req.CompanyID || existing.Source != req.Source || !existing.Status.Active() {
			continue
		}
		if (req.Source == SourceJob && existing.JobID == req.JobID) || (req.Source == SourceReorder && existing.StockItemID == req.StockItemID) {
			return Requisition{}, shared.ErrConflict
		}
	}
	t.repo.nextID++
	req.ID = t.repo.nextID
	t.repo.requisitions[req.ID] = req
	return req, nil
}

func (t *memoryTx) InsertItem(ctx context.Context, item Item) (Item, error) {
	t.repo.nextID++
	item.ID = t.repo.nextID
	req := t.repo.requisitions[item.RequisitionID]
	req.Items = append(req.Items, item)
	t.repo.requisitions[item.RequisitionID] = req
	return item, nil
}

func (t *memoryTx) LockRequisition(ctx context.Context, companyID, id int64) (Requisition, error) {
	req, ok := t.repo.requisitions[id]
	if !ok || req.CompanyID != companyID {
		return Requisition{}, shared.ErrNotFound
	}
	req.Items = append([]Item(nil), req.Items...)
	return req, nil
}

func (t *memoryTx) UpdateStatus(ctx context.Context, id int64, status Status) error {
	req := t.repo.requisitions[id]
	req.Status = status
	t.repo.requisitions[id] = req
	return nil
}

func (t *memoryTx) AddReceived(ctx context.Context, itemID, quantity int64) error {
	for id, req := range t.repo.requisitions {
		for i := range req.Items {
			if req.Items[i].ID == itemID {
				req.Items[i].QuantityReceived += quantity
				t.repo.requisitions[id] = req
				return nil
			}
		}
	}
	return shared.ErrNotFound
}

func receiptKey(requisitionID int64, key string) string {
	return fmt.Sprintf("%d:%s", requisitionID, key)
}

func (t *memoryTx) InsertReceipt(ctx context.Context, requisitionID int64, key string, actorID int64, lines []ReceiptLine) error {
	k := receiptKey(requisitionID, key)
	if _, ok := t.repo.receipts[k]; ok {
		return shared.ErrConflict
	}
	t.repo.receipts[k] = append([]ReceiptLine(nil), lines...)
	return nil
}

func (r *memoryRepo) ReceiptLines(ctx context.Context, requisitionID int64, key string) ([]ReceiptLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines, ok := r.receipts[receiptKey(requisitionID, key)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return append([]ReceiptLine(nil), lines...), nil
}

type staticMaterials map[int64][]MaterialRequirement

func (m staticMaterials) RequiredMaterials(ctx context.Context, companyID, jobID int64) ([]MaterialRequirement, error) {
	return m[jobID], nil
}

type fakeStock struct {
	items     map[int64]inventory.StockItem
	movements []inventory.MovementInput
	seen      map[string]bool
	err       error
}

func (f *fakeStock) StockItem(ctx context.Context, companyID, id int64) (inventory.StockItem, error) {
	item, ok := f.items[id]
	if !ok {
		return inventory.StockItem{}, shared.ErrNotFound
	}
	return item, nil
}

func (f *fakeStock) RecordMovement(ctx context.Context, actor shared.Actor, input inventory.MovementInput) (inventory.Movement, error) {
	if f.err != nil {
		return inventory.Movement{}, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[input.ReferenceID] {
		return inventory.Movement{}, shared.ErrConflict
	}
	f.seen[input.ReferenceID] = true
	f.movements = append(f.movements, input)
	return inventory.Movement{StockItemID: input.StockItemID, Type: input.Type, Quantity: input.Quantity}, nil
}

var manager = shared.Actor{ID: 3, Name: "Mia", Role: shared.RoleManager, CompanyID: 1}

func litres(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestPacksToOrder(t *testing.T) {
	fallback := decimal.NewFromInt(20)
	cases := []struct {
		litres, pack string
		want         int64
	}{
		{"40", "20", 2},
		{"45", "20", 3},
		{"0.5", "20", 1},
		{"12.5", "2.5", 5},
		{"45", "0", 3},
		{"0", "20", 0},
		{"-5", "20", 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, PacksToOrder(litres(tc.litres), litres(tc.pack), fallback), "%s/%s", tc.litres, tc.pack)
	}
}

func TestCreateFromJobIsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	materials := staticMaterials{42: {
		{Product: "Epoxy primer", LitresRequired: litres("45")},
		{Product: "Topcoat", StockItemID: 9, LitresRequired: litres("40"), PackSizeLitres: litres("5")},
		{Product: "Thinner", LitresRequired: litres("0")},
	}}
	svc := NewService(repo, Config{Materials: materials, DefaultPackSizeLitres: decimal.NewFromInt(20)})
	ctx := context.Background()

	first, err := svc.CreateFromJob(ctx, manager, 42)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Len(t, first.Items, 2)
	assert.Equal(t, int64(3), first.Items[0].PacksToOrder)
	assert.Equal(t, int64(8), first.Items[1].PacksToOrder)
	assert.Equal(t, int64(9), first.Items[1].StockItemID)
	assert.Equal(t, StatusPending, first.Status)
	assert.Equal(t, SourceJob, first.Source)

	second, err := svc.CreateFromJob(ctx, manager, 42)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, repo.count())
}

func TestCreateFromJobEmptyBreakdownCreatesNothing(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, Config{Materials: staticMaterials{}})

	req, err := svc.CreateFromJob(context.Background(), manager, 7)
	require.NoError(t, err)
	assert.Nil(t, req)

	withoutProvider := NewService(repo, Config{})
	req, err = withoutProvider.CreateFromJob(context.Background(), manager, 7)
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.Zero(t, repo.count())
}

func TestCreateFromJobReturnsConcurrentWinner(t *testing.T) {
	repo := newMemoryRepo()
	repo.beforeInsert = func(r *memoryRepo) {
		r.nextID++
		r.requisitions[r.nextID] = Requisition{ID: r.nextID, CompanyID: 1, Number: "REQ-WINNER", Source: SourceJob, JobID: 42, Status: StatusPending}
	}
	svc := NewService(repo, Config{Materials: staticMaterials{42: {{Product: "Primer", LitresRequired: litres("10")}}}})

	req, err := svc.CreateFromJob(context.Background(), manager, 42)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "REQ-WINNER", req.Number)
	assert.Equal(t, 1, repo.count())
}

func TestCreateFromJobAfterCancelCreatesNew(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, Config{Materials: staticMaterials{42: {{Product: "Primer", LitresRequired: litres("10")}}}})
	ctx := context.Background()

	first, err := svc.CreateFromJob(ctx, manager, 42)
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, manager, first.ID)
	require.NoError(t, err)

	second, err := svc.CreateFromJob(ctx, manager, 42)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestCreateReorderRequisition(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, Config{})
	ctx := context.Background()

	skipped, err := svc.CreateReorderRequisition(ctx, inventory.StockItem{ID: 5, CompanyID: 1, Quantity: 20, MinStockLevel: 20})
	require.NoError(t, err)
	assert.Nil(t, skipped)

	item := inventory.StockItem{ID: 5, CompanyID: 1, SKU: "PNT-5", Name: "Primer", Quantity: 8, MinStockLevel: 20}
	created, err := svc.CreateReorderRequisition(ctx, item)
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, SourceReorder, created.Source)
	require.Len(t, created.Items, 1)
	assert.Equal(t, int64(12), created.Items[0].QuantityRequired)
	assert.Equal(t, int64(5), created.Items[0].StockItemID)

	again, err := svc.CreateReorderRequisition(ctx, item)
	require.NoError(t, err)
	assert.Nil(t, again)
	assert.Equal(t, 1, repo.count())
}

func TestTriggerReorderLoadsCurrentItem(t *testing.T) {
	repo := newMemoryRepo()
	stock := &fakeStock{items: map[int64]inventory.StockItem{5: {ID: 5, CompanyID: 1, Quantity: 3, MinStockLevel: 10}}}
	svc := NewService(repo, Config{Stock: stock})

	require.NoError(t, svc.TriggerReorder(context.Background(), 1, 5))
	req, err := repo.ActiveReorderForItem(context.Background(), 1, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(7), req.Items[0].QuantityRequired)

	err = svc.TriggerReorder(context.Background(), 1, 99)
	require.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestLifecycleAndReceipt(t *testing.T) {
	repo := newMemoryRepo()
	stock := &fakeStock{}
	svc := NewService(repo, Config{
		Stock:     stock,
		Materials: staticMaterials{42: {{Product: "Primer", StockItemID: 9, LitresRequired: litres("100")}, {Product: "Custom mix", LitresRequired: litres("20")}}},
	})
	ctx := context.Background()

	req, err := svc.CreateFromJob(ctx, manager, 42)
	require.NoError(t, err)
	primer, custom := req.Items[0], req.Items[1]
	require.Equal(t, int64(5), primer.QuantityRequired)

	_, err = svc.MarkOrdered(ctx, manager, req.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = svc.Receive(ctx, manager, req.ID, ReceiveInput{Lines: []ReceiptLine{{ItemID: primer.ID, Quantity: 1}}})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = svc.Approve(ctx, manager, req.ID)
	require.NoError(t, err)
	_, err = svc.MarkOrdered(ctx, manager, req.ID)
	require.NoError(t, err)

	delivery := ReceiveInput{Key: "dn-1", Lines: []ReceiptLine{{ItemID: primer.ID, Quantity: 3}, {ItemID: custom.ID, Quantity: 1}}}
	got, err := svc.Receive(ctx, manager, req.ID, delivery)
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyReceived, got.Status)
	require.Len(t, stock.movements, 1)
	assert.Equal(t, inventory.MovementIn, stock.movements[0].Type)
	assert.Equal(t, inventory.ReferenceDelivery, stock.movements[0].ReferenceType)
	assert.Equal(t, int64(3), stock.movements[0].Quantity)

	got, err = svc.Receive(ctx, manager, req.ID, delivery)
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyReceived, got.Status)
	assert.Len(t, stock.movements, 1)
	assert.Equal(t, int64(3), got.Items[0].QuantityReceived)

	_, err = svc.Receive(ctx, manager, req.ID, ReceiveInput{Key: "dn-2", Lines: []ReceiptLine{{ItemID: primer.ID, Quantity: 3}}})
	require.ErrorIs(t, err, shared.ErrValidation)

	got, err = svc.Receive(ctx, manager, req.ID, ReceiveInput{Key: "dn-3", Lines: []ReceiptLine{{ItemID: primer.ID, Quantity: 2}}})
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, got.Status)
	assert.Len(t, stock.movements, 2)

	_, err = svc.Cancel(ctx, manager, req.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestReceiveReplayPostsStoredLines(t *testing.T) {
	repo := newMemoryRepo()
	stock := &fakeStock{err: errors.New("ledger unavailable")}
	svc := NewService(repo, Config{
		Stock:     stock,
		Materials: staticMaterials{42: {{Product: "Primer", StockItemID: 9, LitresRequired: litres("100")}}},
	})
	ctx := context.Background()

	req, err := svc.CreateFromJob(ctx, manager, 42)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, manager, req.ID)
	require.NoError(t, err)
	_, err = svc.MarkOrdered(ctx, manager, req.ID)
	require.NoError(t, err)
	line := req.Items[0]

	split := ReceiveInput{Key: "dn-7", Lines: []ReceiptLine{{ItemID: line.ID, Quantity: 1}, {ItemID: line.ID, Quantity: 1}}}
	_, err = svc.Receive(ctx, manager, req.ID, split)
	require.Error(t, err)
	assert.Empty(t, stock.movements)

	stock.err = nil
	_, err = svc.Receive(ctx, manager, req.ID, ReceiveInput{Key: "dn-7", Lines: []ReceiptLine{{ItemID: line.ID, Quantity: 4}}})
	require.ErrorIs(t, err, shared.ErrConflict)
	assert.Empty(t, stock.movements)

	got, err := svc.Receive(ctx, manager, req.ID, ReceiveInput{Key: "dn-7", Lines: []ReceiptLine{{ItemID: line.ID, Quantity: 2}}})
	require.NoError(t, err)
	require.Len(t, stock.movements, 1)
	assert.Equal(t, int64(2), stock.movements[0].Quantity)
	assert.Equal(t, int64(2), got.Items[0].QuantityReceived)
	assert.Equal(t, StatusPartiallyReceived, got.Status)
}
