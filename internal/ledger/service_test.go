package ledger

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samara-industry/stockledger/internal/audit"
	"github.com/samara-industry/stockledger/internal/shared"
)

type fixture struct {
	svc   *Service
	store *MemoryStore
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewMemoryStore()
	svc := NewService(store, shared.NewLocalLocker(), nil)
	f := &fixture{svc: svc, store: store, now: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
	var tick int64
	svc.WithClock(func() time.Time {
		return f.now.Add(time.Duration(atomic.AddInt64(&tick, 1)) * time.Second)
	})
	var seq int64
	svc.WithIDGenerator(func() string {
		return fmt.Sprintf("id-%03d", atomic.AddInt64(&seq, 1))
	})
	return f
}

func (f *fixture) product(t *testing.T, code string, rate int64) Product {
	t.Helper()
	p, err := f.svc.CreateProduct(context.Background(), CreateProductInput{Name: "Product " + code, Code: code, Rate: decimal.NewFromInt(rate)})
	require.NoError(t, err)
	return p
}

func (f *fixture) po(t *testing.T, productID, poNo string, qty int64) PurchaseOrder {
	t.Helper()
	po, err := f.svc.CreatePO(context.Background(), CreatePOInput{ProductID: productID, PONo: poNo, POQty: qty})
	require.NoError(t, err)
	return po
}

func (f *fixture) in(t *testing.T, poID string, qty int64) StockIn {
	t.Helper()
	in, err := f.svc.RecordStockIn(context.Background(), StockInInput{POID: poID, Date: DateOf(f.now), Qty: qty})
	require.NoError(t, err)
	return in
}

func (f *fixture) out(t *testing.T, productID, poID string, qty int64) StockOut {
	t.Helper()
	out, err := f.svc.RecordStockOut(context.Background(), StockOutInput{ProductID: productID, POID: poID, Date: DateOf(f.now), Qty: qty})
	require.NoError(t, err)
	return out
}

func (f *fixture) auditCount(t *testing.T) int {
	t.Helper()
	rows, err := f.store.ListAuditEntries(context.Background(), audit.Query{})
	require.NoError(t, err)
	return len(rows)
}

func (f *fixture) onHand(t *testing.T, poID string) int64 {
	t.Helper()
	view, err := f.svc.GetPO(context.Background(), poID)
	require.NoError(t, err)
	return view.StockOnHand
}

func TestScenarioInvoicePrintedFreezesLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.product(t, "P", 100)
	a := f.po(t, p.ID, "A", 50)
	f.in(t, a.ID, 50)
	out := f.out(t, p.ID, a.ID, 20)
	require.Equal(t, int64(30), f.onHand(t, a.ID))

	inv, err := f.svc.GenerateInvoice(ctx, GenerateInvoiceInput{OutIDs: []string{out.ID}})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, inv.Status)
	require.True(t, decimal.NewFromInt(2000).Equal(inv.Total), inv.Total.String())
	require.Equal(t, "SI-00001", inv.InvoiceNo)

	inv, err = f.svc.SetInvoiceStatus(ctx, inv.ID, StatusPrinted)
	require.NoError(t, err)
	require.Equal(t, StatusPrinted, inv.Status)
	require.Equal(t, 1, inv.PrintCount)

	_, err = f.svc.RemoveInvoiceItem(ctx, inv.ID, out.ID)
	require.ErrorIs(t, err, shared.ErrState)
	require.Equal(t, shared.KindState, shared.Kind(err))

	reloaded, err := f.svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.Lines, 1)
	require.True(t, decimal.NewFromInt(2000).Equal(reloaded.Total))
}

func TestScenarioOverdrawRejected(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "P", 100)
	b := f.po(t, p.ID, "B", 10)
	f.in(t, b.ID, 5)
	before := f.auditCount(t)

	_, err := f.svc.RecordStockOut(context.Background(), StockOutInput{ProductID: p.ID, POID: b.ID, Qty: 6})
	require.ErrorIs(t, err, ErrNegativeStock)
	require.Equal(t, shared.KindInvariant, shared.Kind(err))

	require.Equal(t, int64(5), f.onHand(t, b.ID))
	require.Equal(t, before, f.auditCount(t))
	outs, err := f.svc.ListStockOuts(context.Background(), StockOutFilter{POID: b.ID})
	require.NoError(t, err)
	require.Empty(t, outs)
}

func TestCreatePOValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", 10)

	_, err := f.svc.CreatePO(ctx, CreatePOInput{ProductID: "missing", PONo: "X", POQty: 5})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.CreatePO(ctx, CreatePOInput{ProductID: p.ID, PONo: "X", POQty: 0})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.CreatePO(ctx, CreatePOInput{ProductID: p.ID, PONo: "  ", POQty: 5})
	require.ErrorIs(t, err, shared.ErrValidation)

	f.po(t, p.ID, "X", 5)
	_, err = f.svc.CreatePO(ctx, CreatePOInput{ProductID: p.ID, PONo: "X", POQty: 5})
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = f.svc.DeactivateProduct(ctx, p.ID)
	require.NoError(t, err)
	_, err = f.svc.CreatePO(ctx, CreatePOInput{ProductID: p.ID, PONo: "Y", POQty: 5})
	require.ErrorIs(t, err, ErrProductInactive)

	pos, err := f.svc.ListPOs(ctx, POFilter{})
	require.NoError(t, err)
	require.Len(t, pos, 1)
	view, err := f.svc.GetPO(ctx, pos[0].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), view.TotalIn)
	assert.Equal(t, int64(0), view.TotalOut)
	assert.Equal(t, int64(5), view.Pending)
}

func TestRecordStockInValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", 10)
	po := f.po(t, p.ID, "A", 10)

	_, err := f.svc.RecordStockIn(ctx, StockInInput{POID: "missing", Qty: 1})
	require.ErrorIs(t, err, ErrPONotFound)

	_, err = f.svc.RecordStockIn(ctx, StockInInput{POID: po.ID, Qty: 0})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	in, err := f.svc.RecordStockIn(ctx, StockInInput{POID: po.ID, Qty: 4, Note: " first "})
	require.NoError(t, err)
	assert.Equal(t, "first", in.Note)
	assert.Equal(t, DateOf(f.now), in.Date)
	assert.False(t, in.Edited)

	view, err := f.svc.GetPO(ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), view.TotalIn)
	assert.Equal(t, int64(6), view.Pending)
}

func TestStockInEditAndDeleteGuardDispatched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", 10)
	po := f.po(t, p.ID, "A", 100)
	first := f.in(t, po.ID, 30)
	second := f.in(t, po.ID, 20)
	f.out(t, p.ID, po.ID, 40)

	_, err := f.svc.EditStockIn(ctx, EditStockInInput{ID: first.ID, Qty: 10})
	require.ErrorIs(t, err, ErrNegativeStock)

	err = f.svc.DeleteStockIn(ctx, first.ID)
	require.ErrorIs(t, err, shared.ErrInvariant)

	edited, err := f.svc.EditStockIn(ctx, EditStockInInput{ID: first.ID, Qty: 25, Note: "recount"})
	require.NoError(t, err)
	assert.True(t, edited.Edited)
	assert.Equal(t, int64(25), edited.Qty)
	assert.Equal(t, int64(5), f.onHand(t, po.ID))

	_, err = f.svc.EditStockIn(ctx, EditStockInInput{ID: "missing", Qty: 5})
	require.ErrorIs(t, err, ErrStockInNotFound)

	f.in(t, po.ID, 20)
	require.NoError(t, f.svc.DeleteStockIn(ctx, second.ID))
	assert.Equal(t, int64(5), f.onHand(t, po.ID))

	err = f.svc.DeleteStockIn(ctx, second.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRecordStockOutErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", 10)
	q := f.product(t, "Q", 10)
	po := f.po(t, p.ID, "A", 100)
	f.in(t, po.ID, 10)

	_, err := f.svc.RecordStockOut(ctx, StockOutInput{ProductID: "missing", POID: po.ID, Qty: 1})
	require.ErrorIs(t, err, ErrProductNotFound)

	_, err = f.svc.RecordStockOut(ctx, StockOutInput{ProductID: p.ID, POID: "missing", Qty: 1})
	require.ErrorIs(t, err, ErrPONotFound)

	_, err = f.svc.RecordStockOut(ctx, StockOutInput{ProductID: q.ID, POID: po.ID, Qty: 1})
	require.ErrorIs(t, err, shared.ErrMismatch)
	require.Equal(t, shared.KindMismatch, shared.Kind(err))

	_, err = f.svc.RecordStockOut(ctx, StockOutInput{ProductID: p.ID, POID: po.ID, Qty: -1})
	require.ErrorIs(t, err, shared.ErrValidation)

	out := f.out(t, p.ID, po.ID, 10)
	assert.False(t, out.Invoiced())
	assert.Equal(t, int64(0), f.onHand(t, po.ID))
}

func TestStockOutEditAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", 10)
	po := f.po(t, p.ID, "A", 100)
	f.in(t, po.ID, 10)
	out := f.out(t, p.ID, po.ID, 4)

	_, err := f.svc.EditStockOut(ctx, EditStockOutInput{ID: out.ID, Qty: 11})
	require.ErrorIs(t, err, ErrNegativeStock)

	edited, err := f.svc.EditStockOut(ctx, EditStockOutInput{ID: out.ID, Qty: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(10), edited.Qty)
	assert.Equal(t, int64(0), f.onHand(t, po.ID))

	inv, err := f.svc.GenerateInvoice(ctx, GenerateInvoiceInput{InvoiceNo: "INV-1", OutIDs: []string{out.ID}})
	require.NoError(t, err)

	_, err = f.svc.EditStockOut(ctx, EditStockOutInput{ID: out.ID, Qty: 5})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.ErrorIs(t, f.svc.DeleteStockOut(ctx, out.ID), shared.ErrConflict)

	_, err = f.svc.RemoveInvoiceItem(ctx, inv.ID, out.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteStockOut(ctx, out.ID))
	assert.Equal(t, int64(10), f.onHand(t, po.ID))

	require.ErrorIs(t, f.svc.DeleteStockOut(ctx, out.ID), ErrStockOutNotFound)
}

func TestGenerateInvoiceRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", 10)
	po := f.po(t, p.ID, "A", 100)
	f.in(t, po.ID, 10)
	o1 := f.out(t, p.ID, po.ID, 2)
	o2 := f.out(t, p.ID, po.ID, 3)
	o3 := f.out(t, p.ID, po.ID, 1)

	_, err := f.svc.GenerateInvoice(ctx, GenerateInvoiceInput{})
	require.ErrorIs(t, err, ErrEmptyLines)

	_, err = f.svc.GenerateInvoice(ctx, GenerateInvoiceInput{OutIDs: []string{o1.ID, o1.ID}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.GenerateInvoice(ctx, GenerateInvoiceInput{OutIDs: []string{o1.ID, "missing"}})
	require.ErrorIs(t, err, shared.ErrNotFound)

	first, err := f.svc.GenerateInvoice(ctx, GenerateInvoiceInput{OutIDs: []string{o1.ID, o2.ID}})
	require.NoError(t, err)
	require.Len(t, first.Lines, 2)
	assert.Equal(t, int64(5), first.TotalQty)
	assert.True(t, decimal.NewFromInt(50).Equal(first.Total))

	before := f.auditCount(t)
	_, err = f.svc.GenerateInvoice(ctx, GenerateInvoiceInput{OutIDs: []string{o3.ID, o2.ID}})
	require.ErrorIs(t, err, ErrAlreadyInvoiced)
	require.Contains(t, err.Error(), o2.ID)
	require.Equal(t, before, f.auditCount(t))

	// o3 must not be left attached by the rejected call.
	pool, err := f.svc.ListStockOuts(ctx, StockOutFilter{UnassignedOnly: true})
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.Equal(t, o3.ID, pool[0].ID)

	_, err = f.svc.GenerateInvoice(ctx, GenerateInvoiceInput{InvoiceNo: first.InvoiceNo, OutIDs: []string{o3.ID}})
	require.ErrorIs(t, err, ErrDuplicateInvoice)

	second, err := f.svc.GenerateInvoice(ctx, GenerateInvoiceInput{OutIDs: []string{o3.ID}})
	require.NoError(t, err)
	assert.Equal(t, "SI-00002", second.InvoiceNo)
}

func TestGenerateInvoiceSkipsTakenNumbers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", 10)
	po := f.po(t, p.ID, "A", 100)
	f.in(t, po.ID, 10)
	o1 := f.out(t, p.ID, po.ID, 1)
	o2 := f.out(t, p.ID, po.ID, 1)

	_, err := f.svc.GenerateInvoice(ctx, GenerateInvoiceInput{InvoiceNo: "SI-00001", OutIDs: []string{o1.ID}})
	require.NoError(t, err)
	inv, err := f.svc.GenerateInvoice(ctx, GenerateInvoiceInput{OutIDs: []string{o2.ID}})
	require.NoError(t, err)
	assert.Equal(t, "SI-00002", inv.InvoiceNo)
}

func TestAddAndRemoveInvoiceItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", 100)
	po := f.po(t, p.ID, "A", 100)
	f.in(t, po.ID, 10)
	o1 := f.out(t, p.ID, po.ID, 2)
	o2 := f.out(t, p.ID, po.ID, 3)
	o3 := f.out(t, p.ID, po.ID, 4)

	inv, err := f.svc.GenerateInvoice(ctx, GenerateInvoiceInput{OutIDs: []string{o1.ID}})
	require.NoError(t, err)
	other, err := f.svc.GenerateInvoice(ctx, GenerateInvoiceInput{OutIDs: []string{o3.ID}})
	require.NoError(t, err)

	_, err = f.svc.AddInvoiceItems(ctx, inv.ID, []string{o3.ID})
	require.ErrorIs(t, err, shared.ErrConflict)

	inv, err = f.svc.AddInvoiceItems(ctx, inv.ID, []string{o1.ID, o2.ID})
	require.NoError(t, err)
	require.Len(t, inv.Lines, 2)
	assert.True(t, decimal.NewFromInt(500).Equal(inv.Total))

	_, err = f.svc.AddInvoiceItems(ctx, "missing", []string{o2.ID})
	require.ErrorIs(t, err, ErrInvoiceNotFound)

	_, err = f.svc.RemoveInvoiceItem(ctx, inv.ID, o3.ID)
	require.ErrorIs(t, err, ErrItemNotOnInvoice)

	inv, err = f.svc.RemoveInvoiceItem(ctx, inv.ID, o2.ID)
	require.NoError(t, err)
	require.Len(t, inv.Lines, 1)
	assert.True(t, decimal.NewFromInt(200).Equal(inv.Total))

	detached, err := f.svc.ListStockOuts(ctx, StockOutFilter{UnassignedOnly: true})
	require.NoError(t, err)
	require.Len(t, detached, 1)
	assert.Equal(t, o2.ID, detached[0].ID)
	assert.False(t, detached[0].Invoiced())

	_, err = f.svc.SetInvoiceStatus(ctx, other.ID, StatusPrinted)
	require.NoError(t, err)
	_, err = f.svc.AddInvoiceItems(ctx, other.ID, []string{o2.ID})
	require.ErrorIs(t, err, shared.ErrState)

	inv, err = f.svc.RemoveInvoiceItem(ctx, inv.ID, o1.ID)
	require.NoError(t, err)
	assert.Empty(t, inv.Lines)
	assert.True(t, decimal.Zero.Equal(inv.Total))
}

func TestInvoiceStatusMachine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", 100)
	po := f.po(t, p.ID, "A", 100)
	f.in(t, po.ID, 10)
	o := f.out(t, p.ID, po.ID, 1)
	inv, err := f.svc.GenerateInvoice(ctx, GenerateInvoiceInput{OutIDs: []string{o.ID}})
	require.NoError(t, err)

	inv, err = f.svc.SetInvoiceStatus(ctx, inv.ID, StatusReady)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, inv.Status)
	inv, err = f.svc.SetInvoiceStatus(ctx, inv.ID, StatusDraft)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, inv.Status)
	inv, err = f.svc.SetInvoiceStatus(ctx, inv.ID, StatusPrinted)
	require.NoError(t, err)
	assert.Equal(t, 1, inv.PrintCount)

	_, err = f.svc.SetInvoiceStatus(ctx, inv.ID, StatusDraft)
	require.ErrorIs(t, err, ErrIllegalStatus)
	_, err = f.svc.SetInvoiceStatus(ctx, inv.ID, StatusReady)
	require.ErrorIs(t, err, shared.ErrState)

	inv, err = f.svc.SetInvoiceStatus(ctx, inv.ID, StatusPrinted)
	require.NoError(t, err)
	assert.Equal(t, 2, inv.PrintCount)

	_, err = f.svc.SetInvoiceStatus(ctx, inv.ID, InvoiceStatus("Void"))
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.SetInvoiceStatus(ctx, "missing", StatusReady)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPrintedTotalFollowsRateOverFrozenLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", 100)
	po := f.po(t, p.ID, "A", 100)
	f.in(t, po.ID, 10)
	o := f.out(t, p.ID, po.ID, 3)
	inv, err := f.svc.GenerateInvoice(ctx, GenerateInvoiceInput{OutIDs: []string{o.ID}})
	require.NoError(t, err)
	_, err = f.svc.SetInvoiceStatus(ctx, inv.ID, StatusPrinted)
	require.NoError(t, err)

	_, err = f.svc.UpdateProduct(ctx, UpdateProductInput{ID: p.ID, Name: p.Name, Code: p.Code, Rate: decimal.RequireFromString("120.50")})
	require.NoError(t, err)

	view, err := f.svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)
	assert.True(t, decimal.RequireFromString("361.50").Equal(view.Total), view.Total.String())
	assert.True(t, InvoiceTotal([]StockOut{view.Lines[0].StockOut}, map[string]decimal.Decimal{p.ID: view.Lines[0].Rate}).Equal(view.Total))
}

func TestProductsAndMaterials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateProduct(ctx, CreateProductInput{Name: "Bolt", Code: "B-1", Rate: decimal.NewFromInt(-1)})
	require.ErrorIs(t, err, ErrInvalidRate)
	_, err = f.svc.CreateProduct(ctx, CreateProductInput{Name: "", Code: "B-1"})
	require.ErrorIs(t, err, shared.ErrValidation)

	bolt := f.product(t, "B-1", 5)
	nut := f.product(t, "A-1", 2)
	_, err = f.svc.CreateProduct(ctx, CreateProductInput{Name: "Dup", Code: "B-1"})
	require.ErrorIs(t, err, ErrDuplicateCode)
	_, err = f.svc.UpdateProduct(ctx, UpdateProductInput{ID: nut.ID, Name: "Nut", Code: "B-1"})
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = f.svc.UpdateProduct(ctx, UpdateProductInput{ID: "missing", Name: "Nut", Code: "N"})
	require.ErrorIs(t, err, ErrProductNotFound)

	list, err := f.svc.ListProducts(ctx, ProductFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "A-1", list[0].Code)

	_, err = f.svc.DeactivateProduct(ctx, nut.ID)
	require.NoError(t, err)
	list, err = f.svc.ListProducts(ctx, ProductFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	list, err = f.svc.ListProducts(ctx, ProductFilter{IncludeInactive: true})
	require.NoError(t, err)
	require.Len(t, list, 2)

	steel, err := f.svc.AddMaterial(ctx, bolt.ID, "Steel")
	require.NoError(t, err)
	_, err = f.svc.AddMaterial(ctx, bolt.ID, "Zinc")
	require.NoError(t, err)
	_, err = f.svc.AddMaterial(ctx, "missing", "Zinc")
	require.ErrorIs(t, err, shared.ErrNotFound)

	require.NoError(t, f.svc.RemoveMaterial(ctx, steel.ID))
	require.ErrorIs(t, f.svc.RemoveMaterial(ctx, steel.ID), ErrMaterialNotFound)
	materials, err := f.svc.ListMaterials(ctx, bolt.ID)
	require.NoError(t, err)
	require.Len(t, materials, 1)
	assert.Equal(t, "Zinc", materials[0].Name)
}

func TestClosedPORefusesNewMovements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", 10)
	po := f.po(t, p.ID, "A", 10)
	in := f.in(t, po.ID, 5)

	_, err := f.svc.ClosePO(ctx, po.ID)
	require.NoError(t, err)

	_, err = f.svc.RecordStockIn(ctx, StockInInput{POID: po.ID, Qty: 1})
	require.ErrorIs(t, err, ErrPOClosed)
	_, err = f.svc.RecordStockOut(ctx, StockOutInput{ProductID: p.ID, POID: po.ID, Qty: 1})
	require.ErrorIs(t, err, ErrPOClosed)

	_, err = f.svc.EditStockIn(ctx, EditStockInInput{ID: in.ID, Qty: 6})
	require.NoError(t, err)

	open, err := f.svc.ListPOs(ctx, POFilter{})
	require.NoError(t, err)
	require.Empty(t, open)
	all, err := f.svc.ListPOs(ctx, POFilter{IncludeClosed: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(6), all[0].TotalIn)
	assert.Equal(t, "P", all[0].ProductCode)
}

func TestUpdatePO(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", 10)
	a := f.po(t, p.ID, "A", 10)
	f.po(t, p.ID, "B", 10)

	_, err := f.svc.UpdatePO(ctx, UpdatePOInput{ID: a.ID, PONo: "B", POQty: 10})
	require.ErrorIs(t, err, ErrDuplicatePONo)

	updated, err := f.svc.UpdatePO(ctx, UpdatePOInput{ID: a.ID, PONo: "A-2", POQty: 20})
	require.NoError(t, err)
	assert.Equal(t, "A-2", updated.PONo)
	assert.Equal(t, int64(20), updated.POQty)
}

func TestAuditTrailRecordsEveryCommand(t *testing.T) {
	f := newFixture(t)
	ctx := shared.ContextWithActor(context.Background(), "clerk")
	p, err := f.svc.CreateProduct(ctx, CreateProductInput{Name: "P", Code: "P", Rate: decimal.NewFromInt(1000)})
	require.NoError(t, err)
	po, err := f.svc.CreatePO(ctx, CreatePOInput{ProductID: p.ID, PONo: "A", POQty: 5000})
	require.NoError(t, err)
	_, err = f.svc.RecordStockIn(ctx, StockInInput{POID: po.ID, Qty: 1500})
	require.NoError(t, err)

	entries, err := f.store.ListAuditEntries(context.Background(), audit.Query{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, audit.ActionStockInRecorded, entries[0].Action)
	assert.Equal(t, audit.ActionProductCreated, entries[2].Action)
	assert.Equal(t, "clerk", entries[0].Actor)
	assert.Contains(t, entries[0].Details, "1,500")
	assert.Equal(t, int64(3), entries[0].ID)
	assert.True(t, entries[0].At.After(entries[1].At))

	timeline, err := audit.NewService(f.svc.Audit()).Timeline(context.Background(), audit.TimelineFilters{RefType: audit.RefPO})
	require.NoError(t, err)
	require.Len(t, timeline.Rows, 1)
	assert.Equal(t, po.ID, timeline.Rows[0].RefID)
}

type recordingObserver struct {
	mu    sync.Mutex
	calls map[string][]string
}

func (o *recordingObserver) ObserveCommand(op string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calls == nil {
		o.calls = map[string][]string{}
	}
	kind := "ok"
	if err != nil {
		kind = shared.Kind(err)
	}
	o.calls[op] = append(o.calls[op], kind)
}

func TestObserverSeesOutcomes(t *testing.T) {
	f := newFixture(t)
	obs := &recordingObserver{}
	f.svc.WithObserver(obs)
	p := f.product(t, "P", 10)
	_, err := f.svc.CreatePO(context.Background(), CreatePOInput{ProductID: p.ID, PONo: "", POQty: 1})
	require.Error(t, err)

	assert.Equal(t, []string{"ok"}, obs.calls["create_product"])
	assert.Equal(t, []string{shared.KindValidation}, obs.calls["create_po"])
}

func TestConcurrentStockOutsCannotOverdraw(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "P", 10)
	po := f.po(t, p.ID, "A", 100)
	f.in(t, po.ID, 10)

	var (
		wg      sync.WaitGroup
		ok      atomic.Int64
		refused atomic.Int64
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordStockOut(context.Background(), StockOutInput{ProductID: p.ID, POID: po.ID, Qty: 1})
			if err == nil {
				ok.Add(1)
				return
			}
			if shared.Kind(err) == shared.KindInvariant {
				refused.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(10), ok.Load())
	assert.Equal(t, int64(15), refused.Load())
	assert.Equal(t, int64(0), f.onHand(t, po.ID))
}

func TestConcurrentInvoicesCannotShareLine(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "P", 10)
	po := f.po(t, p.ID, "A", 100)
	f.in(t, po.ID, 10)
	o := f.out(t, p.ID, po.ID, 1)

	var (
		wg       sync.WaitGroup
		ok       atomic.Int64
		conflict atomic.Int64
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.GenerateInvoice(context.Background(), GenerateInvoiceInput{OutIDs: []string{o.ID}})
			switch {
			case err == nil:
				ok.Add(1)
			case shared.Kind(err) == shared.KindConflict:
				conflict.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), ok.Load())
	assert.Equal(t, int64(9), conflict.Load())

	invoices, err := f.svc.ListInvoices(context.Background())
	require.NoError(t, err)
	require.Len(t, invoices, 1)
}

func TestCheckIntegrity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", 10)
	po := f.po(t, p.ID, "A", 100)
	f.in(t, po.ID, 10)
	o := f.out(t, p.ID, po.ID, 4)
	_, err := f.svc.GenerateInvoice(ctx, GenerateInvoiceInput{OutIDs: []string{o.ID}})
	require.NoError(t, err)

	issues, err := f.svc.CheckIntegrity(ctx)
	require.NoError(t, err)
	require.Empty(t, issues)

	issues = FindIntegrityIssues(
		[]PurchaseOrder{{ID: "po", ProductID: "p", PONo: "A"}},
		[]StockIn{{ID: "in", POID: "po", Qty: 1}, {ID: "orphan", POID: "gone", Qty: 1}},
		[]StockOut{{ID: "out", POID: "po", ProductID: "other", Qty: 2, InvoiceID: "inv-x"}},
		nil,
	)
	kinds := make([]string, 0, len(issues))
	for _, issue := range issues {
		kinds = append(kinds, issue.Kind)
	}
	assert.ElementsMatch(t, []string{IssueMissingPO, IssueProductMismatch, IssueMissingInvoice, IssueNegativeStock}, kinds)
}

func TestReceiptsCannotOverflowPOTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", 1)
	po := f.po(t, p.ID, "A", 10)
	half := int64(math.MaxInt64/2 + 1)
	f.in(t, po.ID, half)
	before := f.auditCount(t)

	_, err := f.svc.RecordStockIn(ctx, StockInInput{POID: po.ID, Qty: half})
	require.ErrorIs(t, err, ErrQuantityOverflow)
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Equal(t, before, f.auditCount(t))
	assert.Equal(t, half, f.onHand(t, po.ID))

	small := f.in(t, po.ID, 1)
	_, err = f.svc.EditStockIn(ctx, EditStockInInput{ID: small.ID, Qty: half})
	require.ErrorIs(t, err, ErrQuantityOverflow)

	edited, err := f.svc.EditStockIn(ctx, EditStockInInput{ID: small.ID, Qty: half - 1})
	require.NoError(t, err)
	assert.Equal(t, half-1, edited.Qty)
	assert.Equal(t, int64(math.MaxInt64), f.onHand(t, po.ID))

	f.out(t, p.ID, po.ID, 1)
	assert.Equal(t, int64(math.MaxInt64-1), f.onHand(t, po.ID))
}
