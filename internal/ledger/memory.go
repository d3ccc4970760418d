package ledger

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/samara-industry/stockledger/internal/audit"
)

// MemoryStore is an in-process Repository. WithTx works on a cloned state
// that replaces the live one only when the callback succeeds.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	products   map[string]Product
	materials  map[string]Material
	pos        map[string]PurchaseOrder
	ins        map[string]StockIn
	outs       map[string]StockOut
	invoices   map[string]Invoice
	auditLog   []audit.Entry
	auditSeq   int64
	invoiceSeq int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		products:  map[string]Product{},
		materials: map[string]Material{},
		pos:       map[string]PurchaseOrder{},
		ins:       map[string]StockIn{},
		outs:      map[string]StockOut{},
		invoices:  map[string]Invoice{},
	}}
}

func (s *memState) clone() *memState {
	return &memState{
		products:   maps.Clone(s.products),
		materials:  maps.Clone(s.materials),
		pos:        maps.Clone(s.pos),
		ins:        maps.Clone(s.ins),
		outs:       maps.Clone(s.outs),
		invoices:   maps.Clone(s.invoices),
		auditLog:   slices.Clip(s.auditLog),
		auditSeq:   s.auditSeq,
		invoiceSeq: s.invoiceSeq,
	}
}

// WithTx runs fn against a private copy of the store and commits it on success.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	draft := m.state.clone()
	if err := fn(ctx, &memoryTx{memState: draft}); err != nil {
		return err
	}
	m.state = draft
	return nil
}

func (m *MemoryStore) read() *memState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// The committed state is never mutated in place, so readers may use a
// snapshot pointer after releasing the lock.

func (m *MemoryStore) GetProduct(ctx context.Context, id string) (Product, error) {
	return m.read().GetProduct(ctx, id)
}

func (m *MemoryStore) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	return m.read().ListProducts(ctx, filter)
}

func (m *MemoryStore) GetMaterial(ctx context.Context, id string) (Material, error) {
	return m.read().GetMaterial(ctx, id)
}

func (m *MemoryStore) ListMaterials(ctx context.Context, productID string) ([]Material, error) {
	return m.read().ListMaterials(ctx, productID)
}

func (m *MemoryStore) GetPO(ctx context.Context, id string) (PurchaseOrder, error) {
	return m.read().GetPO(ctx, id)
}

func (m *MemoryStore) ListPOs(ctx context.Context, filter POFilter) ([]PurchaseOrder, error) {
	return m.read().ListPOs(ctx, filter)
}

func (m *MemoryStore) GetStockIn(ctx context.Context, id string) (StockIn, error) {
	return m.read().GetStockIn(ctx, id)
}

func (m *MemoryStore) ListStockIns(ctx context.Context, filter StockInFilter) ([]StockIn, error) {
	return m.read().ListStockIns(ctx, filter)
}

func (m *MemoryStore) GetStockOut(ctx context.Context, id string) (StockOut, error) {
	return m.read().GetStockOut(ctx, id)
}

func (m *MemoryStore) ListStockOuts(ctx context.Context, filter StockOutFilter) ([]StockOut, error) {
	return m.read().ListStockOuts(ctx, filter)
}

func (m *MemoryStore) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	return m.read().GetInvoice(ctx, id)
}

func (m *MemoryStore) ListInvoices(ctx context.Context) ([]Invoice, error) {
	return m.read().ListInvoices(ctx)
}

func (m *MemoryStore) ListAuditEntries(ctx context.Context, q audit.Query) ([]audit.Entry, error) {
	return m.read().ListAuditEntries(ctx, q)
}

func (s *memState) GetProduct(_ context.Context, id string) (Product, error) {
	p, ok := s.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (s *memState) ListProducts(_ context.Context, filter ProductFilter) ([]Product, error) {
	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		if p.Active || filter.IncludeInactive {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Product) int { return cmp.Compare(a.Code, b.Code) })
	return out, nil
}

func (s *memState) GetMaterial(_ context.Context, id string) (Material, error) {
	m, ok := s.materials[id]
	if !ok {
		return Material{}, ErrMaterialNotFound
	}
	return m, nil
}

func (s *memState) ListMaterials(_ context.Context, productID string) ([]Material, error) {
	out := make([]Material, 0)
	for _, m := range s.materials {
		if m.ProductID == productID && m.Active {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b Material) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *memState) GetPO(_ context.Context, id string) (PurchaseOrder, error) {
	po, ok := s.pos[id]
	if !ok {
		return PurchaseOrder{}, ErrPONotFound
	}
	return po, nil
}

func (s *memState) ListPOs(_ context.Context, filter POFilter) ([]PurchaseOrder, error) {
	out := make([]PurchaseOrder, 0, len(s.pos))
	for _, po := range s.pos {
		if filter.ProductID != "" && po.ProductID != filter.ProductID {
			continue
		}
		if !po.Active && !filter.IncludeClosed {
			continue
		}
		out = append(out, po)
	}
	slices.SortFunc(out, func(a, b PurchaseOrder) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *memState) GetStockIn(_ context.Context, id string) (StockIn, error) {
	in, ok := s.ins[id]
	if !ok {
		return StockIn{}, ErrStockInNotFound
	}
	return in, nil
}

func (s *memState) ListStockIns(_ context.Context, filter StockInFilter) ([]StockIn, error) {
	out := make([]StockIn, 0, len(s.ins))
	for _, in := range s.ins {
		if filter.POID == "" || in.POID == filter.POID {
			out = append(out, in)
		}
	}
	slices.SortFunc(out, func(a, b StockIn) int {
		return cmp.Or(a.Date.Compare(b.Date.Time), a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *memState) GetStockOut(_ context.Context, id string) (StockOut, error) {
	o, ok := s.outs[id]
	if !ok {
		return StockOut{}, ErrStockOutNotFound
	}
	return o, nil
}

func (s *memState) ListStockOuts(_ context.Context, filter StockOutFilter) ([]StockOut, error) {
	out := make([]StockOut, 0, len(s.outs))
	for _, o := range s.outs {
		if filter.Matches(o) {
			out = append(out, o)
		}
	}
	// newest first
	slices.SortFunc(out, func(a, b StockOut) int {
		return cmp.Or(b.Date.Compare(a.Date.Time), b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	return out, nil
}

func (s *memState) GetInvoice(_ context.Context, id string) (Invoice, error) {
	inv, ok := s.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (s *memState) ListInvoices(_ context.Context) ([]Invoice, error) {
	out := slices.Collect(maps.Values(s.invoices))
	slices.SortFunc(out, func(a, b Invoice) int {
		return cmp.Or(b.Date.Compare(a.Date.Time), cmp.Compare(b.InvoiceNo, a.InvoiceNo))
	})
	if out == nil {
		out = []Invoice{}
	}
	return out, nil
}

func (s *memState) ListAuditEntries(_ context.Context, q audit.Query) ([]audit.Entry, error) {
	out := make([]audit.Entry, 0)
	skipped := 0
	for i := len(s.auditLog) - 1; i >= 0; i-- {
		e := s.auditLog[i]
		if !e.Matches(q) {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

type memoryTx struct {
	*memState
}

func (tx *memoryTx) ProductCodeTaken(_ context.Context, code, exceptID string) (bool, error) {
	for _, p := range tx.products {
		if p.Code == code && p.ID != exceptID {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) PONoTaken(_ context.Context, poNo, exceptID string) (bool, error) {
	for _, po := range tx.pos {
		if po.PONo == poNo && po.ID != exceptID {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) InvoiceNoTaken(_ context.Context, invoiceNo string) (bool, error) {
	for _, inv := range tx.invoices {
		if inv.InvoiceNo == invoiceNo {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) LockPO(ctx context.Context, id string) (PurchaseOrder, error) {
	return tx.GetPO(ctx, id)
}

func (tx *memoryTx) LockStockOut(ctx context.Context, id string) (StockOut, error) {
	return tx.GetStockOut(ctx, id)
}

func (tx *memoryTx) LockInvoice(ctx context.Context, id string) (Invoice, error) {
	return tx.GetInvoice(ctx, id)
}

func (tx *memoryTx) InsertProduct(_ context.Context, p Product) error {
	tx.products[p.ID] = p
	return nil
}

func (tx *memoryTx) UpdateProduct(_ context.Context, p Product) error {
	if _, ok := tx.products[p.ID]; !ok {
		return ErrProductNotFound
	}
	tx.products[p.ID] = p
	return nil
}

func (tx *memoryTx) InsertMaterial(_ context.Context, m Material) error {
	tx.materials[m.ID] = m
	return nil
}

func (tx *memoryTx) UpdateMaterial(_ context.Context, m Material) error {
	if _, ok := tx.materials[m.ID]; !ok {
		return ErrMaterialNotFound
	}
	tx.materials[m.ID] = m
	return nil
}

func (tx *memoryTx) InsertPO(_ context.Context, po PurchaseOrder) error {
	tx.pos[po.ID] = po
	return nil
}

func (tx *memoryTx) UpdatePO(_ context.Context, po PurchaseOrder) error {
	if _, ok := tx.pos[po.ID]; !ok {
		return ErrPONotFound
	}
	tx.pos[po.ID] = po
	return nil
}

func (tx *memoryTx) InsertStockIn(_ context.Context, in StockIn) error {
	tx.ins[in.ID] = in
	return nil
}

func (tx *memoryTx) UpdateStockIn(_ context.Context, in StockIn) error {
	if _, ok := tx.ins[in.ID]; !ok {
		return ErrStockInNotFound
	}
	tx.ins[in.ID] = in
	return nil
}

func (tx *memoryTx) DeleteStockIn(_ context.Context, id string) error {
	if _, ok := tx.ins[id]; !ok {
		return ErrStockInNotFound
	}
	delete(tx.ins, id)
	return nil
}

func (tx *memoryTx) InsertStockOut(_ context.Context, out StockOut) error {
	tx.outs[out.ID] = out
	return nil
}

func (tx *memoryTx) UpdateStockOut(_ context.Context, out StockOut) error {
	if _, ok := tx.outs[out.ID]; !ok {
		return ErrStockOutNotFound
	}
	tx.outs[out.ID] = out
	return nil
}

func (tx *memoryTx) DeleteStockOut(_ context.Context, id string) error {
	if _, ok := tx.outs[id]; !ok {
		return ErrStockOutNotFound
	}
	delete(tx.outs, id)
	return nil
}

func (tx *memoryTx) AttachStockOut(_ context.Context, outID, invoiceID string) error {
	o, ok := tx.outs[outID]
	if !ok {
		return ErrStockOutNotFound
	}
	if o.Invoiced() {
		return ErrAlreadyInvoiced
	}
	o.InvoiceID = invoiceID
	tx.outs[outID] = o
	return nil
}

func (tx *memoryTx) DetachStockOut(_ context.Context, outID, invoiceID string) error {
	o, ok := tx.outs[outID]
	if !ok || o.InvoiceID != invoiceID {
		return ErrItemNotOnInvoice
	}
	o.InvoiceID = ""
	tx.outs[outID] = o
	return nil
}

func (tx *memoryTx) NextInvoiceSeq(_ context.Context) (int64, error) {
	tx.invoiceSeq++
	return tx.invoiceSeq, nil
}

func (tx *memoryTx) InsertInvoice(_ context.Context, inv Invoice) error {
	tx.invoices[inv.ID] = inv
	return nil
}

func (tx *memoryTx) UpdateInvoice(_ context.Context, inv Invoice) error {
	if _, ok := tx.invoices[inv.ID]; !ok {
		return ErrInvoiceNotFound
	}
	tx.invoices[inv.ID] = inv
	return nil
}

func (tx *memoryTx) AppendAudit(_ context.Context, entry audit.Entry) (audit.Entry, error) {
	if err := entry.Validate(); err != nil {
		return audit.Entry{}, err
	}
	tx.auditSeq++
	entry.ID = tx.auditSeq
	tx.auditLog = append(tx.auditLog, entry)
	return entry, nil
}
