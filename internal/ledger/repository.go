package ledger

import (
	"context"

	"github.com/samara-industry/stockledger/internal/audit"
)

// Reader exposes the query side of the entity store. Lists return copies.
type Reader interface {
	GetProduct(ctx context.Context, id string) (Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)
	GetMaterial(ctx context.Context, id string) (Material, error)
	ListMaterials(ctx context.Context, productID string) ([]Material, error)
	GetPO(ctx context.Context, id string) (PurchaseOrder, error)
	ListPOs(ctx context.Context, filter POFilter) ([]PurchaseOrder, error)
	GetStockIn(ctx context.Context, id string) (StockIn, error)
	ListStockIns(ctx context.Context, filter StockInFilter) ([]StockIn, error)
	GetStockOut(ctx context.Context, id string) (StockOut, error)
	ListStockOuts(ctx context.Context, filter StockOutFilter) ([]StockOut, error)
	GetInvoice(ctx context.Context, id string) (Invoice, error)
	ListInvoices(ctx context.Context) ([]Invoice, error)
	ListAuditEntries(ctx context.Context, q audit.Query) ([]audit.Entry, error)
}

// TxRepository exposes transactional operations used by service.
// Lock* reads hold the row until the transaction ends.
type TxRepository interface {
	Reader

	ProductCodeTaken(ctx context.Context, code, exceptID string) (bool, error)
	PONoTaken(ctx context.Context, poNo, exceptID string) (bool, error)
	InvoiceNoTaken(ctx context.Context, invoiceNo string) (bool, error)

	LockPO(ctx context.Context, id string) (PurchaseOrder, error)
	LockStockOut(ctx context.Context, id string) (StockOut, error)
	LockInvoice(ctx context.Context, id string) (Invoice, error)

	InsertProduct(ctx context.Context, p Product) error
	UpdateProduct(ctx context.Context, p Product) error
	InsertMaterial(ctx context.Context, m Material) error
	UpdateMaterial(ctx context.Context, m Material) error
	InsertPO(ctx context.Context, po PurchaseOrder) error
	UpdatePO(ctx context.Context, po PurchaseOrder) error
	InsertStockIn(ctx context.Context, in StockIn) error
	UpdateStockIn(ctx context.Context, in StockIn) error
	DeleteStockIn(ctx context.Context, id string) error
	InsertStockOut(ctx context.Context, out StockOut) error
	UpdateStockOut(ctx context.Context, out StockOut) error
	DeleteStockOut(ctx context.Context, id string) error

	// AttachStockOut sets invoice_id only while it is still null, returning ErrAlreadyInvoiced otherwise.
	AttachStockOut(ctx context.Context, outID, invoiceID string) error
	// DetachStockOut clears invoice_id when it equals invoiceID, returning ErrItemNotOnInvoice otherwise.
	DetachStockOut(ctx context.Context, outID, invoiceID string) error

	NextInvoiceSeq(ctx context.Context) (int64, error)
	InsertInvoice(ctx context.Context, inv Invoice) error
	UpdateInvoice(ctx context.Context, inv Invoice) error

	AppendAudit(ctx context.Context, entry audit.Entry) (audit.Entry, error)
}

// Repository is the entity store port used by Service.
type Repository interface {
	Reader
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}
