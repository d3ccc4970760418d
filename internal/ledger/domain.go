package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a sellable item priced per unit.
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Code      string          `json:"code"`
	Rate      decimal.Decimal `json:"rate"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
}

// Material is one bill-of-materials component of a product.
type Material struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// PurchaseOrder is a target quantity of one product.
type PurchaseOrder struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	PONo      string    `json:"po_no"`
	POQty     int64     `json:"po_qty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// StockIn is a physical receipt against a purchase order.
type StockIn struct {
	ID        string    `json:"id"`
	POID      string    `json:"po_id"`
	Date      Date      `json:"date"`
	Qty       int64     `json:"qty"`
	Note      string    `json:"note,omitempty"`
	Edited    bool      `json:"edited"`
	CreatedAt time.Time `json:"created_at"`
}

// StockOut is a dispatch against a purchase order. Empty InvoiceID means unassigned.
type StockOut struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	POID      string    `json:"po_id"`
	Date      Date      `json:"date"`
	Qty       int64     `json:"qty"`
	InvoiceID string    `json:"invoice_id,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Invoiced reports whether the stock out is a line of some invoice.
func (o StockOut) Invoiced() bool {
	return o.InvoiceID != ""
}

// Invoice groups stock outs. Its lines are the stock outs pointing at it.
type Invoice struct {
	ID         string        `json:"id"`
	InvoiceNo  string        `json:"invoice_no"`
	Date       Date          `json:"date"`
	Status     InvoiceStatus `json:"status"`
	PrintCount int           `json:"print_count"`
	CreatedAt  time.Time     `json:"created_at"`
}

// POView is a purchase order with its derived quantities.
type POView struct {
	PurchaseOrder
	ProductCode string `json:"product_code"`
	TotalIn     int64  `json:"total_in"`
	TotalOut    int64  `json:"total_out"`
	StockOnHand int64  `json:"stock_on_hand"`
	Pending     int64  `json:"pending"`
}

// InvoiceLine is a stock out priced at its product's current rate.
type InvoiceLine struct {
	StockOut
	ProductCode string          `json:"product_code"`
	Rate        decimal.Decimal `json:"rate"`
	Amount      decimal.Decimal `json:"amount"`
}

// InvoiceView is an invoice with its lines and derived totals.
type InvoiceView struct {
	Invoice
	Lines    []InvoiceLine   `json:"lines"`
	TotalQty int64           `json:"total_qty"`
	Total    decimal.Decimal `json:"total"`
}

// CreateProductInput describes a new product.
type CreateProductInput struct {
	Name string
	Code string
	Rate decimal.Decimal
}

// UpdateProductInput replaces a product's editable fields.
type UpdateProductInput struct {
	ID   string
	Name string
	Code string
	Rate decimal.Decimal
}

// CreatePOInput describes a new purchase order.
type CreatePOInput struct {
	ProductID string
	PONo      string
	POQty     int64
}

// UpdatePOInput replaces a purchase order's label and target quantity.
type UpdatePOInput struct {
	ID    string
	PONo  string
	POQty int64
}

// StockInInput records a receipt.
type StockInInput struct {
	POID string
	Date Date
	Qty  int64
	Note string
}

// EditStockInInput replaces a receipt's date, quantity and note.
type EditStockInInput struct {
	ID   string
	Date Date
	Qty  int64
	Note string
}

// StockOutInput records a dispatch.
type StockOutInput struct {
	ProductID string
	POID      string
	Date      Date
	Qty       int64
	Note      string
}

// EditStockOutInput replaces a dispatch's date, quantity and note.
type EditStockOutInput struct {
	ID   string
	Date Date
	Qty  int64
	Note string
}

// GenerateInvoiceInput creates an invoice from unassigned stock outs.
type GenerateInvoiceInput struct {
	InvoiceNo string
	Date      Date
	OutIDs    []string
}

// ProductFilter narrows product listings.
type ProductFilter struct {
	IncludeInactive bool
}

// POFilter narrows purchase order listings.
type POFilter struct {
	ProductID     string
	IncludeClosed bool
}

// StockInFilter narrows stock in listings.
type StockInFilter struct {
	POID string
}

// StockOutFilter narrows stock out listings.
type StockOutFilter struct {
	POID           string
	InvoiceID      string
	UnassignedOnly bool
}

// Matches reports whether o passes the filter.
func (f StockOutFilter) Matches(o StockOut) bool {
	if f.POID != "" && o.POID != f.POID {
		return false
	}
	if f.InvoiceID != "" && o.InvoiceID != f.InvoiceID {
		return false
	}
	if f.UnassignedOnly && o.Invoiced() {
		return false
	}
	return true
}
