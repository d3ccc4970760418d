package ledger

import "github.com/shopspring/decimal"

// ProductRequest is the body of product create and update.
type ProductRequest struct {
	Name string          `json:"name" validate:"required,max=200"`
	Code string          `json:"code" validate:"required,max=64"`
	Rate decimal.Decimal `json:"rate"`
}

// MaterialRequest is the body of material creation.
type MaterialRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

// CreatePORequest is the body of purchase order creation.
type CreatePORequest struct {
	ProductID string `json:"product_id" validate:"required"`
	PONo      string `json:"po_no" validate:"required,max=64"`
	POQty     int64  `json:"po_qty" validate:"gt=0"`
}

// UpdatePORequest is the body of purchase order update.
type UpdatePORequest struct {
	PONo  string `json:"po_no" validate:"required,max=64"`
	POQty int64  `json:"po_qty" validate:"gt=0"`
}

// StockInRequest is the body of a receipt.
type StockInRequest struct {
	POID string `json:"po_id" validate:"required"`
	Date Date   `json:"date"`
	Qty  int64  `json:"qty" validate:"gt=0"`
	Note string `json:"note" validate:"max=500"`
}

// StockOutRequest is the body of a dispatch.
type StockOutRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	POID      string `json:"po_id" validate:"required"`
	Date      Date   `json:"date"`
	Qty       int64  `json:"qty" validate:"gt=0"`
	Note      string `json:"note" validate:"max=500"`
}

// EditEntryRequest is the body of a receipt or dispatch edit.
type EditEntryRequest struct {
	Date Date   `json:"date"`
	Qty  int64  `json:"qty" validate:"gt=0"`
	Note string `json:"note" validate:"max=500"`
}

// GenerateInvoiceRequest is the body of invoice generation. Empty invoice_no is auto-numbered.
type GenerateInvoiceRequest struct {
	InvoiceNo string   `json:"invoice_no" validate:"max=64"`
	Date      Date     `json:"date"`
	OutIDs    []string `json:"out_ids" validate:"required,min=1,dive,required"`
}

// InvoiceItemsRequest is the body of adding lines to an invoice.
type InvoiceItemsRequest struct {
	OutIDs []string `json:"out_ids" validate:"required,min=1,dive,required"`
}

// InvoiceStatusRequest is the body of a status change.
type InvoiceStatusRequest struct {
	Status string `json:"status" validate:"required"`
}
