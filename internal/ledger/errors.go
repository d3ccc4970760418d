package ledger

import (
	"fmt"

	"github.com/samara-industry/stockledger/internal/shared"
)

// Lookup errors.
var (
	ErrProductNotFound  = fmt.Errorf("%w: product", shared.ErrNotFound)
	ErrMaterialNotFound = fmt.Errorf("%w: material", shared.ErrNotFound)
	ErrPONotFound       = fmt.Errorf("%w: purchase order", shared.ErrNotFound)
	ErrStockInNotFound  = fmt.Errorf("%w: stock in", shared.ErrNotFound)
	ErrStockOutNotFound = fmt.Errorf("%w: stock out", shared.ErrNotFound)
	ErrInvoiceNotFound  = fmt.Errorf("%w: invoice", shared.ErrNotFound)
	// ErrItemNotOnInvoice is returned when removing a stock out that is not a line of the invoice.
	ErrItemNotOnInvoice = fmt.Errorf("%w: stock out is not on this invoice", shared.ErrNotFound)
)

// Validation errors.
var (
	ErrInvalidQuantity  = fmt.Errorf("%w: quantity must be greater than zero", shared.ErrValidation)
	ErrInvalidRate      = fmt.Errorf("%w: rate must not be negative", shared.ErrValidation)
	ErrInvalidDate      = fmt.Errorf("%w: invalid date", shared.ErrValidation)
	ErrInvalidStatus    = fmt.Errorf("%w: unknown invoice status", shared.ErrValidation)
	ErrRequiredField    = fmt.Errorf("%w: required field missing", shared.ErrValidation)
	ErrEmptyLines       = fmt.Errorf("%w: at least one stock out is required", shared.ErrValidation)
	ErrDuplicateLine    = fmt.Errorf("%w: stock out listed twice", shared.ErrValidation)
	ErrProductInactive  = fmt.Errorf("%w: product is deactivated", shared.ErrValidation)
	ErrPOClosed         = fmt.Errorf("%w: purchase order is closed", shared.ErrValidation)
	ErrQuantityOverflow = fmt.Errorf("%w: total quantity out of range", shared.ErrValidation)
)

// Business rule errors.
var (
	ErrProductMismatch  = fmt.Errorf("%w: product does not match purchase order", shared.ErrMismatch)
	ErrNegativeStock    = fmt.Errorf("%w: stock on hand would become negative", shared.ErrInvariant)
	ErrAlreadyInvoiced  = fmt.Errorf("%w: stock out already invoiced", shared.ErrConflict)
	ErrDuplicateCode    = fmt.Errorf("%w: product code already used", shared.ErrConflict)
	ErrDuplicatePONo    = fmt.Errorf("%w: po number already used", shared.ErrConflict)
	ErrDuplicateInvoice = fmt.Errorf("%w: invoice number already used", shared.ErrConflict)
	ErrInvoicePrinted   = fmt.Errorf("%w: invoice is printed", shared.ErrState)
	ErrIllegalStatus    = fmt.Errorf("%w: status transition not allowed", shared.ErrState)
)
