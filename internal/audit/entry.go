package audit

import (
	"fmt"
	"time"
)

// Action tags recorded by the ledger.
const (
	ActionProductCreated     = "PRODUCT_CREATED"
	ActionProductUpdated     = "PRODUCT_UPDATED"
	ActionProductDeactivated = "PRODUCT_DEACTIVATED"
	ActionMaterialAdded      = "MATERIAL_ADDED"
	ActionMaterialRemoved    = "MATERIAL_REMOVED"
	ActionPOCreated          = "PO_CREATED"
	ActionPOUpdated          = "PO_UPDATED"
	ActionPOClosed           = "PO_CLOSED"
	ActionStockInRecorded    = "STOCK_IN_RECORDED"
	ActionStockInEdited      = "STOCK_IN_EDITED"
	ActionStockInDeleted     = "STOCK_IN_DELETED"
	ActionStockOutRecorded   = "STOCK_OUT_RECORDED"
	ActionStockOutEdited     = "STOCK_OUT_EDITED"
	ActionStockOutDeleted    = "STOCK_OUT_DELETED"
	ActionInvoiceGenerated   = "INVOICE_GENERATED"
	ActionInvoiceItemsAdded  = "INVOICE_ITEMS_ADDED"
	ActionInvoiceItemRemoved = "INVOICE_ITEM_REMOVED"
	ActionInvoiceStatus      = "INVOICE_STATUS_CHANGED"
)

// Reference types naming the entity an entry is about.
const (
	RefProduct  = "product"
	RefMaterial = "material"
	RefPO       = "po"
	RefStockIn  = "stock_in"
	RefStockOut = "stock_out"
	RefInvoice  = "invoice"
)

// NewEntry builds an entry stamped at the given time. The store assigns ID on append.
func NewEntry(at time.Time, actor, action, refType, refID, details string) Entry {
	return Entry{
		At:      at.UTC(),
		Action:  action,
		Actor:   actor,
		Details: details,
		RefType: refType,
		RefID:   refID,
	}
}

// Validate reports whether the entry has the fields every record needs.
func (e Entry) Validate() error {
	if e.Action == "" || e.RefType == "" || e.RefID == "" {
		return fmt.Errorf("audit: entry requires action/ref_type/ref_id")
	}
	if e.At.IsZero() {
		return fmt.Errorf("audit: entry requires timestamp")
	}
	return nil
}

// Matches reports whether the entry satisfies q's filters. Paging is ignored.
func (e Entry) Matches(q Query) bool {
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	if q.RefType != "" && e.RefType != q.RefType {
		return false
	}
	if q.RefID != "" && e.RefID != q.RefID {
		return false
	}
	if q.Actor != "" && e.Actor != q.Actor {
		return false
	}
	return true
}
