package ledger

import (
	"math"

	"github.com/shopspring/decimal"
)

// TotalIn sums receipts recorded against poID.
func TotalIn(ins []StockIn, poID string) int64 {
	var total int64
	for _, in := range ins {
		if in.POID == poID {
			total += in.Qty
		}
	}
	return total
}

// TotalOut sums dispatches recorded against poID.
func TotalOut(outs []StockOut, poID string) int64 {
	var total int64
	for _, out := range outs {
		if out.POID == poID {
			total += out.Qty
		}
	}
	return total
}

// addQty returns a+b for non-negative b, or false when the sum leaves int64.
func addQty(a, b int64) (int64, bool) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

// StockOnHand is received minus dispatched, clamped at zero for display.
func StockOnHand(ins []StockIn, outs []StockOut, poID string) int64 {
	return max(0, TotalIn(ins, poID)-TotalOut(outs, poID))
}

// Pending is the quantity still to be received against the PO target.
func Pending(po PurchaseOrder, ins []StockIn) int64 {
	return max(0, po.POQty-TotalIn(ins, po.ID))
}

// LineAmount prices qty units at rate.
func LineAmount(qty int64, rate decimal.Decimal) decimal.Decimal {
	return rate.Mul(decimal.NewFromInt(qty))
}

// InvoiceTotal sums qty x rate over lines. Missing products price at zero.
func InvoiceTotal(lines []StockOut, rates map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(LineAmount(line.Qty, rates[line.ProductID]))
	}
	return total
}

// BuildPOView derives the quantity columns of po from the given ledgers.
func BuildPOView(po PurchaseOrder, productCode string, ins []StockIn, outs []StockOut) POView {
	return POView{
		PurchaseOrder: po,
		ProductCode:   productCode,
		TotalIn:       TotalIn(ins, po.ID),
		TotalOut:      TotalOut(outs, po.ID),
		StockOnHand:   StockOnHand(ins, outs, po.ID),
		Pending:       Pending(po, ins),
	}
}
