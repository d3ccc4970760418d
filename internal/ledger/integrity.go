package ledger

import (
	"context"
	"fmt"

	"github.com/samara-industry/stockledger/internal/audit"
)

// Integrity issue kinds.
const (
	IssueMissingPO       = "missing_po"
	IssueProductMismatch = "product_mismatch"
	IssueNegativeStock   = "negative_stock"
	IssueMissingInvoice  = "missing_invoice"
)

// IntegrityIssue describes one ledger row breaking a store invariant.
type IntegrityIssue struct {
	Kind    string `json:"kind"`
	RefType string `json:"ref_type"`
	RefID   string `json:"ref_id"`
	Detail  string `json:"detail"`
}

// CheckIntegrity recomputes the ledger invariants over one consistent snapshot.
// A store written only through Service yields no issues.
func (s *Service) CheckIntegrity(ctx context.Context) ([]IntegrityIssue, error) {
	var issues []IntegrityIssue
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pos, err := tx.ListPOs(ctx, POFilter{IncludeClosed: true})
		if err != nil {
			return err
		}
		ins, err := tx.ListStockIns(ctx, StockInFilter{})
		if err != nil {
			return err
		}
		outs, err := tx.ListStockOuts(ctx, StockOutFilter{})
		if err != nil {
			return err
		}
		invoices, err := tx.ListInvoices(ctx)
		if err != nil {
			return err
		}
		issues = FindIntegrityIssues(pos, ins, outs, invoices)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: integrity check: %w", err)
	}
	return issues, nil
}

// FindIntegrityIssues checks references, per-PO stock on hand and invoice membership.
func FindIntegrityIssues(pos []PurchaseOrder, ins []StockIn, outs []StockOut, invoices []Invoice) []IntegrityIssue {
	var issues []IntegrityIssue
	poByID := make(map[string]PurchaseOrder, len(pos))
	for _, po := range pos {
		poByID[po.ID] = po
	}
	invoiceIDs := make(map[string]struct{}, len(invoices))
	for _, inv := range invoices {
		invoiceIDs[inv.ID] = struct{}{}
	}
	for _, in := range ins {
		if _, ok := poByID[in.POID]; !ok {
			issues = append(issues, IntegrityIssue{Kind: IssueMissingPO, RefType: audit.RefStockIn, RefID: in.ID, Detail: fmt.Sprintf("po %s not found", in.POID)})
		}
	}
	for _, out := range outs {
		po, ok := poByID[out.POID]
		switch {
		case !ok:
			issues = append(issues, IntegrityIssue{Kind: IssueMissingPO, RefType: audit.RefStockOut, RefID: out.ID, Detail: fmt.Sprintf("po %s not found", out.POID)})
		case po.ProductID != out.ProductID:
			issues = append(issues, IntegrityIssue{Kind: IssueProductMismatch, RefType: audit.RefStockOut, RefID: out.ID, Detail: fmt.Sprintf("product %s differs from po product %s", out.ProductID, po.ProductID)})
		}
		if out.Invoiced() {
			if _, ok := invoiceIDs[out.InvoiceID]; !ok {
				issues = append(issues, IntegrityIssue{Kind: IssueMissingInvoice, RefType: audit.RefStockOut, RefID: out.ID, Detail: fmt.Sprintf("invoice %s not found", out.InvoiceID)})
			}
		}
	}
	for _, po := range pos {
		totalIn, totalOut := TotalIn(ins, po.ID), TotalOut(outs, po.ID)
		if totalOut > totalIn {
			issues = append(issues, IntegrityIssue{Kind: IssueNegativeStock, RefType: audit.RefPO, RefID: po.ID, Detail: fmt.Sprintf("po %s dispatched %d of %d received", po.PONo, totalOut, totalIn)})
		}
	}
	return issues
}
