package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/samara-industry/stockledger/internal/audit"
	"github.com/samara-industry/stockledger/internal/shared"
)

// InvoiceNoFormat renders generated invoice numbers from the store sequence.
const InvoiceNoFormat = "SI-%05d"

// GenerateInvoice creates a Draft invoice and attaches every named stock out to it.
func (s *Service) GenerateInvoice(ctx context.Context, input GenerateInvoiceInput) (InvoiceView, error) {
	const op = "generate_invoice"
	outIDs, err := normalizeOutIDs(input.OutIDs)
	if err != nil {
		return InvoiceView{}, s.finish(op, err)
	}
	inv := Invoice{
		ID:        s.newID(),
		InvoiceNo: strings.TrimSpace(input.InvoiceNo),
		Date:      s.dateOrToday(input.Date),
		Status:    StatusDraft,
		CreatedAt: s.now(),
	}
	err = s.command(ctx, op, []string{shared.InvoiceLockKey(inv.ID)}, func(ctx context.Context, tx TxRepository) error {
		for _, id := range outIDs {
			out, err := tx.LockStockOut(ctx, id)
			if err != nil {
				return fmt.Errorf("%w: %s", err, id)
			}
			if out.Invoiced() {
				return fmt.Errorf("%w: %s", ErrAlreadyInvoiced, id)
			}
		}
		no, err := s.invoiceNo(ctx, tx, inv.InvoiceNo)
		if err != nil {
			return err
		}
		inv.InvoiceNo = no
		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}
		for _, id := range outIDs {
			if err := tx.AttachStockOut(ctx, id, inv.ID); err != nil {
				return fmt.Errorf("%w: %s", err, id)
			}
		}
		return s.record(ctx, tx, audit.ActionInvoiceGenerated, audit.RefInvoice, inv.ID, "Invoice %s generated with %d items", inv.InvoiceNo, len(outIDs))
	})
	if err != nil {
		return InvoiceView{}, err
	}
	return s.GetInvoice(ctx, inv.ID)
}

func (s *Service) invoiceNo(ctx context.Context, tx TxRepository, requested string) (string, error) {
	if requested != "" {
		taken, err := tx.InvoiceNoTaken(ctx, requested)
		if err != nil {
			return "", err
		}
		if taken {
			return "", fmt.Errorf("%w: %s", ErrDuplicateInvoice, requested)
		}
		return requested, nil
	}
	for {
		seq, err := tx.NextInvoiceSeq(ctx)
		if err != nil {
			return "", err
		}
		no := fmt.Sprintf(InvoiceNoFormat, seq)
		taken, err := tx.InvoiceNoTaken(ctx, no)
		if err != nil {
			return "", err
		}
		if !taken {
			return no, nil
		}
	}
}

// AddInvoiceItems attaches unassigned stock outs to a Draft or Ready invoice.
// Items already on this invoice are left as they are.
func (s *Service) AddInvoiceItems(ctx context.Context, invoiceID string, ids []string) (InvoiceView, error) {
	const op = "add_invoice_items"
	outIDs, err := normalizeOutIDs(ids)
	if err != nil {
		return InvoiceView{}, s.finish(op, err)
	}
	err = s.command(ctx, op, []string{shared.InvoiceLockKey(invoiceID)}, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if !inv.Status.CanEditLines() {
			return fmt.Errorf("%w: %s", ErrInvoicePrinted, inv.InvoiceNo)
		}
		added := 0
		for _, id := range outIDs {
			out, err := tx.LockStockOut(ctx, id)
			if err != nil {
				return fmt.Errorf("%w: %s", err, id)
			}
			if out.InvoiceID == inv.ID {
				continue
			}
			if out.Invoiced() {
				return fmt.Errorf("%w: %s", ErrAlreadyInvoiced, id)
			}
			if err := tx.AttachStockOut(ctx, id, inv.ID); err != nil {
				return fmt.Errorf("%w: %s", err, id)
			}
			added++
		}
		return s.record(ctx, tx, audit.ActionInvoiceItemsAdded, audit.RefInvoice, inv.ID, "%d items added to invoice %s", added, inv.InvoiceNo)
	})
	if err != nil {
		return InvoiceView{}, err
	}
	return s.GetInvoice(ctx, invoiceID)
}

// RemoveInvoiceItem returns a stock out to the unassigned pool. The stock out itself is kept.
func (s *Service) RemoveInvoiceItem(ctx context.Context, invoiceID, outID string) (InvoiceView, error) {
	const op = "remove_invoice_item"
	err := s.command(ctx, op, []string{shared.InvoiceLockKey(invoiceID)}, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if !inv.Status.CanEditLines() {
			return fmt.Errorf("%w: %s", ErrInvoicePrinted, inv.InvoiceNo)
		}
		out, err := tx.LockStockOut(ctx, outID)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		if err != nil || out.InvoiceID != inv.ID {
			return fmt.Errorf("%w: %s", ErrItemNotOnInvoice, outID)
		}
		if err := tx.DetachStockOut(ctx, outID, inv.ID); err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionInvoiceItemRemoved, audit.RefInvoice, inv.ID, "OUT qty %d removed from invoice %s", out.Qty, inv.InvoiceNo)
	})
	if err != nil {
		return InvoiceView{}, err
	}
	return s.GetInvoice(ctx, invoiceID)
}

// SetInvoiceStatus moves an invoice to next. Printed is terminal; printing
// an already Printed invoice is a reprint. Every print increments PrintCount.
func (s *Service) SetInvoiceStatus(ctx context.Context, invoiceID string, next InvoiceStatus) (InvoiceView, error) {
	const op = "set_invoice_status"
	if !next.IsValid() {
		return InvoiceView{}, s.finish(op, fmt.Errorf("%w: %q", ErrInvalidStatus, next))
	}
	err := s.command(ctx, op, []string{shared.InvoiceLockKey(invoiceID)}, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		prev := inv.Status
		if !prev.CanTransition(next) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalStatus, prev, next)
		}
		inv.Status = next
		if next == StatusPrinted {
			inv.PrintCount++
		}
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionInvoiceStatus, audit.RefInvoice, inv.ID, "Invoice %s status %s -> %s", inv.InvoiceNo, prev, next)
	})
	if err != nil {
		return InvoiceView{}, err
	}
	return s.GetInvoice(ctx, invoiceID)
}

// normalizeOutIDs trims ids and rejects empty or repeated lists.
func normalizeOutIDs(ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("%w: out_id", ErrRequiredField)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateLine, id)
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, ErrEmptyLines
	}
	return out, nil
}

// GetInvoice returns an invoice priced at current product rates.
func (s *Service) GetInvoice(ctx context.Context, id string) (InvoiceView, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return InvoiceView{}, err
	}
	lines, err := s.repo.ListStockOuts(ctx, StockOutFilter{InvoiceID: id})
	if err != nil {
		return InvoiceView{}, err
	}
	products, err := s.productIndex(ctx)
	if err != nil {
		return InvoiceView{}, err
	}
	return BuildInvoiceView(inv, lines, products), nil
}

// ListInvoices lists invoices newest first, each with derived totals.
func (s *Service) ListInvoices(ctx context.Context) ([]InvoiceView, error) {
	invoices, err := s.repo.ListInvoices(ctx)
	if err != nil {
		return nil, err
	}
	outs, err := s.repo.ListStockOuts(ctx, StockOutFilter{})
	if err != nil {
		return nil, err
	}
	products, err := s.productIndex(ctx)
	if err != nil {
		return nil, err
	}
	byInvoice := make(map[string][]StockOut)
	for _, o := range outs {
		if o.Invoiced() {
			byInvoice[o.InvoiceID] = append(byInvoice[o.InvoiceID], o)
		}
	}
	views := make([]InvoiceView, 0, len(invoices))
	for _, inv := range invoices {
		views = append(views, BuildInvoiceView(inv, byInvoice[inv.ID], products))
	}
	return views, nil
}

func (s *Service) productIndex(ctx context.Context) (map[string]Product, error) {
	products, err := s.repo.ListProducts(ctx, ProductFilter{IncludeInactive: true})
	if err != nil {
		return nil, err
	}
	index := make(map[string]Product, len(products))
	for _, p := range products {
		index[p.ID] = p
	}
	return index, nil
}

// BuildInvoiceView prices lines at their product's rate and derives totals.
func BuildInvoiceView(inv Invoice, lines []StockOut, products map[string]Product) InvoiceView {
	view := InvoiceView{Invoice: inv, Lines: make([]InvoiceLine, 0, len(lines)), Total: decimal.Zero}
	rates := make(map[string]decimal.Decimal, len(products))
	for id, p := range products {
		rates[id] = p.Rate
	}
	for _, line := range lines {
		p := products[line.ProductID]
		view.Lines = append(view.Lines, InvoiceLine{
			StockOut:    line,
			ProductCode: p.Code,
			Rate:        p.Rate,
			Amount:      LineAmount(line.Qty, p.Rate),
		})
		view.TotalQty += line.Qty
	}
	view.Total = InvoiceTotal(lines, rates)
	return view
}
