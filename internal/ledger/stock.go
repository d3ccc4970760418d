package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/samara-industry/stockledger/internal/audit"
	"github.com/samara-industry/stockledger/internal/shared"
)

// RecordStockIn books a receipt against an open purchase order.
func (s *Service) RecordStockIn(ctx context.Context, input StockInInput) (StockIn, error) {
	const op = "record_stock_in"
	if err := positive(input.Qty); err != nil {
		return StockIn{}, s.finish(op, err)
	}
	in := StockIn{
		ID:        s.newID(),
		POID:      input.POID,
		Date:      s.dateOrToday(input.Date),
		Qty:       input.Qty,
		Note:      strings.TrimSpace(input.Note),
		CreatedAt: s.now(),
	}
	err := s.command(ctx, op, []string{shared.POLockKey(in.POID)}, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, in.POID)
		if err != nil {
			return err
		}
		if !po.Active {
			return fmt.Errorf("%w: %s", ErrPOClosed, po.PONo)
		}
		if err := s.checkReceiptChange(ctx, tx, po, 0, in.Qty); err != nil {
			return err
		}
		if err := tx.InsertStockIn(ctx, in); err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionStockInRecorded, audit.RefStockIn, in.ID, "IN qty %d on %s for PO %s", in.Qty, in.Date, po.PONo)
	})
	if err != nil {
		return StockIn{}, err
	}
	return in, nil
}

// EditStockIn replaces a receipt's date, quantity and note. Lowering the
// quantity below what the PO already dispatched is refused.
func (s *Service) EditStockIn(ctx context.Context, input EditStockInInput) (StockIn, error) {
	const op = "edit_stock_in"
	if err := positive(input.Qty); err != nil {
		return StockIn{}, s.finish(op, err)
	}
	existing, err := s.repo.GetStockIn(ctx, input.ID)
	if err != nil {
		return StockIn{}, s.finish(op, err)
	}
	var updated StockIn
	err = s.command(ctx, op, []string{shared.POLockKey(existing.POID)}, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, existing.POID)
		if err != nil {
			return err
		}
		current, err := tx.GetStockIn(ctx, input.ID)
		if err != nil {
			return err
		}
		if err := s.checkReceiptChange(ctx, tx, po, current.Qty, input.Qty); err != nil {
			return err
		}
		updated = current
		updated.Date = s.dateOrToday(input.Date)
		updated.Qty = input.Qty
		updated.Note = strings.TrimSpace(input.Note)
		updated.Edited = true
		if err := tx.UpdateStockIn(ctx, updated); err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionStockInEdited, audit.RefStockIn, updated.ID, "IN for PO %s edited: qty %d -> %d", po.PONo, current.Qty, updated.Qty)
	})
	if err != nil {
		return StockIn{}, err
	}
	return updated, nil
}

// DeleteStockIn removes a receipt unless the PO has already dispatched it.
func (s *Service) DeleteStockIn(ctx context.Context, id string) error {
	const op = "delete_stock_in"
	existing, err := s.repo.GetStockIn(ctx, id)
	if err != nil {
		return s.finish(op, err)
	}
	return s.command(ctx, op, []string{shared.POLockKey(existing.POID)}, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, existing.POID)
		if err != nil {
			return err
		}
		current, err := tx.GetStockIn(ctx, id)
		if err != nil {
			return err
		}
		if err := s.checkReceiptChange(ctx, tx, po, current.Qty, 0); err != nil {
			return err
		}
		if err := tx.DeleteStockIn(ctx, id); err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionStockInDeleted, audit.RefStockIn, id, "IN qty %d for PO %s deleted", current.Qty, po.PONo)
	})
}

// checkReceiptChange refuses replacing oldQty by newQty when receipts would fall
// below dispatches or overflow the PO total.
func (s *Service) checkReceiptChange(ctx context.Context, tx TxRepository, po PurchaseOrder, oldQty, newQty int64) error {
	ins, err := tx.ListStockIns(ctx, StockInFilter{POID: po.ID})
	if err != nil {
		return err
	}
	outs, err := tx.ListStockOuts(ctx, StockOutFilter{POID: po.ID})
	if err != nil {
		return err
	}
	totalIn, ok := addQty(TotalIn(ins, po.ID)-oldQty, newQty)
	if !ok {
		return fmt.Errorf("%w: PO %s cannot receive %d more", ErrQuantityOverflow, po.PONo, newQty-oldQty)
	}
	totalOut := TotalOut(outs, po.ID)
	if totalIn < totalOut {
		return fmt.Errorf("%w: PO %s would receive %d but has dispatched %d", ErrNegativeStock, po.PONo, totalIn, totalOut)
	}
	return nil
}

// RecordStockOut books a dispatch. The new row is unassigned to any invoice.
func (s *Service) RecordStockOut(ctx context.Context, input StockOutInput) (StockOut, error) {
	const op = "record_stock_out"
	if err := positive(input.Qty); err != nil {
		return StockOut{}, s.finish(op, err)
	}
	out := StockOut{
		ID:        s.newID(),
		ProductID: input.ProductID,
		POID:      input.POID,
		Date:      s.dateOrToday(input.Date),
		Qty:       input.Qty,
		Note:      strings.TrimSpace(input.Note),
		CreatedAt: s.now(),
	}
	err := s.command(ctx, op, []string{shared.POLockKey(out.POID)}, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetProduct(ctx, out.ProductID)
		if err != nil {
			return err
		}
		po, err := tx.LockPO(ctx, out.POID)
		if err != nil {
			return err
		}
		if po.ProductID != p.ID {
			return fmt.Errorf("%w: PO %s is not for %s", ErrProductMismatch, po.PONo, p.Code)
		}
		if !po.Active {
			return fmt.Errorf("%w: %s", ErrPOClosed, po.PONo)
		}
		if err := s.checkDispatch(ctx, tx, po, 0, out.Qty); err != nil {
			return err
		}
		if err := tx.InsertStockOut(ctx, out); err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionStockOutRecorded, audit.RefStockOut, out.ID, "OUT qty %d of %s on %s for PO %s", out.Qty, p.Code, out.Date, po.PONo)
	})
	if err != nil {
		return StockOut{}, err
	}
	return out, nil
}

// EditStockOut replaces an unassigned dispatch's date, quantity and note.
func (s *Service) EditStockOut(ctx context.Context, input EditStockOutInput) (StockOut, error) {
	const op = "edit_stock_out"
	if err := positive(input.Qty); err != nil {
		return StockOut{}, s.finish(op, err)
	}
	existing, err := s.repo.GetStockOut(ctx, input.ID)
	if err != nil {
		return StockOut{}, s.finish(op, err)
	}
	var updated StockOut
	err = s.command(ctx, op, []string{shared.POLockKey(existing.POID)}, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, existing.POID)
		if err != nil {
			return err
		}
		current, err := tx.LockStockOut(ctx, input.ID)
		if err != nil {
			return err
		}
		if current.Invoiced() {
			return fmt.Errorf("%w: detach from invoice first", ErrAlreadyInvoiced)
		}
		if err := s.checkDispatch(ctx, tx, po, current.Qty, input.Qty); err != nil {
			return err
		}
		updated = current
		updated.Date = s.dateOrToday(input.Date)
		updated.Qty = input.Qty
		updated.Note = strings.TrimSpace(input.Note)
		if err := tx.UpdateStockOut(ctx, updated); err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionStockOutEdited, audit.RefStockOut, updated.ID, "OUT for PO %s edited: qty %d -> %d", po.PONo, current.Qty, updated.Qty)
	})
	if err != nil {
		return StockOut{}, err
	}
	return updated, nil
}

// DeleteStockOut removes an unassigned dispatch.
func (s *Service) DeleteStockOut(ctx context.Context, id string) error {
	const op = "delete_stock_out"
	existing, err := s.repo.GetStockOut(ctx, id)
	if err != nil {
		return s.finish(op, err)
	}
	return s.command(ctx, op, []string{shared.POLockKey(existing.POID)}, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, existing.POID)
		if err != nil {
			return err
		}
		current, err := tx.LockStockOut(ctx, id)
		if err != nil {
			return err
		}
		if current.Invoiced() {
			return fmt.Errorf("%w: detach from invoice first", ErrAlreadyInvoiced)
		}
		if err := tx.DeleteStockOut(ctx, id); err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionStockOutDeleted, audit.RefStockOut, id, "OUT qty %d for PO %s deleted", current.Qty, po.PONo)
	})
}

// checkDispatch refuses replacing a dispatch of oldQty by newQty when it exceeds stock on hand.
func (s *Service) checkDispatch(ctx context.Context, tx TxRepository, po PurchaseOrder, oldQty, newQty int64) error {
	ins, err := tx.ListStockIns(ctx, StockInFilter{POID: po.ID})
	if err != nil {
		return err
	}
	outs, err := tx.ListStockOuts(ctx, StockOutFilter{POID: po.ID})
	if err != nil {
		return err
	}
	available := TotalIn(ins, po.ID) - TotalOut(outs, po.ID) + oldQty
	if newQty > available {
		return fmt.Errorf("%w: PO %s has %d on hand, requested %d", ErrNegativeStock, po.PONo, available, newQty)
	}
	return nil
}

func (s *Service) dateOrToday(d Date) Date {
	if d.IsZero() {
		return s.today()
	}
	return DateOf(d.Time)
}

// ListStockIns lists receipts, oldest first.
func (s *Service) ListStockIns(ctx context.Context, filter StockInFilter) ([]StockIn, error) {
	if filter.POID != "" {
		if _, err := s.repo.GetPO(ctx, filter.POID); err != nil {
			return nil, err
		}
	}
	return s.repo.ListStockIns(ctx, filter)
}

// ListStockOuts lists dispatches, newest first.
func (s *Service) ListStockOuts(ctx context.Context, filter StockOutFilter) ([]StockOut, error) {
	return s.repo.ListStockOuts(ctx, filter)
}
