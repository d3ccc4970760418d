package ledger

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/samara-industry/stockledger/internal/audit"
	"github.com/samara-industry/stockledger/internal/shared"
)

// CreatePO opens a purchase order for an active product.
func (s *Service) CreatePO(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	const op = "create_po"
	po := PurchaseOrder{
		ProductID: input.ProductID,
		PONo:      strings.TrimSpace(input.PONo),
		POQty:     input.POQty,
		Active:    true,
	}
	if err := validatePO(po.PONo, po.POQty); err != nil {
		return PurchaseOrder{}, s.finish(op, err)
	}
	po.ID = s.newID()
	po.CreatedAt = s.now()
	err := s.command(ctx, op, []string{shared.POLockKey(po.ID)}, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetProduct(ctx, po.ProductID)
		if err != nil {
			return err
		}
		if !p.Active {
			return fmt.Errorf("%w: %s", ErrProductInactive, p.Code)
		}
		if err := s.ensurePONoFree(ctx, tx, po.PONo, ""); err != nil {
			return err
		}
		if err := tx.InsertPO(ctx, po); err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionPOCreated, audit.RefPO, po.ID, "PO %s created for %s, qty %d", po.PONo, p.Code, po.POQty)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// UpdatePO changes a purchase order's label and target quantity.
func (s *Service) UpdatePO(ctx context.Context, input UpdatePOInput) (PurchaseOrder, error) {
	const op = "update_po"
	poNo := strings.TrimSpace(input.PONo)
	if err := validatePO(poNo, input.POQty); err != nil {
		return PurchaseOrder{}, s.finish(op, err)
	}
	var updated PurchaseOrder
	err := s.command(ctx, op, []string{shared.POLockKey(input.ID)}, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockPO(ctx, input.ID)
		if err != nil {
			return err
		}
		if err := s.ensurePONoFree(ctx, tx, poNo, current.ID); err != nil {
			return err
		}
		updated = current
		updated.PONo, updated.POQty = poNo, input.POQty
		if err := tx.UpdatePO(ctx, updated); err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionPOUpdated, audit.RefPO, updated.ID, "PO %s updated: qty %d -> %d", updated.PONo, current.POQty, updated.POQty)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return updated, nil
}

// ClosePO soft deletes a purchase order. New receipts and dispatches are refused afterwards.
func (s *Service) ClosePO(ctx context.Context, id string) (PurchaseOrder, error) {
	const op = "close_po"
	var updated PurchaseOrder
	err := s.command(ctx, op, []string{shared.POLockKey(id)}, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockPO(ctx, id)
		if err != nil {
			return err
		}
		updated = current
		updated.Active = false
		if err := tx.UpdatePO(ctx, updated); err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionPOClosed, audit.RefPO, updated.ID, "PO %s closed", updated.PONo)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return updated, nil
}

func validatePO(poNo string, qty int64) error {
	if err := required("po_no", poNo); err != nil {
		return err
	}
	return positive(qty)
}

func (s *Service) ensurePONoFree(ctx context.Context, tx TxRepository, poNo, exceptID string) error {
	taken, err := tx.PONoTaken(ctx, poNo, exceptID)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: %s", ErrDuplicatePONo, poNo)
	}
	return nil
}

// GetPO returns a purchase order with its derived quantities.
func (s *Service) GetPO(ctx context.Context, id string) (POView, error) {
	po, err := s.repo.GetPO(ctx, id)
	if err != nil {
		return POView{}, err
	}
	var (
		product Product
		ins     []StockIn
		outs    []StockOut
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		product, err = s.repo.GetProduct(gctx, po.ProductID)
		return err
	})
	g.Go(func() (err error) {
		ins, err = s.repo.ListStockIns(gctx, StockInFilter{POID: id})
		return err
	})
	g.Go(func() (err error) {
		outs, err = s.repo.ListStockOuts(gctx, StockOutFilter{POID: id})
		return err
	})
	if err := g.Wait(); err != nil {
		return POView{}, err
	}
	return BuildPOView(po, product.Code, ins, outs), nil
}

// ListPOs lists purchase orders with derived quantities, oldest first.
func (s *Service) ListPOs(ctx context.Context, filter POFilter) ([]POView, error) {
	var (
		pos      []PurchaseOrder
		products []Product
		ins      []StockIn
		outs     []StockOut
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		pos, err = s.repo.ListPOs(gctx, filter)
		return err
	})
	g.Go(func() (err error) {
		products, err = s.repo.ListProducts(gctx, ProductFilter{IncludeInactive: true})
		return err
	})
	g.Go(func() (err error) {
		ins, err = s.repo.ListStockIns(gctx, StockInFilter{})
		return err
	})
	g.Go(func() (err error) {
		outs, err = s.repo.ListStockOuts(gctx, StockOutFilter{})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	codes := make(map[string]string, len(products))
	for _, p := range products {
		codes[p.ID] = p.Code
	}
	views := make([]POView, 0, len(pos))
	for _, po := range pos {
		views = append(views, BuildPOView(po, codes[po.ProductID], ins, outs))
	}
	return views, nil
}
