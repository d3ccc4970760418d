package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samara-industry/stockledger/internal/audit"
)

func TestMemoryStoreRollsBackFailedTx(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		require.NoError(t, tx.InsertProduct(ctx, Product{ID: "p", Code: "P", Active: true}))
		_, err := tx.AppendAudit(ctx, audit.NewEntry(time.Now(), "admin", audit.ActionProductCreated, audit.RefProduct, "p", "created"))
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetProduct(ctx, "p")
	require.ErrorIs(t, err, ErrProductNotFound)
	entries, err := store.ListAuditEntries(ctx, audit.Query{})
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestMemoryStoreAttachDetach(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertStockOut(ctx, StockOut{ID: "o", POID: "po", Qty: 1}); err != nil {
			return err
		}
		return tx.AttachStockOut(ctx, "o", "inv")
	}))

	err := store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.AttachStockOut(ctx, "o", "other")
	})
	require.ErrorIs(t, err, ErrAlreadyInvoiced)

	err = store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.DetachStockOut(ctx, "o", "other")
	})
	require.ErrorIs(t, err, ErrItemNotOnInvoice)

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.DetachStockOut(ctx, "o", "inv")
	}))
	out, err := store.GetStockOut(ctx, "o")
	require.NoError(t, err)
	require.False(t, out.Invoiced())
}

func TestMemoryStoreAuditPaging(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for i := 0; i < 5; i++ {
			refType := audit.RefPO
			if i%2 == 0 {
				refType = audit.RefStockIn
			}
			if _, err := tx.AppendAudit(ctx, audit.NewEntry(at.Add(time.Duration(i)*time.Minute), "admin", audit.ActionPOCreated, refType, "r", "x")); err != nil {
				return err
			}
		}
		return nil
	}))

	page, err := store.ListAuditEntries(ctx, audit.Query{Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, int64(4), page[0].ID)
	require.Equal(t, int64(3), page[1].ID)

	filtered, err := store.ListAuditEntries(ctx, audit.Query{RefType: audit.RefStockIn})
	require.NoError(t, err)
	require.Len(t, filtered, 3)
	require.Equal(t, int64(5), filtered[0].ID)

	err = store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := tx.AppendAudit(ctx, audit.Entry{Action: audit.ActionPOCreated})
		return err
	})
	require.Error(t, err)
}

func TestMemoryStoreOrdering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	day := func(d int) Date { return DateOf(time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)) }
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for i, d := range []int{3, 1, 2} {
			created := base.Add(time.Duration(i) * time.Second)
			if err := tx.InsertStockIn(ctx, StockIn{ID: string(rune('a' + i)), POID: "po", Date: day(d), Qty: 1, CreatedAt: created}); err != nil {
				return err
			}
			if err := tx.InsertStockOut(ctx, StockOut{ID: string(rune('a' + i)), POID: "po", Date: day(d), Qty: 1, CreatedAt: created}); err != nil {
				return err
			}
		}
		if err := tx.InsertInvoice(ctx, Invoice{ID: "i1", InvoiceNo: "SI-00001", Date: day(2)}); err != nil {
			return err
		}
		return tx.InsertInvoice(ctx, Invoice{ID: "i2", InvoiceNo: "SI-00002", Date: day(2)})
	}))

	ins, err := store.ListStockIns(ctx, StockInFilter{POID: "po"})
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c", "a"}, []string{ins[0].ID, ins[1].ID, ins[2].ID})

	outs, err := store.ListStockOuts(ctx, StockOutFilter{})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c", "b"}, []string{outs[0].ID, outs[1].ID, outs[2].ID})

	invoices, err := store.ListInvoices(ctx)
	require.NoError(t, err)
	require.Equal(t, "SI-00002", invoices[0].InvoiceNo)
}
