package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/samara-industry/stockledger/internal/audit"
	"github.com/samara-industry/stockledger/internal/platform/db"
	"github.com/samara-industry/stockledger/internal/shared"
)

// PostgresRepository persists the ledger in PostgreSQL.
type PostgresRepository struct {
	pgReader
	pool *pgxpool.Pool
}

// NewPostgresRepository constructs PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pgReader: pgReader{q: pool}, pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgReader struct {
	q querier
}

type pgTx struct {
	pgReader
}

// txAttempts bounds reruns of a transaction that lost a serialization race.
const txAttempts = 3

// WithTx executes the callback inside repeatable-read transaction. A
// serialization failure reruns fn on a fresh snapshot.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	var err error
	for attempt := 0; attempt < txAttempts; attempt++ {
		err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
			return fn(ctx, &pgTx{pgReader{q: tx}})
		})
		if !db.HasCode(err, db.CodeSerializationFailure) || ctx.Err() != nil {
			break
		}
	}
	return mapPgError(err)
}

func mapPgError(err error) error {
	switch {
	case err == nil:
		return nil
	case shared.IsDomainError(err):
		return err
	case db.HasCode(err, db.CodeUniqueViolation):
		return fmt.Errorf("%w: %v", shared.ErrConflict, err)
	case db.HasCode(err, db.CodeSerializationFailure):
		return fmt.Errorf("%w: concurrent update: %v", shared.ErrLockBusy, err)
	default:
		return err
	}
}

func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

const productColumns = `id, name, code, rate::text, active, created_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	var rate string
	if err := row.Scan(&p.ID, &p.Name, &p.Code, &rate, &p.Active, &p.CreatedAt); err != nil {
		return Product{}, err
	}
	parsed, err := decimal.NewFromString(rate)
	if err != nil {
		return Product{}, fmt.Errorf("ledger: parse rate %q: %w", rate, err)
	}
	p.Rate = parsed
	return p, nil
}

func (r pgReader) GetProduct(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(r.q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	return p, notFound(err, ErrProductNotFound)
}

func (r pgReader) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	rows, err := r.q.Query(ctx, `SELECT `+productColumns+` FROM products WHERE active OR $1 ORDER BY code`, filter.IncludeInactive)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanProduct)
}

const materialColumns = `id, product_id, name, active, created_at`

func scanMaterial(row pgx.Row) (Material, error) {
	var m Material
	err := row.Scan(&m.ID, &m.ProductID, &m.Name, &m.Active, &m.CreatedAt)
	return m, err
}

func (r pgReader) GetMaterial(ctx context.Context, id string) (Material, error) {
	m, err := scanMaterial(r.q.QueryRow(ctx, `SELECT `+materialColumns+` FROM materials WHERE id = $1`, id))
	return m, notFound(err, ErrMaterialNotFound)
}

func (r pgReader) ListMaterials(ctx context.Context, productID string) ([]Material, error) {
	rows, err := r.q.Query(ctx, `SELECT `+materialColumns+` FROM materials WHERE product_id = $1 AND active ORDER BY created_at, id`, productID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanMaterial)
}

const poColumns = `id, product_id, po_no, po_qty, active, created_at`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.ProductID, &po.PONo, &po.POQty, &po.Active, &po.CreatedAt)
	return po, err
}

func (r pgReader) GetPO(ctx context.Context, id string) (PurchaseOrder, error) {
	po, err := scanPO(r.q.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = $1`, id))
	return po, notFound(err, ErrPONotFound)
}

func (r pgReader) ListPOs(ctx context.Context, filter POFilter) ([]PurchaseOrder, error) {
	rows, err := r.q.Query(ctx, `SELECT `+poColumns+` FROM purchase_orders
		WHERE ($1 = '' OR product_id = $1) AND (active OR $2)
		ORDER BY created_at, id`, filter.ProductID, filter.IncludeClosed)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPO)
}

const stockInColumns = `id, po_id, entry_date, qty, note, edited, created_at`

func scanStockIn(row pgx.Row) (StockIn, error) {
	var in StockIn
	var date time.Time
	if err := row.Scan(&in.ID, &in.POID, &date, &in.Qty, &in.Note, &in.Edited, &in.CreatedAt); err != nil {
		return StockIn{}, err
	}
	in.Date = DateOf(date)
	return in, nil
}

func (r pgReader) GetStockIn(ctx context.Context, id string) (StockIn, error) {
	in, err := scanStockIn(r.q.QueryRow(ctx, `SELECT `+stockInColumns+` FROM stock_ins WHERE id = $1`, id))
	return in, notFound(err, ErrStockInNotFound)
}

func (r pgReader) ListStockIns(ctx context.Context, filter StockInFilter) ([]StockIn, error) {
	rows, err := r.q.Query(ctx, `SELECT `+stockInColumns+` FROM stock_ins
		WHERE ($1 = '' OR po_id = $1)
		ORDER BY entry_date, created_at, id`, filter.POID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanStockIn)
}

const stockOutColumns = `id, product_id, po_id, entry_date, qty, invoice_id, note, created_at`

func scanStockOut(row pgx.Row) (StockOut, error) {
	var out StockOut
	var date time.Time
	var invoiceID *string
	if err := row.Scan(&out.ID, &out.ProductID, &out.POID, &date, &out.Qty, &invoiceID, &out.Note, &out.CreatedAt); err != nil {
		return StockOut{}, err
	}
	out.Date = DateOf(date)
	if invoiceID != nil {
		out.InvoiceID = *invoiceID
	}
	return out, nil
}

func (r pgReader) GetStockOut(ctx context.Context, id string) (StockOut, error) {
	out, err := scanStockOut(r.q.QueryRow(ctx, `SELECT `+stockOutColumns+` FROM stock_outs WHERE id = $1`, id))
	return out, notFound(err, ErrStockOutNotFound)
}

func (r pgReader) ListStockOuts(ctx context.Context, filter StockOutFilter) ([]StockOut, error) {
	rows, err := r.q.Query(ctx, `SELECT `+stockOutColumns+` FROM stock_outs
		WHERE ($1 = '' OR po_id = $1)
		  AND ($2 = '' OR invoice_id = $2)
		  AND (NOT $3 OR invoice_id IS NULL)
		ORDER BY entry_date DESC, created_at DESC, id DESC`, filter.POID, filter.InvoiceID, filter.UnassignedOnly)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanStockOut)
}

const invoiceColumns = `id, invoice_no, invoice_date, status, print_count, created_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var date time.Time
	var status string
	if err := row.Scan(&inv.ID, &inv.InvoiceNo, &date, &status, &inv.PrintCount, &inv.CreatedAt); err != nil {
		return Invoice{}, err
	}
	inv.Date = DateOf(date)
	inv.Status = InvoiceStatus(status)
	return inv, nil
}

func (r pgReader) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	inv, err := scanInvoice(r.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	return inv, notFound(err, ErrInvoiceNotFound)
}

func (r pgReader) ListInvoices(ctx context.Context) ([]Invoice, error) {
	rows, err := r.q.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices ORDER BY invoice_date DESC, invoice_no DESC`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanInvoice)
}

func (r pgReader) ListAuditEntries(ctx context.Context, q audit.Query) ([]audit.Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("action", q.Action)
	add("ref_type", q.RefType)
	add("ref_id", q.RefID)
	add("actor", q.Actor)

	sql := `SELECT id, ts, action, actor, details, ref_type, ref_id FROM audit_log`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY id DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.Row) (audit.Entry, error) {
		var e audit.Entry
		err := row.Scan(&e.ID, &e.At, &e.Action, &e.Actor, &e.Details, &e.RefType, &e.RefID)
		return e, err
	})
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (tx *pgTx) exists(ctx context.Context, sql string, args ...any) (bool, error) {
	var found bool
	err := tx.q.QueryRow(ctx, `SELECT EXISTS(`+sql+`)`, args...).Scan(&found)
	return found, err
}

func (tx *pgTx) ProductCodeTaken(ctx context.Context, code, exceptID string) (bool, error) {
	return tx.exists(ctx, `SELECT 1 FROM products WHERE code = $1 AND id <> $2`, code, exceptID)
}

func (tx *pgTx) PONoTaken(ctx context.Context, poNo, exceptID string) (bool, error) {
	return tx.exists(ctx, `SELECT 1 FROM purchase_orders WHERE po_no = $1 AND id <> $2`, poNo, exceptID)
}

func (tx *pgTx) InvoiceNoTaken(ctx context.Context, invoiceNo string) (bool, error) {
	return tx.exists(ctx, `SELECT 1 FROM invoices WHERE invoice_no = $1`, invoiceNo)
}

// LockPO bumps the PO version instead of SELECT FOR UPDATE. Under repeatable
// read a row lock alone does not refresh the snapshot, the write conflict does.
func (tx *pgTx) LockPO(ctx context.Context, id string) (PurchaseOrder, error) {
	po, err := scanPO(tx.q.QueryRow(ctx, `UPDATE purchase_orders SET version = version + 1 WHERE id = $1 RETURNING `+poColumns, id))
	return po, notFound(err, ErrPONotFound)
}

func (tx *pgTx) LockStockOut(ctx context.Context, id string) (StockOut, error) {
	out, err := scanStockOut(tx.q.QueryRow(ctx, `SELECT `+stockOutColumns+` FROM stock_outs WHERE id = $1 FOR UPDATE`, id))
	return out, notFound(err, ErrStockOutNotFound)
}

func (tx *pgTx) LockInvoice(ctx context.Context, id string) (Invoice, error) {
	inv, err := scanInvoice(tx.q.QueryRow(ctx, `UPDATE invoices SET version = version + 1 WHERE id = $1 RETURNING `+invoiceColumns, id))
	return inv, notFound(err, ErrInvoiceNotFound)
}

// execOne runs a single-row write and maps zero affected rows to missing.
func (tx *pgTx) execOne(ctx context.Context, missing error, sql string, args ...any) error {
	tag, err := tx.q.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return missing
	}
	return nil
}

func (tx *pgTx) InsertProduct(ctx context.Context, p Product) error {
	_, err := tx.q.Exec(ctx, `INSERT INTO products (id, name, code, rate, active, created_at) VALUES ($1, $2, $3, $4::numeric, $5, $6)`,
		p.ID, p.Name, p.Code, p.Rate.String(), p.Active, p.CreatedAt)
	return err
}

func (tx *pgTx) UpdateProduct(ctx context.Context, p Product) error {
	return tx.execOne(ctx, ErrProductNotFound, `UPDATE products SET name = $2, code = $3, rate = $4::numeric, active = $5 WHERE id = $1`,
		p.ID, p.Name, p.Code, p.Rate.String(), p.Active)
}

func (tx *pgTx) InsertMaterial(ctx context.Context, m Material) error {
	_, err := tx.q.Exec(ctx, `INSERT INTO materials (id, product_id, name, active, created_at) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ProductID, m.Name, m.Active, m.CreatedAt)
	return err
}

func (tx *pgTx) UpdateMaterial(ctx context.Context, m Material) error {
	return tx.execOne(ctx, ErrMaterialNotFound, `UPDATE materials SET name = $2, active = $3 WHERE id = $1`, m.ID, m.Name, m.Active)
}

func (tx *pgTx) InsertPO(ctx context.Context, po PurchaseOrder) error {
	_, err := tx.q.Exec(ctx, `INSERT INTO purchase_orders (id, product_id, po_no, po_qty, active, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		po.ID, po.ProductID, po.PONo, po.POQty, po.Active, po.CreatedAt)
	return err
}

func (tx *pgTx) UpdatePO(ctx context.Context, po PurchaseOrder) error {
	return tx.execOne(ctx, ErrPONotFound, `UPDATE purchase_orders SET po_no = $2, po_qty = $3, active = $4 WHERE id = $1`,
		po.ID, po.PONo, po.POQty, po.Active)
}

func (tx *pgTx) InsertStockIn(ctx context.Context, in StockIn) error {
	_, err := tx.q.Exec(ctx, `INSERT INTO stock_ins (id, po_id, entry_date, qty, note, edited, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		in.ID, in.POID, in.Date.Time, in.Qty, in.Note, in.Edited, in.CreatedAt)
	return err
}

func (tx *pgTx) UpdateStockIn(ctx context.Context, in StockIn) error {
	return tx.execOne(ctx, ErrStockInNotFound, `UPDATE stock_ins SET entry_date = $2, qty = $3, note = $4, edited = $5 WHERE id = $1`,
		in.ID, in.Date.Time, in.Qty, in.Note, in.Edited)
}

func (tx *pgTx) DeleteStockIn(ctx context.Context, id string) error {
	return tx.execOne(ctx, ErrStockInNotFound, `DELETE FROM stock_ins WHERE id = $1`, id)
}

func (tx *pgTx) InsertStockOut(ctx context.Context, out StockOut) error {
	_, err := tx.q.Exec(ctx, `INSERT INTO stock_outs (id, product_id, po_id, entry_date, qty, invoice_id, note, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		out.ID, out.ProductID, out.POID, out.Date.Time, out.Qty, nullable(out.InvoiceID), out.Note, out.CreatedAt)
	return err
}

func (tx *pgTx) UpdateStockOut(ctx context.Context, out StockOut) error {
	return tx.execOne(ctx, ErrAlreadyInvoiced, `UPDATE stock_outs SET entry_date = $2, qty = $3, note = $4 WHERE id = $1 AND invoice_id IS NULL`,
		out.ID, out.Date.Time, out.Qty, out.Note)
}

func (tx *pgTx) DeleteStockOut(ctx context.Context, id string) error {
	return tx.execOne(ctx, ErrAlreadyInvoiced, `DELETE FROM stock_outs WHERE id = $1 AND invoice_id IS NULL`, id)
}

func (tx *pgTx) AttachStockOut(ctx context.Context, outID, invoiceID string) error {
	tag, err := tx.q.Exec(ctx, `UPDATE stock_outs SET invoice_id = $1 WHERE id = $2 AND invoice_id IS NULL`, invoiceID, outID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	found, err := tx.exists(ctx, `SELECT 1 FROM stock_outs WHERE id = $1`, outID)
	if err != nil {
		return err
	}
	if !found {
		return ErrStockOutNotFound
	}
	return ErrAlreadyInvoiced
}

func (tx *pgTx) DetachStockOut(ctx context.Context, outID, invoiceID string) error {
	return tx.execOne(ctx, ErrItemNotOnInvoice, `UPDATE stock_outs SET invoice_id = NULL WHERE id = $1 AND invoice_id = $2`, outID, invoiceID)
}

func (tx *pgTx) NextInvoiceSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := tx.q.QueryRow(ctx, `SELECT nextval('invoice_no_seq')`).Scan(&seq)
	return seq, err
}

func (tx *pgTx) InsertInvoice(ctx context.Context, inv Invoice) error {
	_, err := tx.q.Exec(ctx, `INSERT INTO invoices (id, invoice_no, invoice_date, status, print_count, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		inv.ID, inv.InvoiceNo, inv.Date.Time, string(inv.Status), inv.PrintCount, inv.CreatedAt)
	return err
}

func (tx *pgTx) UpdateInvoice(ctx context.Context, inv Invoice) error {
	return tx.execOne(ctx, ErrInvoiceNotFound, `UPDATE invoices SET invoice_date = $2, status = $3, print_count = $4 WHERE id = $1`,
		inv.ID, inv.Date.Time, string(inv.Status), inv.PrintCount)
}

func (tx *pgTx) AppendAudit(ctx context.Context, entry audit.Entry) (audit.Entry, error) {
	if err := entry.Validate(); err != nil {
		return audit.Entry{}, err
	}
	err := tx.q.QueryRow(ctx, `INSERT INTO audit_log (ts, action, actor, details, ref_type, ref_id) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		entry.At, entry.Action, entry.Actor, entry.Details, entry.RefType, entry.RefID).Scan(&entry.ID)
	return entry, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
