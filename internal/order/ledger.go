package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrderTx is the mutation surface available inside one commit transaction.
// Everything staged through it lands or rolls back as a unit.
type OrderTx interface {
	GetSKU(ctx context.Context, skuID int64) (SKU, error)
	// GetSKUForUpdate takes an exclusive row lock held until the surrounding
	// transaction ends (pessimistic guard).
	GetSKUForUpdate(ctx context.Context, skuID int64) (SKU, error)
	UpdateStock(ctx context.Context, skuID, newStock, newSales int64) error
	// CompareAndSwapStock writes stock/sales only if stock still equals
	// expectedStock; returns the number of rows affected (optimistic guard).
	CompareAndSwapStock(ctx context.Context, skuID, expectedStock, newStock, newSales int64) (int64, error)
	InsertOrder(ctx context.Context, o *Order) error
	InsertLine(ctx context.Context, l *OrderLine) error
	SetTotals(ctx context.Context, orderID string, totalCount, goodsCents int64) error
}

// Ledger opens the transactional scope the engine commits through.
type Ledger interface {
	InTx(ctx context.Context, fn func(OrderTx) error) error
}

// PGLedger runs commit transactions at READ COMMITTED. That level is required
// by the optimistic guard: a failed CAS must be able to re-read the winner's
// committed stock on the next attempt, which REPEATABLE READ would hide.
// The pessimistic guard is correct at any level.
type PGLedger struct{ DB *pgxpool.Pool }

func (l *PGLedger) InTx(ctx context.Context, fn func(OrderTx) error) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgOrderTx{tx: tx}); err != nil {
		return err // rollback via defer
	}
	return tx.Commit(ctx)
}

type pgOrderTx struct{ tx pgx.Tx }

const skuColumns = `id, name, price_cents, stock, sales, created_at, updated_at`

func scanSKU(row pgx.Row) (SKU, error) {
	var s SKU
	err := row.Scan(&s.ID, &s.Name, &s.PriceCents, &s.Stock, &s.Sales, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SKU{}, ErrSKUNotFound
	}
	return s, err
}

func (t *pgOrderTx) GetSKU(ctx context.Context, skuID int64) (SKU, error) {
	return scanSKU(t.tx.QueryRow(ctx, `SELECT `+skuColumns+` FROM skus WHERE id=$1`, skuID))
}

func (t *pgOrderTx) GetSKUForUpdate(ctx context.Context, skuID int64) (SKU, error) {
	return scanSKU(t.tx.QueryRow(ctx, `SELECT `+skuColumns+` FROM skus WHERE id=$1 FOR UPDATE`, skuID))
}

func (t *pgOrderTx) UpdateStock(ctx context.Context, skuID, newStock, newSales int64) error {
	ct, err := t.tx.Exec(ctx,
		`UPDATE skus SET stock=$2, sales=$3, updated_at=now() WHERE id=$1`,
		skuID, newStock, newSales)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrSKUNotFound
	}
	return nil
}

func (t *pgOrderTx) CompareAndSwapStock(ctx context.Context, skuID, expectedStock, newStock, newSales int64) (int64, error) {
	ct, err := t.tx.Exec(ctx,
		`UPDATE skus SET stock=$3, sales=$4, updated_at=now() WHERE id=$1 AND stock=$2`,
		skuID, expectedStock, newStock, newSales)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (t *pgOrderTx) InsertOrder(ctx context.Context, o *Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, address_id, pay_method, total_count,
		                   goods_cents, freight_cents, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		o.ID, o.UserID, o.AddressID, string(o.PayMethod),
		o.TotalCount, o.GoodsCents, o.FreightCents, string(o.Status))
	return err
}

func (t *pgOrderTx) InsertLine(ctx context.Context, l *OrderLine) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_lines(order_id, sku_id, qty, unit_cents)
		VALUES ($1,$2,$3,$4)`,
		l.OrderID, l.SKUID, l.Qty, l.UnitCents)
	return err
}

func (t *pgOrderTx) SetTotals(ctx context.Context, orderID string, totalCount, goodsCents int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE orders SET total_count=$2, goods_cents=$3, updated_at=now() WHERE id=$1`,
		orderID, totalCount, goodsCents)
	return err
}
