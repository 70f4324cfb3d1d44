package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo holds the non-transactional reads plus the poller/comment writes.
// Everything the commit path mutates goes through Ledger instead.
type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) GetSKUs(ctx context.Context, skuIDs []int64) (map[int64]SKU, error) {
	if len(skuIDs) == 0 {
		return map[int64]SKU{}, nil
	}
	params := make([]string, len(skuIDs))
	args := make([]any, len(skuIDs))
	for i, id := range skuIDs {
		params[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := r.DB.Query(ctx,
		`SELECT `+skuColumns+` FROM skus WHERE id IN (`+strings.Join(params, ",")+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]SKU, len(skuIDs))
	for rows.Next() {
		var s SKU
		if err := rows.Scan(&s.ID, &s.Name, &s.PriceCents, &s.Stock, &s.Sales, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out[s.ID] = s
	}
	return out, rows.Err()
}

func (r *Repo) ListSKUs(ctx context.Context) ([]SKU, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+skuColumns+` FROM skus ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SKU
	for rows.Next() {
		var s SKU
		if err := rows.Scan(&s.ID, &s.Name, &s.PriceCents, &s.Stock, &s.Sales, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const orderColumns = `id, user_id, address_id, pay_method, total_count, goods_cents,
                      freight_cents, status, COALESCE(gateway_trade_no, ''), created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var method, status string
	err := row.Scan(&o.ID, &o.UserID, &o.AddressID, &method, &o.TotalCount, &o.GoodsCents,
		&o.FreightCents, &status, &o.GatewayTradeNo, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	o.PayMethod = PayMethod(method)
	o.Status = Status(status)
	return &o, nil
}

func (r *Repo) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, orderID))
}

func (r *Repo) GetOrderForUser(ctx context.Context, orderID string, userID int64) (*Order, error) {
	return scanOrder(r.DB.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id=$1 AND user_id=$2`, orderID, userID))
}

func (r *Repo) GetOrderLines(ctx context.Context, orderID string) ([]OrderLine, error) {
	rows, err := r.DB.Query(ctx,
		`SELECT order_id, sku_id, qty, unit_cents, COALESCE(comment, '')
		 FROM order_lines WHERE order_id=$1 ORDER BY sku_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderLine
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.OrderID, &l.SKUID, &l.Qty, &l.UnitCents, &l.Comment); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// MarkSettled records the gateway trade reference and moves the order to
// SETTLED. Guarded on AWAITING_PAYMENT so a late poller cannot clobber a
// later state.
func (r *Repo) MarkSettled(ctx context.Context, orderID, gatewayTradeNo string) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$2, gateway_trade_no=$3, updated_at=now()
		WHERE id=$1 AND status=$4`,
		orderID, string(StatusSettled), gatewayTradeNo, string(StatusAwaitingPayment))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s not awaiting payment", ErrOrderNotFound, orderID)
	}
	return nil
}

// AddLineComments stores per-line comments and completes the order.
func (r *Repo) AddLineComments(ctx context.Context, orderID string, userID int64, comments map[int64]string) error {
	o, err := r.GetOrderForUser(ctx, orderID, userID)
	if err != nil {
		return err
	}
	if !CanTransition(o.Status, StatusCompleted) {
		return fmt.Errorf("%w: order %s is %s", ErrValidation, orderID, o.Status)
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for skuID, comment := range comments {
		if _, err := tx.Exec(ctx,
			`UPDATE order_lines SET comment=$3 WHERE order_id=$1 AND sku_id=$2`,
			orderID, skuID, comment); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`,
		orderID, string(StatusCompleted)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Owned reports whether the address belongs to the user.
func (r *Repo) Owned(ctx context.Context, addressID, userID int64) (bool, error) {
	var n int
	err := r.DB.QueryRow(ctx,
		`SELECT COUNT(*) FROM addresses WHERE id=$1 AND user_id=$2`, addressID, userID).Scan(&n)
	return n > 0, err
}
