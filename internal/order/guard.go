package order

import (
	"context"
	"fmt"
)

// StockGuard reserves qty units of one SKU inside the surrounding commit
// transaction. Both guards honor the same contract; pick ONE per deployment —
// mixing them on the same table defeats both.
type StockGuard interface {
	Reserve(ctx context.Context, tx OrderTx, skuID, qty int64) (SKU, error)
}

// PessimisticGuard serializes writers on the SKU row lock. No lost updates;
// hot SKUs pay with lock waits.
type PessimisticGuard struct{}

func (PessimisticGuard) Reserve(ctx context.Context, tx OrderTx, skuID, qty int64) (SKU, error) {
	sku, err := tx.GetSKUForUpdate(ctx, skuID)
	if err != nil {
		return SKU{}, err
	}
	if qty > sku.Stock {
		return SKU{}, fmt.Errorf("%w: sku=%d want=%d have=%d", ErrInsufficientStock, skuID, qty, sku.Stock)
	}
	if err := tx.UpdateStock(ctx, skuID, sku.Stock-qty, sku.Sales+qty); err != nil {
		return SKU{}, err
	}
	return sku, nil
}

const DefaultCASAttempts = 3

// OptimisticGuard reads without locking and writes back with a CAS on the
// stock value itself. A losing CAS re-reads the winner's committed stock and
// tries again, up to MaxAttempts.
type OptimisticGuard struct {
	MaxAttempts int
}

func (g OptimisticGuard) Reserve(ctx context.Context, tx OrderTx, skuID, qty int64) (SKU, error) {
	attempts := g.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultCASAttempts
	}
	for i := 0; i < attempts; i++ {
		sku, err := tx.GetSKU(ctx, skuID)
		if err != nil {
			return SKU{}, err
		}
		if qty > sku.Stock {
			return SKU{}, fmt.Errorf("%w: sku=%d want=%d have=%d", ErrInsufficientStock, skuID, qty, sku.Stock)
		}
		n, err := tx.CompareAndSwapStock(ctx, skuID, sku.Stock, sku.Stock-qty, sku.Sales+qty)
		if err != nil {
			return SKU{}, err
		}
		if n == 1 {
			return sku, nil
		}
		// another writer won; loop re-reads the committed value
	}
	return SKU{}, fmt.Errorf("%w: sku=%d after %d attempts", ErrContentionExhausted, skuID, attempts)
}

// GuardFor maps the config selector to a guard, defaulting to pessimistic.
func GuardFor(name string) StockGuard {
	if name == "optimistic" {
		return OptimisticGuard{MaxAttempts: DefaultCASAttempts}
	}
	return PessimisticGuard{}
}
