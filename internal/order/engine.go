package order

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CartReader is the slice of the cart store the engine consumes: read the
// quantities it was told to commit, then delete exactly those entries.
type CartReader interface {
	Quantity(ctx context.Context, userID, skuID int64) (int64, error)
	RemoveEntries(ctx context.Context, userID int64, skuIDs []int64) error
}

// AddressBook resolves address ownership; address CRUD lives elsewhere.
type AddressBook interface {
	Owned(ctx context.Context, addressID, userID int64) (bool, error)
}

// Catalog is the read-only SKU lookup used by Preview.
type Catalog interface {
	GetSKUs(ctx context.Context, skuIDs []int64) (map[int64]SKU, error)
}

// Engine converts selected cart lines into a durable order while decrementing
// finite stock under concurrent buyers. Collaborators are injected; there are
// no ambient handles.
type Engine struct {
	Ledger       Ledger
	Cart         CartReader
	Addresses    AddressBook
	Catalog      Catalog
	Guard        StockGuard
	FreightCents int64
	Log          zerolog.Logger

	// Commits for one user are serialized so a commit never reads a cart
	// mid-mutation. Striped to keep the map-free fast path.
	userLocks [128]sync.Mutex
}

func (e *Engine) lockUser(userID int64) *sync.Mutex {
	return &e.userLocks[uint64(userID)%uint64(len(e.userLocks))]
}

// CommitOrder is NOT idempotent: calling it twice with the same arguments
// creates two orders. At-most-once per user action is the caller's problem.
func (e *Engine) CommitOrder(ctx context.Context, userID int64, skuIDs []int64, addressID int64, method PayMethod) (*CommitSummary, error) {
	if len(skuIDs) == 0 {
		return nil, fmt.Errorf("%w: no items selected", ErrValidation)
	}
	if !method.Valid() {
		return nil, fmt.Errorf("%w: unknown pay method %q", ErrValidation, method)
	}
	ids := dedupSorted(skuIDs)
	if ids == nil {
		return nil, fmt.Errorf("%w: duplicate sku in selection", ErrValidation)
	}
	ok, err := e.Addresses.Owned(ctx, addressID, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve address %d: %w", addressID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: address %d not owned by user %d", ErrValidation, addressID, userID)
	}

	mu := e.lockUser(userID)
	mu.Lock()
	defer mu.Unlock()

	o := &Order{
		ID:           uuid.NewString(),
		UserID:       userID,
		AddressID:    addressID,
		PayMethod:    method,
		FreightCents: e.FreightCents,
		Status:       method.InitialStatus(),
	}
	sum := &CommitSummary{
		OrderID:      o.ID,
		Status:       o.Status,
		FreightCents: o.FreightCents,
	}

	err = e.Ledger.InTx(ctx, func(tx OrderTx) error {
		if err := tx.InsertOrder(ctx, o); err != nil {
			return fmt.Errorf("insert order header: %w", err)
		}
		// Ascending id order fixes the lock-acquisition order across
		// concurrent commits so overlapping selections cannot deadlock.
		for _, skuID := range ids {
			qty, err := e.Cart.Quantity(ctx, userID, skuID)
			if err != nil {
				return err
			}
			if qty <= 0 {
				return fmt.Errorf("%w: cart holds qty=%d for sku %d", ErrValidation, qty, skuID)
			}
			sku, err := e.Guard.Reserve(ctx, tx, skuID, qty)
			if err != nil {
				return err
			}
			line := &OrderLine{OrderID: o.ID, SKUID: skuID, Qty: qty, UnitCents: sku.PriceCents}
			if err := tx.InsertLine(ctx, line); err != nil {
				return fmt.Errorf("insert order line sku=%d: %w", skuID, err)
			}
			sum.Lines = append(sum.Lines, LineSummary{
				SKUID:         skuID,
				Name:          sku.Name,
				Qty:           qty,
				UnitCents:     sku.PriceCents,
				SubtotalCents: qty * sku.PriceCents,
			})
			sum.TotalCount += qty
			sum.GoodsCents += qty * sku.PriceCents
		}
		return tx.SetTotals(ctx, o.ID, sum.TotalCount, sum.GoodsCents)
	})
	if err != nil {
		return nil, err
	}
	o.TotalCount = sum.TotalCount
	o.GoodsCents = sum.GoodsCents

	// The ledger tx is already durable; a failed cart trim must not fail the
	// commit. Stale entries resurface on the next checkout, which re-reads
	// quantities from scratch.
	if err := e.Cart.RemoveEntries(ctx, userID, ids); err != nil {
		e.Log.Warn().Err(err).Str("order_id", o.ID).Int64("user_id", userID).
			Msg("order committed but cart trim failed")
	}
	return sum, nil
}

// Preview computes per-line subtotals and totals for the selected cart
// entries without touching stock or the ledger.
func (e *Engine) Preview(ctx context.Context, userID int64, skuIDs []int64) (*CommitSummary, error) {
	if len(skuIDs) == 0 {
		return nil, fmt.Errorf("%w: no items selected", ErrValidation)
	}
	ids := dedupSorted(skuIDs)
	if ids == nil {
		return nil, fmt.Errorf("%w: duplicate sku in selection", ErrValidation)
	}
	skus, err := e.Catalog.GetSKUs(ctx, ids)
	if err != nil {
		return nil, err
	}
	sum := &CommitSummary{FreightCents: e.FreightCents}
	for _, skuID := range ids {
		sku, ok := skus[skuID]
		if !ok {
			return nil, fmt.Errorf("%w: sku=%d", ErrSKUNotFound, skuID)
		}
		qty, err := e.Cart.Quantity(ctx, userID, skuID)
		if err != nil {
			return nil, err
		}
		sum.Lines = append(sum.Lines, LineSummary{
			SKUID:         skuID,
			Name:          sku.Name,
			Qty:           qty,
			UnitCents:     sku.PriceCents,
			SubtotalCents: qty * sku.PriceCents,
		})
		sum.TotalCount += qty
		sum.GoodsCents += qty * sku.PriceCents
	}
	return sum, nil
}

// dedupSorted returns the ids ascending, or nil if any id repeats.
func dedupSorted(skuIDs []int64) []int64 {
	ids := make([]int64, len(skuIDs))
	copy(ids, skuIDs)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i := 1; i < len(ids); i++ {
		if ids[i] == ids[i-1] {
			return nil
		}
	}
	return ids
}
