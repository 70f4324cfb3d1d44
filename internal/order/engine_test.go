package order_test

import (
	"context"
	"sync"
	"testing"

	"github.com/freshmart/go-storefront/internal/cart"
	"github.com/freshmart/go-storefront/internal/order"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memLedger mimics the row-lock and read-committed semantics the engine
// relies on: FOR UPDATE holds a per-SKU mutex until the transaction ends,
// reads outside the lock see only committed values, and staged writes land
// atomically at commit.
type memLedger struct {
	mu     sync.Mutex
	skus   map[int64]order.SKU
	orders map[string]order.Order
	lines  map[string][]order.OrderLine
	rowMu  map[int64]*sync.Mutex
}

func newMemLedger(skus ...order.SKU) *memLedger {
	l := &memLedger{
		skus:   map[int64]order.SKU{},
		orders: map[string]order.Order{},
		lines:  map[string][]order.OrderLine{},
		rowMu:  map[int64]*sync.Mutex{},
	}
	for _, s := range skus {
		l.skus[s.ID] = s
	}
	return l
}

func (l *memLedger) rowLock(id int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.rowMu[id]
	if !ok {
		m = &sync.Mutex{}
		l.rowMu[id] = m
	}
	return m
}

func (l *memLedger) committed(id int64) (order.SKU, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.skus[id]
	return s, ok
}

// GetSKUs implements order.Catalog for Preview tests.
func (l *memLedger) GetSKUs(_ context.Context, ids []int64) (map[int64]order.SKU, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := map[int64]order.SKU{}
	for _, id := range ids {
		if s, ok := l.skus[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (l *memLedger) InTx(_ context.Context, fn func(order.OrderTx) error) error {
	tx := &memTx{l: l, staged: map[int64]order.SKU{}, heldIDs: map[int64]bool{}}
	err := fn(tx)
	if err == nil {
		l.mu.Lock()
		for id, s := range tx.staged {
			l.skus[id] = s
		}
		if tx.order != nil {
			o := *tx.order
			o.TotalCount = tx.totalCount
			o.GoodsCents = tx.goodsCents
			l.orders[o.ID] = o
			l.lines[o.ID] = tx.lines
		}
		l.mu.Unlock()
	}
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.held[i].Unlock()
	}
	return err
}

type memTx struct {
	l       *memLedger
	staged  map[int64]order.SKU
	held    []*sync.Mutex
	heldIDs map[int64]bool
	order   *order.Order
	lines   []order.OrderLine

	totalCount int64
	goodsCents int64
}

func (t *memTx) acquire(id int64) {
	if t.heldIDs[id] {
		return
	}
	m := t.l.rowLock(id)
	m.Lock()
	t.held = append(t.held, m)
	t.heldIDs[id] = true
}

func (t *memTx) read(id int64) (order.SKU, error) {
	if s, ok := t.staged[id]; ok {
		return s, nil
	}
	s, ok := t.l.committed(id)
	if !ok {
		return order.SKU{}, order.ErrSKUNotFound
	}
	return s, nil
}

func (t *memTx) GetSKU(_ context.Context, id int64) (order.SKU, error) {
	return t.read(id)
}

func (t *memTx) GetSKUForUpdate(_ context.Context, id int64) (order.SKU, error) {
	t.acquire(id)
	return t.read(id)
}

func (t *memTx) UpdateStock(_ context.Context, id, newStock, newSales int64) error {
	s, err := t.read(id)
	if err != nil {
		return err
	}
	s.Stock, s.Sales = newStock, newSales
	t.staged[id] = s
	return nil
}

func (t *memTx) CompareAndSwapStock(_ context.Context, id, expectedStock, newStock, newSales int64) (int64, error) {
	t.acquire(id)
	s, err := t.read(id)
	if err != nil {
		return 0, err
	}
	if s.Stock != expectedStock {
		return 0, nil
	}
	s.Stock, s.Sales = newStock, newSales
	t.staged[id] = s
	return 1, nil
}

func (t *memTx) InsertOrder(_ context.Context, o *order.Order) error {
	cp := *o
	t.order = &cp
	return nil
}

func (t *memTx) InsertLine(_ context.Context, l *order.OrderLine) error {
	t.lines = append(t.lines, *l)
	return nil
}

func (t *memTx) SetTotals(_ context.Context, _ string, totalCount, goodsCents int64) error {
	t.totalCount = totalCount
	t.goodsCents = goodsCents
	return nil
}

type memCart struct {
	mu sync.Mutex
	m  map[int64]map[int64]int64 // user -> sku -> qty
}

func newMemCart() *memCart { return &memCart{m: map[int64]map[int64]int64{}} }

func (c *memCart) set(userID, skuID, qty int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m[userID] == nil {
		c.m[userID] = map[int64]int64{}
	}
	c.m[userID][skuID] = qty
}

func (c *memCart) Quantity(_ context.Context, userID, skuID int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	qty, ok := c.m[userID][skuID]
	if !ok {
		return 0, cart.ErrEntryMissing
	}
	return qty, nil
}

func (c *memCart) RemoveEntries(_ context.Context, userID int64, skuIDs []int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range skuIDs {
		delete(c.m[userID], id)
	}
	return nil
}

func (c *memCart) snapshot(userID int64) map[int64]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[int64]int64{}
	for k, v := range c.m[userID] {
		out[k] = v
	}
	return out
}

type ownerFunc func(addressID, userID int64) bool

func (f ownerFunc) Owned(_ context.Context, addressID, userID int64) (bool, error) {
	return f(addressID, userID), nil
}

func allowAll() ownerFunc { return func(int64, int64) bool { return true } }

func newEngine(l *memLedger, c *memCart, guard order.StockGuard) *order.Engine {
	return &order.Engine{
		Ledger:       l,
		Cart:         c,
		Addresses:    allowAll(),
		Catalog:      l,
		Guard:        guard,
		FreightCents: 1000,
		Log:          zerolog.Nop(),
	}
}

func guards() map[string]order.StockGuard {
	return map[string]order.StockGuard{
		"pessimistic": order.PessimisticGuard{},
		"optimistic":  order.OptimisticGuard{MaxAttempts: 3},
	}
}

func TestCommitOrder_HappyPathConcurrent(t *testing.T) {
	for name, guard := range guards() {
		t.Run(name, func(t *testing.T) {
			ledger := newMemLedger(order.SKU{ID: 1, Name: "apples", PriceCents: 250, Stock: 10})
			crt := newMemCart()
			crt.set(1, 1, 4)
			crt.set(2, 1, 4)
			eng := newEngine(ledger, crt, guard)

			var wg sync.WaitGroup
			sums := make([]*order.CommitSummary, 2)
			errs := make([]error, 2)
			for i, userID := range []int64{1, 2} {
				wg.Add(1)
				go func(i int, userID int64) {
					defer wg.Done()
					sums[i], errs[i] = eng.CommitOrder(context.Background(), userID, []int64{1}, 7, order.PayGateway)
				}(i, userID)
			}
			wg.Wait()

			require.NoError(t, errs[0])
			require.NoError(t, errs[1])

			sku, _ := ledger.committed(1)
			assert.Equal(t, int64(2), sku.Stock)
			assert.Equal(t, int64(8), sku.Sales)
			assert.Len(t, ledger.orders, 2)
			for _, sum := range sums {
				require.Len(t, sum.Lines, 1)
				assert.Equal(t, int64(4), sum.Lines[0].Qty)
				assert.Equal(t, int64(1000), sum.Lines[0].SubtotalCents)
				assert.Equal(t, int64(1000), sum.GoodsCents)
				assert.Equal(t, int64(2000), sum.PayableCents())
			}
		})
	}
}

func TestCommitOrder_ExactDepletionRace(t *testing.T) {
	for name, guard := range guards() {
		t.Run(name, func(t *testing.T) {
			ledger := newMemLedger(order.SKU{ID: 1, PriceCents: 100, Stock: 5})
			crt := newMemCart()
			crt.set(1, 1, 5)
			crt.set(2, 1, 5)
			eng := newEngine(ledger, crt, guard)

			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i, userID := range []int64{1, 2} {
				wg.Add(1)
				go func(i int, userID int64) {
					defer wg.Done()
					_, errs[i] = eng.CommitOrder(context.Background(), userID, []int64{1}, 7, order.PayCashOnDelivery)
				}(i, userID)
			}
			wg.Wait()

			var won, lost int
			for _, err := range errs {
				if err == nil {
					won++
				} else {
					assert.ErrorIs(t, err, order.ErrInsufficientStock)
					lost++
				}
			}
			assert.Equal(t, 1, won)
			assert.Equal(t, 1, lost)

			sku, _ := ledger.committed(1)
			assert.Equal(t, int64(0), sku.Stock)
			assert.Equal(t, int64(5), sku.Sales)
			assert.Len(t, ledger.orders, 1)
		})
	}
}

func TestCommitOrder_NoOversell(t *testing.T) {
	const buyers = 8
	const perBuyer = 3
	for name, guard := range guards() {
		t.Run(name, func(t *testing.T) {
			ledger := newMemLedger(order.SKU{ID: 1, PriceCents: 100, Stock: 10})
			crt := newMemCart()
			for u := int64(1); u <= buyers; u++ {
				crt.set(u, 1, perBuyer)
			}
			eng := newEngine(ledger, crt, guard)

			var wg sync.WaitGroup
			errs := make([]error, buyers)
			for u := int64(1); u <= buyers; u++ {
				wg.Add(1)
				go func(u int64) {
					defer wg.Done()
					_, errs[u-1] = eng.CommitOrder(context.Background(), u, []int64{1}, 7, order.PayBankWire)
				}(u)
			}
			wg.Wait()

			var committed int64
			for _, err := range errs {
				if err == nil {
					committed += perBuyer
				}
			}
			sku, _ := ledger.committed(1)
			assert.GreaterOrEqual(t, sku.Stock, int64(0), "stock went negative")
			assert.Equal(t, int64(10)-committed, sku.Stock)
			assert.Equal(t, committed, sku.Sales)
			assert.LessOrEqual(t, committed, int64(10))
		})
	}
}

func TestCommitOrder_AtomicOnMissingCartEntry(t *testing.T) {
	ledger := newMemLedger(
		order.SKU{ID: 1, PriceCents: 100, Stock: 5},
		order.SKU{ID: 2, PriceCents: 200, Stock: 5},
	)
	crt := newMemCart()
	crt.set(1, 1, 2) // sku 2 selected but absent from the cart
	eng := newEngine(ledger, crt, order.PessimisticGuard{})

	_, err := eng.CommitOrder(context.Background(), 1, []int64{1, 2}, 7, order.PayGateway)
	require.ErrorIs(t, err, cart.ErrEntryMissing)

	sku1, _ := ledger.committed(1)
	sku2, _ := ledger.committed(2)
	assert.Equal(t, int64(5), sku1.Stock, "sku 1 must be rolled back")
	assert.Equal(t, int64(0), sku1.Sales)
	assert.Equal(t, int64(5), sku2.Stock)
	assert.Empty(t, ledger.orders)
	assert.Equal(t, map[int64]int64{1: 2}, crt.snapshot(1), "cart untouched on failure")
}

func TestCommitOrder_AtomicOnInsufficientSecondSKU(t *testing.T) {
	ledger := newMemLedger(
		order.SKU{ID: 1, PriceCents: 100, Stock: 5},
		order.SKU{ID: 2, PriceCents: 200, Stock: 1},
	)
	crt := newMemCart()
	crt.set(1, 1, 2)
	crt.set(1, 2, 3) // more than sku 2 has
	eng := newEngine(ledger, crt, order.PessimisticGuard{})

	_, err := eng.CommitOrder(context.Background(), 1, []int64{1, 2}, 7, order.PayGateway)
	require.ErrorIs(t, err, order.ErrInsufficientStock)

	sku1, _ := ledger.committed(1)
	sku2, _ := ledger.committed(2)
	assert.Equal(t, int64(5), sku1.Stock)
	assert.Equal(t, int64(1), sku2.Stock)
	assert.Empty(t, ledger.orders)
	assert.Equal(t, map[int64]int64{1: 2, 2: 3}, crt.snapshot(1))
}

func TestCommitOrder_CartCleanupPrecision(t *testing.T) {
	ledger := newMemLedger(
		order.SKU{ID: 1, PriceCents: 100, Stock: 5},
		order.SKU{ID: 2, PriceCents: 200, Stock: 5},
		order.SKU{ID: 3, PriceCents: 300, Stock: 5},
	)
	crt := newMemCart()
	crt.set(1, 1, 2)
	crt.set(1, 2, 3)
	crt.set(1, 3, 4)
	eng := newEngine(ledger, crt, order.PessimisticGuard{})

	_, err := eng.CommitOrder(context.Background(), 1, []int64{1, 3}, 7, order.PayGateway)
	require.NoError(t, err)

	assert.Equal(t, map[int64]int64{2: 3}, crt.snapshot(1),
		"only the committed entries leave the cart")
}

func TestCommitOrder_PriceCapture(t *testing.T) {
	ledger := newMemLedger(order.SKU{ID: 1, PriceCents: 100, Stock: 5})
	crt := newMemCart()
	crt.set(1, 1, 2)
	eng := newEngine(ledger, crt, order.PessimisticGuard{})

	sum, err := eng.CommitOrder(context.Background(), 1, []int64{1}, 7, order.PayGateway)
	require.NoError(t, err)

	// a later catalog price change must not reach the committed lines
	ledger.mu.Lock()
	s := ledger.skus[1]
	s.PriceCents = 999
	ledger.skus[1] = s
	ledger.mu.Unlock()

	lines := ledger.lines[sum.OrderID]
	require.Len(t, lines, 1)
	assert.Equal(t, int64(100), lines[0].UnitCents)
	assert.Equal(t, int64(200), sum.GoodsCents)
}

func TestCommitOrder_Validation(t *testing.T) {
	ledger := newMemLedger(order.SKU{ID: 1, PriceCents: 100, Stock: 5})
	crt := newMemCart()
	crt.set(1, 1, 2)

	tests := []struct {
		name   string
		skuIDs []int64
		method order.PayMethod
		owned  bool
	}{
		{name: "empty_selection", skuIDs: nil, method: order.PayGateway, owned: true},
		{name: "unknown_method", skuIDs: []int64{1}, method: "CHEQUE", owned: true},
		{name: "duplicate_sku", skuIDs: []int64{1, 1}, method: order.PayGateway, owned: true},
		{name: "foreign_address", skuIDs: []int64{1}, method: order.PayGateway, owned: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newEngine(ledger, crt, order.PessimisticGuard{})
			eng.Addresses = ownerFunc(func(int64, int64) bool { return tt.owned })

			_, err := eng.CommitOrder(context.Background(), 1, tt.skuIDs, 7, tt.method)
			require.ErrorIs(t, err, order.ErrValidation)

			sku, _ := ledger.committed(1)
			assert.Equal(t, int64(5), sku.Stock, "validation must not mutate")
			assert.Empty(t, ledger.orders)
		})
	}
}

func TestCommitOrder_UnknownSKU(t *testing.T) {
	ledger := newMemLedger(order.SKU{ID: 1, PriceCents: 100, Stock: 5})
	crt := newMemCart()
	crt.set(1, 1, 2)
	crt.set(1, 99, 1)
	eng := newEngine(ledger, crt, order.PessimisticGuard{})

	_, err := eng.CommitOrder(context.Background(), 1, []int64{1, 99}, 7, order.PayGateway)
	require.ErrorIs(t, err, order.ErrSKUNotFound)
	sku, _ := ledger.committed(1)
	assert.Equal(t, int64(5), sku.Stock)
	assert.Empty(t, ledger.orders)
}

func TestCommitOrder_InitialStatusByMethod(t *testing.T) {
	tests := []struct {
		method order.PayMethod
		want   order.Status
	}{
		{order.PayGateway, order.StatusAwaitingPayment},
		{order.PayCashOnDelivery, order.StatusUnpaid},
		{order.PayBankWire, order.StatusUnpaid},
	}
	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			ledger := newMemLedger(order.SKU{ID: 1, PriceCents: 100, Stock: 50})
			crt := newMemCart()
			crt.set(1, 1, 1)
			eng := newEngine(ledger, crt, order.PessimisticGuard{})

			sum, err := eng.CommitOrder(context.Background(), 1, []int64{1}, 7, tt.method)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sum.Status)
			assert.Equal(t, tt.want, ledger.orders[sum.OrderID].Status)
		})
	}
}

func TestPreview_DoesNotMutate(t *testing.T) {
	ledger := newMemLedger(
		order.SKU{ID: 1, Name: "apples", PriceCents: 250, Stock: 10},
		order.SKU{ID: 2, Name: "pears", PriceCents: 400, Stock: 3},
	)
	crt := newMemCart()
	crt.set(1, 1, 2)
	crt.set(1, 2, 3)
	eng := newEngine(ledger, crt, order.PessimisticGuard{})

	sum, err := eng.Preview(context.Background(), 1, []int64{2, 1})
	require.NoError(t, err)

	require.Len(t, sum.Lines, 2)
	assert.Equal(t, int64(500), sum.Lines[0].SubtotalCents)  // sku 1, ascending order
	assert.Equal(t, int64(1200), sum.Lines[1].SubtotalCents) // sku 2
	assert.Equal(t, int64(5), sum.TotalCount)
	assert.Equal(t, int64(1700), sum.GoodsCents)
	assert.Equal(t, int64(2700), sum.PayableCents())

	sku, _ := ledger.committed(1)
	assert.Equal(t, int64(10), sku.Stock)
	assert.Empty(t, ledger.orders)
	assert.Equal(t, map[int64]int64{1: 2, 2: 3}, crt.snapshot(1))
}
