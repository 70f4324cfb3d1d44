package order

import "time"

// SKU is one purchasable variant with its own price, stock and sales counters.
// Stock and sales are only ever mutated through a StockGuard inside a commit
// transaction; committed stock never goes below zero.
type SKU struct {
	ID         int64
	Name       string
	PriceCents int64
	Stock      int64
	Sales      int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type PayMethod string

const (
	PayCashOnDelivery PayMethod = "COD"
	PayBankWire       PayMethod = "BANK_WIRE"
	PayGateway        PayMethod = "GATEWAY"
)

func (m PayMethod) Valid() bool {
	switch m {
	case PayCashOnDelivery, PayBankWire, PayGateway:
		return true
	}
	return false
}

// InitialStatus: only the gateway method enters the confirmation state machine.
func (m PayMethod) InitialStatus() Status {
	if m == PayGateway {
		return StatusAwaitingPayment
	}
	return StatusUnpaid
}

type Order struct {
	ID             string
	UserID         int64
	AddressID      int64
	PayMethod      PayMethod
	TotalCount     int64
	GoodsCents     int64
	FreightCents   int64
	Status         Status
	GatewayTradeNo string // empty until settled
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (o *Order) PayableCents() int64 { return o.GoodsCents + o.FreightCents }

// OrderLine captures the unit price at purchase time; later catalog price
// changes never touch historical lines.
type OrderLine struct {
	OrderID   string
	SKUID     int64
	Qty       int64
	UnitCents int64
	Comment   string
}

type LineSummary struct {
	SKUID         int64  `json:"sku_id"`
	Name          string `json:"name,omitempty"`
	Qty           int64  `json:"qty"`
	UnitCents     int64  `json:"unit_cents"`
	SubtotalCents int64  `json:"subtotal_cents"`
}

// CommitSummary carries the aggregates the engine computed for one commit,
// returned explicitly instead of decorating fetched records.
type CommitSummary struct {
	OrderID      string        `json:"order_id"`
	Status       Status        `json:"status"`
	Lines        []LineSummary `json:"lines"`
	TotalCount   int64         `json:"total_count"`
	GoodsCents   int64         `json:"goods_cents"`
	FreightCents int64         `json:"freight_cents"`
}

func (s *CommitSummary) PayableCents() int64 { return s.GoodsCents + s.FreightCents }
