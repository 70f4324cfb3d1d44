package order

import (
	"encoding/json"
	"time"
)

const (
	EventOrderPlaced  = "OrderPlaced"
	EventOrderSettled = "OrderSettled"
)

type Envelope struct {
	EventID       string          `json:"event_id"` // uuid
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g. "storefront-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type PlacedLine struct {
	SKUID     int64 `json:"sku_id"`
	Qty       int64 `json:"qty"`
	UnitCents int64 `json:"unit_cents"`
}

// OrderPlacedPayload drives the background jobs that used to hang off the
// checkout request: confirmation email, storefront page regeneration.
type OrderPlacedPayload struct {
	OrderID      string       `json:"order_id"`
	UserID       int64        `json:"user_id"`
	PayMethod    PayMethod    `json:"pay_method"`
	Lines        []PlacedLine `json:"lines"`
	TotalCount   int64        `json:"total_count"`
	GoodsCents   int64        `json:"goods_cents"`
	FreightCents int64        `json:"freight_cents"`
}

type OrderSettledPayload struct {
	OrderID        string `json:"order_id"`
	UserID         int64  `json:"user_id"`
	GatewayTradeNo string `json:"gateway_trade_no"`
}
