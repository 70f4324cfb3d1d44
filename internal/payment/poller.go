package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrPayFailed: the gateway reported a terminal non-paid outcome.
	ErrPayFailed = errors.New("payment failed")
	// ErrPayTimedOut: the retry budget or overall deadline expired; the order
	// is untouched and the caller may retry later.
	ErrPayTimedOut = errors.New("payment confirmation timed out")
)

// OrderSettler is the one write the poller performs on the ledger.
type OrderSettler interface {
	MarkSettled(ctx context.Context, orderID, gatewayTradeNo string) error
}

// Poller asks the gateway for the settlement status of a pending order until
// a terminal answer arrives. It blocks its caller for the whole loop, so run
// it on a request that expects to wait, never on a hot path.
type Poller struct {
	Gateway Client
	Orders  OrderSettler
	Log     zerolog.Logger

	// AwaitInterval paces the "buyer has not paid yet" branch, RetryInterval
	// and RetryBudget bound the "gateway unavailable" branch.
	AwaitInterval time.Duration
	RetryInterval time.Duration
	RetryBudget   int
	// Deadline bounds the whole loop. The unavailable branch alone would stop
	// after RetryBudget rounds, but the awaiting-buyer branch needs this
	// overall cap or an absent buyer pins the worker forever.
	Deadline time.Duration
}

func NewPoller(gw Client, orders OrderSettler, log zerolog.Logger) *Poller {
	return &Poller{
		Gateway:       gw,
		Orders:        orders,
		Log:           log,
		AwaitInterval: 5 * time.Second,
		RetryInterval: time.Second,
		RetryBudget:   60,
		Deadline:      10 * time.Minute,
	}
}

// PollUntilSettled drives the AWAITING_PAYMENT -> SETTLED transition.
// Terminal outcomes: nil (settled), ErrPayFailed, ErrPayTimedOut.
func (p *Poller) PollUntilSettled(ctx context.Context, orderID string) error {
	ctx, cancel := context.WithTimeout(ctx, p.Deadline)
	defer cancel()

	budget := p.RetryBudget
	for {
		res, err := p.Gateway.QueryTrade(ctx, orderID)
		if err != nil {
			if ctx.Err() != nil {
				return ErrPayTimedOut
			}
			// Transport trouble gets the same treatment as the gateway's own
			// unavailable code: burn budget and ask again.
			p.Log.Warn().Err(err).Str("order_id", orderID).Msg("trade query failed, retrying")
			if budget--; budget <= 0 {
				return ErrPayTimedOut
			}
			if !p.sleep(ctx, p.RetryInterval) {
				return ErrPayTimedOut
			}
			continue
		}

		switch {
		case res.Code == CodeOK && res.TradeStatus == TradePaid:
			if err := p.Orders.MarkSettled(ctx, orderID, res.TradeNo); err != nil {
				return fmt.Errorf("record settlement for %s: %w", orderID, err)
			}
			return nil

		case res.Code == CodeOK && res.TradeStatus == TradeAwaitingBuyer:
			if !p.sleep(ctx, p.AwaitInterval) {
				return ErrPayTimedOut
			}

		case res.Code == CodeUnavailable || res.Code == CodeBusyRetry:
			if budget--; budget <= 0 {
				return ErrPayTimedOut
			}
			if !p.sleep(ctx, p.RetryInterval) {
				return ErrPayTimedOut
			}

		default:
			return fmt.Errorf("%w: code=%s status=%s", ErrPayFailed, res.Code, res.TradeStatus)
		}
	}
}

// sleep waits d or reports false when the deadline fires first.
func (p *Poller) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
