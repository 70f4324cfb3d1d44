package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkax "github.com/freshmart/go-storefront/internal/kafka"
	"github.com/freshmart/go-storefront/internal/order"
	"github.com/freshmart/go-storefront/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

// Mailer delivers the order-confirmation mail. Delivery itself lives behind
// this interface; the worker only decides when to send.
type Mailer interface {
	SendOrderPlaced(ctx context.Context, userID int64, orderID string, payableCents int64) error
}

// PageRegenerator rebuilds the cached storefront page after stock changed.
type PageRegenerator interface {
	RegenerateIndex(ctx context.Context) error
}

// Deduper remembers processed event ids across redeliveries.
type Deduper interface {
	MarkOnce(ctx context.Context, key string) (bool, error)
}

// RedisDedup backs Deduper with SETNX + TTL.
type RedisDedup struct {
	RDB *redis.Client
	TTL time.Duration
}

func (d RedisDedup) MarkOnce(ctx context.Context, key string) (bool, error) {
	return redisx.MarkOnce(ctx, d.RDB, key, d.TTL)
}

// Service consumes order.placed and fans the follow-up jobs out to the
// collaborators. Dedup keeps redelivered events from double-mailing.
type Service struct {
	Dedup       Deduper
	Mailer      Mailer
	Pages       PageRegenerator
	ServiceName string
	Log         zerolog.Logger
}

// HandleOrderPlaced is installed as the consumer handler.
func (s *Service) HandleOrderPlaced(ctx context.Context, m kafkago.Message) error {
	var env order.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != order.EventOrderPlaced {
		return nil // ignore
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	first, err := s.Dedup.MarkOnce(ctx, dkey)
	if err != nil {
		s.Log.Warn().Err(err).Msg("dedup check failed, processing anyway")
	} else if !first {
		return nil
	}

	p, err := kafkax.UnwrapPayload[order.OrderPlacedPayload](env.Payload)
	if err != nil {
		return err
	}

	if err := s.Mailer.SendOrderPlaced(ctx, p.UserID, p.OrderID, p.GoodsCents+p.FreightCents); err != nil {
		return fmt.Errorf("send confirmation for %s: %w", p.OrderID, err)
	}
	if err := s.Pages.RegenerateIndex(ctx); err != nil {
		return fmt.Errorf("regenerate index after %s: %w", p.OrderID, err)
	}
	s.Log.Info().Str("order_id", p.OrderID).Int64("user_id", p.UserID).Msg("order follow-up jobs done")
	return nil
}

// LogMailer and LogPages stand in for the real delivery surfaces, which are
// separate systems.
type LogMailer struct{ Log zerolog.Logger }

func (l LogMailer) SendOrderPlaced(_ context.Context, userID int64, orderID string, payableCents int64) error {
	l.Log.Info().Int64("user_id", userID).Str("order_id", orderID).
		Int64("payable_cents", payableCents).Msg("order confirmation mail queued")
	return nil
}

type LogPages struct{ Log zerolog.Logger }

func (l LogPages) RegenerateIndex(context.Context) error {
	l.Log.Info().Msg("storefront index regeneration queued")
	return nil
}
