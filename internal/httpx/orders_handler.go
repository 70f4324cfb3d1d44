package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/freshmart/go-storefront/internal/cart"
	kafkax "github.com/freshmart/go-storefront/internal/kafka"
	"github.com/freshmart/go-storefront/internal/order"
	"github.com/freshmart/go-storefront/internal/payment"
	"github.com/freshmart/go-storefront/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

type OrdersHandler struct {
	Engine   *order.Engine
	Repo     *order.Repo
	Gateway  payment.Client
	Poller   *payment.Poller
	Producer *kafkax.Producer
	Redis    *redis.Client
	Service  string
	Log      zerolog.Logger
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders/place", h.placeOrder)
	r.Post("/orders", h.commitOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/pay", h.payOrder)
	r.Post("/orders/{id}/check", h.checkOrder)
	r.Post("/orders/{id}/comments", h.commentOrder)
	r.Get("/skus", h.listSKUs)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeCommitErr maps the engine taxonomy onto status codes. Insufficient
// stock is an expected outcome under contention, so it goes out as a plain
// conflict without error logging.
func (h *OrdersHandler) writeCommitErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrValidation):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrSKUNotFound), errors.Is(err, order.ErrOrderNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrInsufficientStock),
		errors.Is(err, order.ErrContentionExhausted),
		errors.Is(err, cart.ErrEntryMissing):
		writeErr(w, http.StatusConflict, err.Error())
	default:
		h.Log.Error().Err(err).Msg("order commit storage error")
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}

type placeOrderReq struct {
	UserID int64   `json:"user_id"`
	SKUIDs []int64 `json:"sku_ids"`
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	sum, err := h.Engine.Preview(ctx, req.UserID, req.SKUIDs)
	if err != nil {
		h.writeCommitErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type commitOrderReq struct {
	UserID    int64           `json:"user_id"`
	SKUIDs    []int64         `json:"sku_ids"`
	AddressID int64           `json:"address_id"`
	PayMethod order.PayMethod `json:"pay_method"`
}

func (h *OrdersHandler) commitOrder(w http.ResponseWriter, r *http.Request) {
	var req commitOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	sum, err := h.Engine.CommitOrder(ctx, req.UserID, req.SKUIDs, req.AddressID, req.PayMethod)
	if err != nil {
		h.writeCommitErr(w, err)
		return
	}

	statusKey := fmt.Sprintf(redisx.KeyOrderStatus, sum.OrderID)
	_ = h.Redis.Set(ctx, statusKey, fmt.Sprintf(`{"status":%q}`, sum.Status), redisx.TTLStatusCache).Err()

	h.publishPlaced(req, sum, r.Header.Get("X-Request-Id"))
	writeJSON(w, http.StatusCreated, sum)
}

func (h *OrdersHandler) publishPlaced(req commitOrderReq, sum *order.CommitSummary, traceID string) {
	lines := make([]order.PlacedLine, 0, len(sum.Lines))
	for _, l := range sum.Lines {
		lines = append(lines, order.PlacedLine{SKUID: l.SKUID, Qty: l.Qty, UnitCents: l.UnitCents})
	}
	ev := order.Envelope{
		EventID:       uuid.NewString(),
		EventType:     order.EventOrderPlaced,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       traceID,
		CorrelationID: sum.OrderID,
		Payload: kafkax.MustMarshal(order.OrderPlacedPayload{
			OrderID:      sum.OrderID,
			UserID:       req.UserID,
			PayMethod:    req.PayMethod,
			Lines:        lines,
			TotalCount:   sum.TotalCount,
			GoodsCents:   sum.GoodsCents,
			FreightCents: sum.FreightCents,
		}),
	}
	h.Producer.Publish(order.PartitionKey(sum.OrderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(order.EventOrderPlaced)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeErr(w, http.StatusBadRequest, "missing id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Repo.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			writeErr(w, http.StatusNotFound, "not found")
			return
		}
		h.Log.Error().Err(err).Str("order_id", orderID).Msg("get order failed")
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	lines, err := h.Repo.GetOrderLines(ctx, orderID)
	if err != nil {
		h.Log.Error().Err(err).Str("order_id", orderID).Msg("get order lines failed")
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order_id":         o.ID,
		"status":           o.Status,
		"pay_method":       o.PayMethod,
		"total_count":      o.TotalCount,
		"goods_cents":      o.GoodsCents,
		"freight_cents":    o.FreightCents,
		"payable_cents":    o.PayableCents(),
		"gateway_trade_no": o.GatewayTradeNo,
		"lines":            lines,
	})
}

type userReq struct {
	UserID int64 `json:"user_id"`
}

// payOrder asks the gateway for a redirect URL; the buyer finishes payment
// there and the check endpoint confirms it afterwards.
func (h *OrdersHandler) payOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req userReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Repo.GetOrderForUser(ctx, orderID, req.UserID)
	if err != nil {
		h.writeCommitErr(w, err)
		return
	}
	if o.PayMethod != order.PayGateway || o.Status != order.StatusAwaitingPayment {
		writeErr(w, http.StatusConflict, "order is not payable via gateway")
		return
	}

	payURL, err := h.Gateway.CreateTrade(ctx, payment.CreateTradeReq{
		MerchantOrderID: o.ID,
		AmountCents:     o.PayableCents(),
		Subject:         fmt.Sprintf("storefront order %s", o.ID),
	})
	if err != nil {
		h.Log.Error().Err(err).Str("order_id", o.ID).Msg("create trade failed")
		writeErr(w, http.StatusBadGateway, "payment gateway unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pay_url": payURL})
}

// checkOrder blocks while the poller waits for settlement. Distinct outcomes
// for "did not go through" vs "still unknown, retry later".
func (h *OrdersHandler) checkOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req userReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	o, err := h.Repo.GetOrderForUser(r.Context(), orderID, req.UserID)
	if err != nil {
		h.writeCommitErr(w, err)
		return
	}
	if o.PayMethod != order.PayGateway {
		writeErr(w, http.StatusConflict, "order has no gateway payment to confirm")
		return
	}
	if o.Status == order.StatusSettled {
		writeJSON(w, http.StatusOK, map[string]any{"status": o.Status, "gateway_trade_no": o.GatewayTradeNo})
		return
	}

	err = h.Poller.PollUntilSettled(r.Context(), orderID)
	switch {
	case err == nil:
		settled, gerr := h.Repo.GetOrder(r.Context(), orderID)
		if gerr != nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": order.StatusSettled})
			return
		}
		statusKey := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
		_ = h.Redis.Set(r.Context(), statusKey, fmt.Sprintf(`{"status":%q}`, settled.Status), redisx.TTLStatusCache).Err()
		writeJSON(w, http.StatusOK, map[string]any{"status": settled.Status, "gateway_trade_no": settled.GatewayTradeNo})
	case errors.Is(err, payment.ErrPayTimedOut):
		writeErr(w, http.StatusGatewayTimeout, "payment confirmation timed out, retry later")
	case errors.Is(err, payment.ErrPayFailed):
		writeErr(w, http.StatusPaymentRequired, "payment did not go through")
	default:
		h.Log.Error().Err(err).Str("order_id", orderID).Msg("confirmation poll failed")
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}

type commentReq struct {
	UserID   int64            `json:"user_id"`
	Comments map[int64]string `json:"comments"` // sku_id -> text
}

func (h *OrdersHandler) commentOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req commentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Repo.AddLineComments(ctx, orderID, req.UserID, req.Comments); err != nil {
		h.writeCommitErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(order.StatusCompleted)})
}

func (h *OrdersHandler) listSKUs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	skus, err := h.Repo.ListSKUs(ctx)
	if err != nil {
		h.Log.Error().Err(err).Msg("list skus failed")
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, skus)
}
