package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Gateway result codes. CodeOK means the call itself worked;
// the trade status says where the money is.
const (
	CodeOK          = "10000"
	CodeUnavailable = "20000" // service unavailable, retry later
	CodeBusyRetry   = "40004" // call ok, business processing failed, retry later

	TradePaid          = "TRADE_SUCCESS"
	TradeAwaitingBuyer = "WAIT_BUYER_PAY"
)

type CreateTradeReq struct {
	MerchantOrderID string `json:"merchant_order_id"`
	AmountCents     int64  `json:"amount_cents"`
	Subject         string `json:"subject"`
	ReturnURL       string `json:"return_url,omitempty"`
	NotifyURL       string `json:"notify_url,omitempty"`
}

type TradeResult struct {
	Code        string `json:"code"`
	TradeStatus string `json:"trade_status"`
	TradeNo     string `json:"trade_no"`
}

// Client is the request/response surface this system needs from the payment
// gateway; settlement internals stay on the gateway's side.
type Client interface {
	CreateTrade(ctx context.Context, req CreateTradeReq) (payURL string, err error)
	QueryTrade(ctx context.Context, merchantOrderID string) (TradeResult, error)
}

// HTTPClient speaks the gateway's JSON API. One instance per process,
// injected where needed.
type HTTPClient struct {
	BaseURL string
	AppID   string
	HC      *http.Client
}

func NewHTTPClient(baseURL, appID string) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		AppID:   appID,
		HC:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) post(ctx context.Context, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HC.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway %s: http %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type createTradeResp struct {
	Code   string `json:"code"`
	PayURL string `json:"pay_url"`
	Msg    string `json:"msg,omitempty"`
}

func (c *HTTPClient) CreateTrade(ctx context.Context, req CreateTradeReq) (string, error) {
	payload := struct {
		AppID string `json:"app_id"`
		CreateTradeReq
	}{AppID: c.AppID, CreateTradeReq: req}

	var out createTradeResp
	if err := c.post(ctx, "/gateway/trade.create", payload, &out); err != nil {
		return "", err
	}
	if out.Code != CodeOK {
		return "", fmt.Errorf("gateway trade.create: code=%s msg=%s", out.Code, out.Msg)
	}
	return out.PayURL, nil
}

func (c *HTTPClient) QueryTrade(ctx context.Context, merchantOrderID string) (TradeResult, error) {
	payload := struct {
		AppID           string `json:"app_id"`
		MerchantOrderID string `json:"merchant_order_id"`
	}{AppID: c.AppID, MerchantOrderID: merchantOrderID}

	var out TradeResult
	if err := c.post(ctx, "/gateway/trade.query", payload, &out); err != nil {
		return TradeResult{}, err
	}
	return out, nil
}
