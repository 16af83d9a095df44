// Package restgateway HTTP-адаптер платёжного шлюза.
package restgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/gateway"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	http *resty.Client
}

func New(cfg Config) *Client {
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		c.SetAuthToken(cfg.APIKey)
	}
	return &Client{http: c}
}

type chargeBody struct {
	OrderID   string `json:"order_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Method    string `json:"method"`
	ReturnURL string `json:"return_url,omitempty"`
}

type payoutBody struct {
	WithdrawalID string          `json:"withdrawal_id"`
	UserID       string          `json:"user_id"`
	Amount       string          `json:"amount"`
	Currency     string          `json:"currency"`
	Destination  json.RawMessage `json:"destination"`
}

// JSON ответ шлюза
type answer struct {
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	RedirectURL string `json:"redirect_url"`
	Error       string `json:"error"`
}

func (c *Client) Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.Result, error) {
	body := chargeBody{
		OrderID:   req.OrderID.String(),
		Amount:    req.Amount.Amount.StringFixedBank(2),
		Currency:  string(req.Amount.Currency),
		Method:    req.Method,
		ReturnURL: req.ReturnURL,
	}
	return c.send(ctx, "charge", http.MethodPost, "/v1/charges", req.IdempotencyKey, body)
}

func (c *Client) Payout(ctx context.Context, req gateway.PayoutRequest) (gateway.Result, error) {
	body := payoutBody{
		WithdrawalID: req.WithdrawalID.String(),
		UserID:       req.UserID.String(),
		Amount:       req.Amount.Amount.StringFixedBank(2),
		Currency:     string(req.Amount.Currency),
		Destination:  req.Destination,
	}
	return c.send(ctx, "payout", http.MethodPost, "/v1/payouts", req.IdempotencyKey, body)
}

func (c *Client) Verify(ctx context.Context, reference string) (gateway.Result, error) {
	return c.send(ctx, "verify", http.MethodGet, "/v1/operations/"+reference, "", nil)
}

func (c *Client) send(ctx context.Context, op, method, path, key string, body any) (gateway.Result, error) {
	started := time.Now()
	r := c.http.R().SetContext(ctx)
	if key != "" {
		r.SetHeader("Idempotency-Key", key)
	}
	if body != nil {
		r.SetBody(body)
	}

	resp, err := r.Execute(method, path)
	if err != nil {
		// сеть, таймаут или отмена контекста: исход неизвестен
		return gateway.Result{}, gateway.RetryableError(op, "шлюз недоступен", err)
	}

	fields := logrus.Fields{
		"op":          op,
		"status_code": resp.StatusCode(),
		"duration_ms": time.Since(started).Milliseconds(),
	}

	var ans answer
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &ans); err != nil && !resp.IsError() {
			logger.Log.WithFields(fields).Warn("gateway: ответ не в формате JSON")
			return gateway.Result{}, gateway.RetryableError(op, "некорректный ответ шлюза", err)
		}
	}

	switch code := resp.StatusCode(); {
	case code >= 200 && code < 300:
	case code == http.StatusTooManyRequests || code >= 500:
		logger.Log.WithFields(fields).Warn("gateway: временный отказ")
		return gateway.Result{}, &gateway.Error{Class: gateway.Retryable, Op: op, StatusCode: code, Message: errorText(ans, resp)}
	default:
		logger.Log.WithFields(fields).Warn("gateway: операция отклонена")
		return gateway.Result{}, &gateway.Error{Class: gateway.Terminal, Op: op, StatusCode: code, Message: errorText(ans, resp)}
	}

	if ans.Reference == "" {
		return gateway.Result{}, gateway.RetryableError(op, "в ответе шлюза нет reference", errors.New("empty reference"))
	}
	logger.Log.WithFields(fields).WithField("reference", ans.Reference).Debug("gateway: вызов выполнен")

	return gateway.Result{
		Reference:   ans.Reference,
		Status:      gateway.Status(ans.Status),
		RedirectURL: ans.RedirectURL,
	}, nil
}

func errorText(ans answer, resp *resty.Response) string {
	if ans.Error != "" {
		return ans.Error
	}
	return fmt.Sprintf("http status %s", resp.Status())
}
