package restgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/gateway"
)

func usd(v string) valueobject.Money {
	return valueobject.Money{Amount: decimal.RequireFromString(v), Currency: valueobject.CurrencyUSD}
}

func TestClient_Charge(t *testing.T) {
	orderID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/charges", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "hold:"+orderID.String(), r.Header.Get("Idempotency-Key"))

		var body chargeBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "100.50", body.Amount)
		assert.Equal(t, "USD", body.Currency)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"reference":"ch_42","status":"pending","redirect_url":"https://pay/ch_42"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "key", Timeout: time.Second})
	res, err := c.Charge(context.Background(), gateway.ChargeRequest{
		OrderID:        orderID,
		Amount:         usd("100.5"),
		Method:         "card",
		IdempotencyKey: "hold:" + orderID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, "ch_42", res.Reference)
	assert.Equal(t, gateway.StatusPending, res.Status)
	assert.Equal(t, "https://pay/ch_42", res.RedirectURL)
}

func TestClient_ErrorClasses(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusUnprocessableEntity, false},
		{http.StatusBadRequest, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))

		c := New(Config{BaseURL: srv.URL, Timeout: time.Second})
		_, err := c.Payout(context.Background(), gateway.PayoutRequest{WithdrawalID: uuid.New(), Amount: usd("10")})
		require.Error(t, err)
		assert.Equal(t, tc.retryable, gateway.IsRetryable(err), tc.status)

		var ge *gateway.Error
		require.ErrorAs(t, err, &ge)
		assert.Equal(t, tc.status, ge.StatusCode)
		assert.Equal(t, "nope", ge.Message)
		srv.Close()
	}
}

func TestClient_TimeoutIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	_, err := c.Verify(context.Background(), "ch_1")
	require.Error(t, err)
	assert.True(t, gateway.IsRetryable(err))
}

func TestClient_Verify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/operations/ch_7", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"reference":"ch_7","status":"confirmed"}`))
	}))
	defer srv.Close()

	res, err := New(Config{BaseURL: srv.URL, Timeout: time.Second}).Verify(context.Background(), "ch_7")
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusConfirmed, res.Status)
}
