package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/gateway"
	"github.com/ignatzorin/freelance-escrow/internal/http/middleware"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-escrow/internal/service"
)

const testSecret = "whsec_test"

type applierMock struct{ mock.Mock }

func (m *applierMock) ApplyGatewayEvent(ctx context.Context, reference, eventType, payloadHash string) (service.ApplyOutcome, error) {
	args := m.Called(reference, eventType, payloadHash)
	return args.Get(0).(service.ApplyOutcome), args.Error(1)
}

func webhookRouter(applier GatewayEventApplier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.ErrorHandler())
	r.POST("/webhooks/payments", NewWebhookHandler(applier, testSecret).Payments)
	return r
}

func postWebhook(r http.Handler, body []byte, signature string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(gateway.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookHandler_Applies(t *testing.T) {
	body := []byte(`{"type":"payment.confirmed","reference":"ch_1"}`)
	applier := &applierMock{}
	applier.On("ApplyGatewayEvent", "ch_1", gateway.EventPaymentConfirmed, gateway.PayloadHash(body)).
		Return(service.OutcomeApplied, nil).Once()

	w := postWebhook(webhookRouter(applier), body, gateway.Sign([]byte(testSecret), body))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "applied", resp["outcome"])
	applier.AssertExpectations(t)
}

func TestWebhookHandler_UnknownReferenceIsAcknowledged(t *testing.T) {
	body := []byte(`{"type":"payment.confirmed","reference":"ch_missing"}`)
	applier := &applierMock{}
	applier.On("ApplyGatewayEvent", "ch_missing", mock.Anything, mock.Anything).
		Return(service.OutcomeUnknownReference, nil).Once()

	w := postWebhook(webhookRouter(applier), body, "sha256="+gateway.Sign([]byte(testSecret), body))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "unknown_reference")
}

func TestWebhookHandler_Rejects(t *testing.T) {
	valid := []byte(`{"type":"payment.confirmed","reference":"ch_1"}`)
	tests := []struct {
		name      string
		body      []byte
		signature string
		status    int
	}{
		{"без подписи", valid, "", http.StatusUnauthorized},
		{"чужой секрет", valid, gateway.Sign([]byte("other"), valid), http.StatusUnauthorized},
		{"подпись не hex", valid, "zzz", http.StatusUnauthorized},
		{"битый JSON", []byte(`{"type":`), gateway.Sign([]byte(testSecret), []byte(`{"type":`)), http.StatusBadRequest},
		{"нет reference", []byte(`{"type":"payment.failed"}`), gateway.Sign([]byte(testSecret), []byte(`{"type":"payment.failed"}`)), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applier := &applierMock{}
			w := postWebhook(webhookRouter(applier), tt.body, tt.signature)
			assert.Equal(t, tt.status, w.Code)
			applier.AssertNotCalled(t, "ApplyGatewayEvent", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

// Ошибка применения отдаётся не-2xx, чтобы шлюз повторил доставку.
func TestWebhookHandler_ApplyErrorAsksForRedelivery(t *testing.T) {
	body := []byte(`{"type":"payment.confirmed","reference":"ch_1"}`)
	applier := &applierMock{}
	applier.On("ApplyGatewayEvent", "ch_1", mock.Anything, mock.Anything).
		Return(service.ApplyOutcome(""), apperror.ErrWalletFrozen).Once()

	w := postWebhook(webhookRouter(applier), body, gateway.Sign([]byte(testSecret), body))
	assert.Equal(t, http.StatusLocked, w.Code)
	assert.Contains(t, w.Body.String(), string(apperror.ErrCodeWalletFrozen))
}
