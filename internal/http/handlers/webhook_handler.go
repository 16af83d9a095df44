package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/freelance-escrow/internal/gateway"
	"github.com/ignatzorin/freelance-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-escrow/internal/service"
)

const maxWebhookBody = 64 << 10

// GatewayEventApplier единая точка входа событий шлюза (service.PaymentService).
type GatewayEventApplier interface {
	ApplyGatewayEvent(ctx context.Context, reference, eventType, payloadHash string) (service.ApplyOutcome, error)
}

// WebhookHandler принимает обратные вызовы платёжного шлюза.
type WebhookHandler struct {
	payments GatewayEventApplier
	secret   []byte
}

func NewWebhookHandler(payments GatewayEventApplier, secret string) *WebhookHandler {
	return &WebhookHandler{payments: payments, secret: []byte(secret)}
}

// Payments POST /webhooks/payments
// Неизвестные ссылки и повторы подтверждаются 200, чтобы шлюз не слал их бесконечно.
func (h *WebhookHandler) Payments(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		common.Fail(c, apperror.Wrap(err, apperror.ErrCodeBadRequest, "не удалось прочитать тело вебхука"))
		return
	}

	wh, hash, err := gateway.ParseWebhook(h.secret, body, c.GetHeader(gateway.SignatureHeader))
	if err != nil {
		common.Fail(c, err)
		return
	}

	outcome, err := h.payments.ApplyGatewayEvent(c.Request.Context(), wh.Reference, wh.Type, hash)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}
