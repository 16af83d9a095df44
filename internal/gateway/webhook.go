package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// SignatureHeader заголовок с HMAC-SHA256 тела запроса в hex.
const SignatureHeader = "X-Webhook-Signature"

const (
	EventPaymentConfirmed = "payment.confirmed"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"
	EventPayoutSettled    = "payout.settled"
	EventPayoutFailed     = "payout.failed"
)

func KnownEvent(t string) bool {
	switch t {
	case EventPaymentConfirmed, EventPaymentFailed, EventPaymentRefunded, EventPayoutSettled, EventPayoutFailed:
		return true
	}
	return false
}

// Webhook тело уведомления шлюза.
type Webhook struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type"`
	Reference string `json:"reference"`
	Reason    string `json:"reason,omitempty"`
}

// Sign подпись тела секретом вебхуков.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifySignature(secret, body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// PayloadHash отпечаток тела для дедупликации повторных доставок.
func PayloadHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// ParseWebhook проверяет подпись и разбирает тело. Подпись проверяется до
// разбора, чтобы неподписанное тело не попадало в декодер.
func ParseWebhook(secret, body []byte, signature string) (Webhook, string, error) {
	if !VerifySignature(secret, body, signature) {
		return Webhook{}, "", apperror.ErrSignatureInvalid
	}
	var wh Webhook
	if err := json.Unmarshal(body, &wh); err != nil {
		return Webhook{}, "", apperror.Wrap(err, apperror.ErrCodeBadRequest, "некорректное тело вебхука")
	}
	wh.Type = strings.TrimSpace(wh.Type)
	wh.Reference = strings.TrimSpace(wh.Reference)
	if wh.Type == "" || wh.Reference == "" {
		return Webhook{}, "", apperror.New(apperror.ErrCodeBadRequest, "в вебхуке нет type или reference")
	}
	return wh, PayloadHash(body), nil
}
