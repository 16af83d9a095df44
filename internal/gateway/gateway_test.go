package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(RetryableError("charge", "timeout", context.DeadlineExceeded)))
	assert.False(t, IsRetryable(TerminalError("payout", "invalid destination", nil)))
	assert.True(t, IsRetryable(errors.New("connection reset")))
	assert.False(t, IsRetryable(fmt.Errorf("wrapped: %w", TerminalError("charge", "declined", nil))))
}

func TestToAppError(t *testing.T) {
	assert.Equal(t, apperror.ErrCodeGatewayRetryable, apperror.CodeOf(ToAppError(RetryableError("charge", "503", nil))))
	assert.Equal(t, apperror.ErrCodeGatewayTerminal, apperror.CodeOf(ToAppError(TerminalError("charge", "declined", nil))))
	assert.NoError(t, ToAppError(nil))
}

func TestParseWebhook(t *testing.T) {
	secret := []byte("whsec")
	body := []byte(`{"type":"payment.confirmed","reference":"ch_1"}`)

	wh, hash, err := ParseWebhook(secret, body, Sign(secret, body))
	require.NoError(t, err)
	assert.Equal(t, EventPaymentConfirmed, wh.Type)
	assert.Equal(t, "ch_1", wh.Reference)
	assert.Equal(t, PayloadHash(body), hash)
	assert.Len(t, hash, 64)

	_, _, err = ParseWebhook(secret, body, "sha256="+Sign(secret, body))
	assert.NoError(t, err)
}

func TestParseWebhook_BadSignature(t *testing.T) {
	secret := []byte("whsec")
	body := []byte(`{"type":"payment.confirmed","reference":"ch_1"}`)

	for _, sig := range []string{"", "zz", Sign([]byte("other"), body)} {
		_, _, err := ParseWebhook(secret, body, sig)
		assert.ErrorIs(t, err, apperror.ErrSignatureInvalid, sig)
	}

	tampered := []byte(`{"type":"payment.confirmed","reference":"ch_2"}`)
	_, _, err := ParseWebhook(secret, tampered, Sign(secret, body))
	assert.ErrorIs(t, err, apperror.ErrSignatureInvalid)
}

func TestParseWebhook_MissingFields(t *testing.T) {
	secret := []byte("whsec")
	body := []byte(`{"type":"payment.confirmed"}`)
	_, _, err := ParseWebhook(secret, body, Sign(secret, body))
	assert.Equal(t, apperror.ErrCodeBadRequest, apperror.CodeOf(err))
}
