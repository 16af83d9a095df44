package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeToHTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrCodeInvalidStateTransition:  http.StatusConflict,
		ErrCodeInsufficientFunds:       http.StatusBadRequest,
		ErrCodeDuplicateIdempotencyKey: http.StatusOK,
		ErrCodeGatewayRetryable:        http.StatusServiceUnavailable,
		ErrCodeGatewayTerminal:         http.StatusBadGateway,
		ErrCodeLedgerImbalance:         http.StatusInternalServerError,
		ErrCodeWebhookSignatureInvalid: http.StatusUnauthorized,
		ErrCodeConflict:                http.StatusConflict,
		ErrCodeWalletFrozen:            http.StatusLocked,
		ErrCodeRateLimited:             http.StatusTooManyRequests,
	}
	for code, status := range cases {
		assert.Equal(t, status, New(code, "x").HTTPStatus, code)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(cause, ErrCodeDatabaseError, "не удалось сохранить")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeDatabaseError, CodeOf(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestHelpersSeeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("order service: accept: %w", ErrOrderNotFound)

	assert.True(t, IsNotFound(err))
	assert.False(t, IsConflict(err))
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.Equal(t, ErrCodeInternal, CodeOf(errors.New("plain")))
}
