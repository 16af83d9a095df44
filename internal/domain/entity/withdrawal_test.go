package entity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

func newTestWithdrawal(t *testing.T) *WithdrawalRequest {
	t.Helper()
	amount, err := valueobject.ParseMoney("40", valueobject.CurrencyUSD)
	require.NoError(t, err)
	return NewWithdrawalRequest(uuid.New(), amount, json.RawMessage(`{"type":"card"}`), "", t0)
}

func TestWithdrawalRequest_Cancel(t *testing.T) {
	t.Run("до первой попытки", func(t *testing.T) {
		w := newTestWithdrawal(t)
		require.NoError(t, w.Cancel(t0.Add(time.Minute)))
		assert.Equal(t, WithdrawalStateCancelled, w.State)
		assert.Nil(t, w.NextAttemptAt)
	})

	t.Run("после попытки без ответа шлюза", func(t *testing.T) {
		w := newTestWithdrawal(t)
		w.Attempts = 1
		w.ScheduleRetry("timeout", t0.Add(time.Minute), t0)

		err := w.Cancel(t0.Add(time.Minute))
		assert.True(t, apperror.HasCode(err, apperror.ErrCodeInvalidStateTransition))
		assert.Equal(t, WithdrawalStatePending, w.State)
	})

	t.Run("выплата принята шлюзом", func(t *testing.T) {
		w := newTestWithdrawal(t)
		require.NoError(t, w.MarkProcessing("po_1", t0))

		err := w.Cancel(t0)
		assert.True(t, apperror.HasCode(err, apperror.ErrCodeInvalidStateTransition))
		assert.Equal(t, WithdrawalStateProcessing, w.State)
	})
}
