// Package gateway порт внешнего платёжного шлюза: списание с покупателя,
// выплата продавцу, проверка статуса и разбор входящих вебхуков.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// Gateway вызывается только вне транзакций базы. Повтор с тем же
// IdempotencyKey не создаёт второго платежа.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (Result, error)
	Payout(ctx context.Context, req PayoutRequest) (Result, error)
	// Verify запрашивает у шлюза текущий статус операции.
	Verify(ctx context.Context, reference string) (Result, error)
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
	StatusSettled   Status = "settled"
)

type ChargeRequest struct {
	OrderID        uuid.UUID
	Amount         valueobject.Money
	Method         string
	ReturnURL      string
	IdempotencyKey string
}

type PayoutRequest struct {
	WithdrawalID   uuid.UUID
	UserID         uuid.UUID
	Amount         valueobject.Money
	Destination    json.RawMessage
	IdempotencyKey string
}

type Result struct {
	Reference   string
	Status      Status
	RedirectURL string
}

type Class int

const (
	Retryable Class = iota + 1
	Terminal
)

func (c Class) String() string {
	if c == Terminal {
		return "terminal"
	}
	return "retryable"
}

// Error отказ шлюза с классом: сетевые сбои, таймауты и 5xx повторяемы,
// отказ по карте или реквизитам окончателен.
type Error struct {
	Class      Class
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s (%s, http %d): %s", e.Op, e.Class, e.StatusCode, msg)
	}
	return fmt.Sprintf("gateway %s (%s): %s", e.Op, e.Class, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func RetryableError(op, message string, cause error) *Error {
	return &Error{Class: Retryable, Op: op, Message: message, Err: cause}
}

func TerminalError(op, message string, cause error) *Error {
	return &Error{Class: Terminal, Op: op, Message: message, Err: cause}
}

// IsRetryable считает неизвестную ошибку повторяемой: исход вызова не
// известен, а ключ идемпотентности защищает от двойного платежа.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Class == Retryable
	}
	return true
}

// ToAppError переводит отказ шлюза в ошибку API.
func ToAppError(err error) error {
	if err == nil {
		return nil
	}
	if IsRetryable(err) {
		return apperror.Wrap(err, apperror.ErrCodeGatewayRetryable, "платёжный шлюз временно недоступен, повторите позже")
	}
	return apperror.Wrap(err, apperror.ErrCodeGatewayTerminal, "платёжный шлюз отклонил операцию")
}
