package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden       ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest      ErrorCode = "BAD_REQUEST"
	ErrCodeConflict        ErrorCode = "CONFLICT"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeDatabaseError   ErrorCode = "DATABASE_ERROR"
	ErrCodeRateLimited     ErrorCode = "RATE_LIMITED"
	ErrCodeWalletFrozen    ErrorCode = "WALLET_FROZEN"

	// Коды жизненного цикла заказа и эскроу.
	ErrCodeInvalidStateTransition  ErrorCode = "INVALID_STATE_TRANSITION"
	ErrCodeInsufficientFunds       ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCodeDuplicateIdempotencyKey ErrorCode = "DUPLICATE_IDEMPOTENCY_KEY"
	ErrCodeGatewayRetryable        ErrorCode = "GATEWAY_RETRYABLE"
	ErrCodeGatewayTerminal         ErrorCode = "GATEWAY_TERMINAL"
	ErrCodeLedgerImbalance         ErrorCode = "LEDGER_IMBALANCE"
	ErrCodeWebhookSignatureInvalid ErrorCode = "WEBHOOK_SIGNATURE_INVALID"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду, чтобы errors.Is работал с предопределёнными ошибками.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Message == e.Message
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Newf(code ErrorCode, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized, ErrCodeWebhookSignatureInvalid:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation, ErrCodeInsufficientFunds:
		return http.StatusBadRequest
	case ErrCodeConflict, ErrCodeInvalidStateTransition:
		return http.StatusConflict
	case ErrCodeDuplicateIdempotencyKey:
		return http.StatusOK
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeWalletFrozen:
		return http.StatusLocked
	case ErrCodeGatewayRetryable:
		return http.StatusServiceUnavailable
	case ErrCodeGatewayTerminal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf возвращает код ошибки приложения либо ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}

func IsForbidden(err error) bool {
	return HasCode(err, ErrCodeForbidden)
}

func IsValidation(err error) bool {
	return HasCode(err, ErrCodeValidation)
}

func IsInvalidTransition(err error) bool {
	return HasCode(err, ErrCodeInvalidStateTransition)
}

func IsConflict(err error) bool {
	return HasCode(err, ErrCodeConflict)
}

var (
	ErrOrderNotFound      = New(ErrCodeNotFound, "заказ не найден")
	ErrDisputeNotFound    = New(ErrCodeNotFound, "спор не найден")
	ErrWithdrawalNotFound = New(ErrCodeNotFound, "заявка на вывод не найдена")
	ErrOfferNotFound      = New(ErrCodeNotFound, "пакет услуги или предложение не найдены")
	ErrUnauthorized       = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden          = New(ErrCodeForbidden, "недостаточно прав")
	ErrConcurrentUpdate   = New(ErrCodeConflict, "запись изменена параллельно, повторите запрос")
	ErrInsufficientFunds  = New(ErrCodeInsufficientFunds, "недостаточно средств")
	ErrWalletFrozen       = New(ErrCodeWalletFrozen, "кошелёк заморожен до сверки")
	ErrSignatureInvalid   = New(ErrCodeWebhookSignatureInvalid, "неверная подпись вебхука")
	ErrRateLimited        = New(ErrCodeRateLimited, "превышен лимит заявок на вывод")
)
