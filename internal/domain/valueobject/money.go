package valueobject

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// StoragePlaces количество знаков после запятой на границе хранения.
const StoragePlaces = 2

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyRUB Currency = "RUB"
)

func NewCurrency(code string) (Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", apperror.New(apperror.ErrCodeValidation, "код валюты должен состоять из трёх букв")
	}
	return Currency(code), nil
}

// Money хранит сумму без округления; округление выполняется явно через Round.
type Money struct {
	Amount   decimal.Decimal
	Currency Currency
}

func NewMoney(amount decimal.Decimal, currency Currency) (Money, error) {
	if amount.IsNegative() {
		return Money{}, apperror.New(apperror.ErrCodeValidation, "сумма не может быть отрицательной")
	}
	if currency == "" {
		currency = CurrencyUSD
	}
	return Money{Amount: amount, Currency: currency}, nil
}

func Zero(currency Currency) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// ParseMoney разбирает строку вида "100.50".
func ParseMoney(raw string, currency Currency) (Money, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Money{}, apperror.Wrap(err, apperror.ErrCodeValidation, "некорректная сумма")
	}
	return NewMoney(amount, currency)
}

// RoundStorage округляет по-банковски до точности хранения.
func RoundStorage(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(StoragePlaces)
}

func (m Money) Round() Money {
	return Money{Amount: RoundStorage(m.Amount), Currency: m.Currency}
}

func (m Money) Add(other Money) Money {
	m.mustMatch(other)
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}
}

func (m Money) Sub(other Money) Money {
	m.mustMatch(other)
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}
}

// Mul умножает сумму на коэффициент без округления.
func (m Money) Mul(factor decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(factor), Currency: m.Currency}
}

func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixedBank(StoragePlaces), m.Currency)
}

func (m Money) mustMatch(other Money) {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("valueobject: currency mismatch %s != %s", m.Currency, other.Currency))
	}
}

// FeeRate доля комиссии платформы в диапазоне [0, 1).
type FeeRate struct {
	decimal.Decimal
}

func NewFeeRate(rate decimal.Decimal) (FeeRate, error) {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return FeeRate{}, apperror.New(apperror.ErrCodeValidation, "комиссия должна быть в диапазоне [0, 1)")
	}
	return FeeRate{Decimal: rate}, nil
}

// FeeOf возвращает round(price × rate); комиссия удерживается из выплаты продавцу.
func (r FeeRate) FeeOf(price Money) Money {
	return price.Mul(r.Decimal).Round()
}
