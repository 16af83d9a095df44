package currency

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// Converter переводит суммы в валюту расчётов. Курс фиксируется в заказе при
// создании, повторно не пересчитывается.
type Converter interface {
	Convert(ctx context.Context, amount valueobject.Money, to valueobject.Currency) (valueobject.Money, error)
}

// StaticConverter курсы из конфигурации относительно валюты расчётов.
// Значение rates[EUR]=0.92 означает 1 единица валюты расчётов = 0.92 EUR.
type StaticConverter struct {
	base  valueobject.Currency
	rates map[valueobject.Currency]decimal.Decimal
}

// NewStaticConverter разбирает строку вида "EUR:0.92,RUB:92.5".
func NewStaticConverter(base valueobject.Currency, rates string) (*StaticConverter, error) {
	c := &StaticConverter{
		base:  base,
		rates: map[valueobject.Currency]decimal.Decimal{base: decimal.NewFromInt(1)},
	}
	for _, pair := range strings.Split(rates, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		code, raw, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("currency: курс %q должен иметь вид CODE:RATE", pair)
		}
		cur, err := valueobject.NewCurrency(code)
		if err != nil {
			return nil, fmt.Errorf("currency: %q: %w", pair, err)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("currency: некорректный курс %q", pair)
		}
		if cur == base && !rate.Equal(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("currency: курс валюты расчётов %s должен быть 1", base)
		}
		c.rates[cur] = rate
	}
	return c, nil
}

func (c *StaticConverter) Base() valueobject.Currency {
	return c.base
}

// Convert не округляет результат: округление выполняется на границе хранения.
func (c *StaticConverter) Convert(_ context.Context, amount valueobject.Money, to valueobject.Currency) (valueobject.Money, error) {
	if amount.Currency == to {
		return amount, nil
	}
	from, ok := c.rates[amount.Currency]
	if !ok {
		return valueobject.Money{}, apperror.Newf(apperror.ErrCodeValidation, "курс для валюты %s не настроен", amount.Currency)
	}
	target, ok := c.rates[to]
	if !ok {
		return valueobject.Money{}, apperror.Newf(apperror.ErrCodeValidation, "курс для валюты %s не настроен", to)
	}
	// сначала в базовую валюту, затем в целевую; точность 8 знаков на промежуточном шаге
	inBase := amount.Amount.DivRound(from, 8)
	return valueobject.Money{Amount: inBase.Mul(target), Currency: to}, nil
}
