package currency

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

func TestStaticConverter_Convert(t *testing.T) {
	c, err := NewStaticConverter(valueobject.CurrencyUSD, "EUR:0.8, RUB:90")
	require.NoError(t, err)
	ctx := context.Background()

	eur := valueobject.Money{Amount: decimal.NewFromInt(80), Currency: valueobject.CurrencyEUR}
	usd, err := c.Convert(ctx, eur, valueobject.CurrencyUSD)
	require.NoError(t, err)
	assert.Equal(t, valueobject.CurrencyUSD, usd.Currency)
	assert.True(t, usd.Amount.Equal(decimal.NewFromInt(100)), usd.Amount.String())

	rub, err := c.Convert(ctx, eur, valueobject.CurrencyRUB)
	require.NoError(t, err)
	assert.True(t, rub.Amount.Equal(decimal.NewFromInt(9000)), rub.Amount.String())
}

func TestStaticConverter_SameCurrencyUntouched(t *testing.T) {
	c, err := NewStaticConverter(valueobject.CurrencyUSD, "")
	require.NoError(t, err)

	in := valueobject.Money{Amount: decimal.RequireFromString("10.005"), Currency: valueobject.CurrencyUSD}
	out, err := c.Convert(context.Background(), in, valueobject.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, out.Equal(in))
}

func TestStaticConverter_UnknownCurrency(t *testing.T) {
	c, err := NewStaticConverter(valueobject.CurrencyUSD, "EUR:0.9")
	require.NoError(t, err)

	_, err = c.Convert(context.Background(), valueobject.Money{Amount: decimal.NewFromInt(1), Currency: "GBP"}, valueobject.CurrencyUSD)
	assert.True(t, apperror.IsValidation(err))
}

func TestNewStaticConverter_BadSpec(t *testing.T) {
	for _, rates := range []string{"EUR", "EUR:abc", "EUR:-1", "USD:2", "EURO:1"} {
		_, err := NewStaticConverter(valueobject.CurrencyUSD, rates)
		assert.Error(t, err, rates)
	}
}
