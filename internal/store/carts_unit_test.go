package store

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencollect/tcgstore/internal/database"
	"github.com/opencollect/tcgstore/internal/models"
)

func TestParseCartAction(t *testing.T) {
	for _, s := range []string{"add", "remove", "delete"} {
		action, err := ParseCartAction(s)
		require.NoError(t, err)
		assert.Equal(t, CartAction(s), action)
	}

	_, err := ParseCartAction("increment")
	assert.ErrorIs(t, err, database.ErrInvalidInput)

	_, err = ParseCartAction("")
	assert.ErrorIs(t, err, database.ErrInvalidInput)
}

func TestCartTotals(t *testing.T) {
	items := []models.CartItem{
		{Quantity: 3, UnitPrice: decimal.RequireFromString("10.00")},
		{Quantity: 2, UnitPrice: decimal.RequireFromString("7.50")},
	}

	subtotal, total := CartTotals(items, DeliveryFee)
	assert.True(t, subtotal.Equal(decimal.RequireFromString("45.00")), "subtotal %s", subtotal)
	assert.True(t, total.Equal(decimal.RequireFromString("60.00")), "total %s", total)
}

func TestCartTotalsEmpty(t *testing.T) {
	subtotal, total := CartTotals(nil, DeliveryFee)
	assert.True(t, subtotal.IsZero())
	assert.True(t, total.Equal(DeliveryFee))
}

func TestCartItemSubtotal(t *testing.T) {
	item := models.CartItem{Quantity: 4, UnitPrice: decimal.RequireFromString("120.50")}
	assert.True(t, item.Subtotal().Equal(decimal.RequireFromString("482.00")))
}
