package service

import (
	"github.com/shopspring/decimal"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/models"
)

var hundred = decimal.NewFromInt(100)

// AmountInCents converts a decimal total into minor units, rounding half
// away from zero.
func AmountInCents(total decimal.Decimal) int64 {
	return total.Mul(hundred).Round(0).IntPart()
}

// ItemsSubtotal sums unit price times quantity over the items.
func ItemsSubtotal(items []models.OrderItem) decimal.Decimal {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return subtotal
}
