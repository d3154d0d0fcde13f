package model

import "github.com/shopspring/decimal"

var (
	FlatShipping = decimal.NewFromInt(10)
	TaxRate      = decimal.RequireFromString("0.18")
)

type PriceBreakdown struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shipping"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// PriceItems applies the checkout formula: flat shipping when the subtotal is
// positive and tax on the subtotal only. The total is rounded to cents.
func PriceItems(items []OrderItem) PriceBreakdown {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return priceSubtotal(subtotal)
}

func PriceCart(items []CartItem) PriceBreakdown {
	return priceSubtotal(CartSubtotal(items))
}

func CartSubtotal(items []CartItem) decimal.Decimal {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return subtotal
}

func priceSubtotal(subtotal decimal.Decimal) PriceBreakdown {
	shipping := decimal.Zero
	if subtotal.IsPositive() {
		shipping = FlatShipping
	}
	tax := subtotal.Mul(TaxRate)
	return PriceBreakdown{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal.Add(shipping).Add(tax).Round(2),
	}
}

// OrderItemsFromCart snapshots cart lines into order lines.
func OrderItemsFromCart(items []CartItem) []OrderItem {
	out := make([]OrderItem, 0, len(items))
	for _, item := range items {
		out = append(out, OrderItem{
			ID:       item.ProductID,
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
		})
	}
	return out
}
