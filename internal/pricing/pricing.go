// Package pricing turns a cart subtotal into the frozen amounts of an order.
// Everything here is pure: the same inputs always produce the same quote, and
// rounding happens exactly once, when the quote is built.
package pricing

import "github.com/shopspring/decimal"

var (
	// FreeShippingThreshold is the subtotal at which shipping becomes free.
	FreeShippingThreshold = decimal.NewFromInt(500)
	// FlatShippingFee applies below the threshold.
	FlatShippingFee = decimal.NewFromInt(50)
	// TaxRate is the GST rate applied to the subtotal.
	TaxRate = decimal.NewFromFloat(0.18)
)

// Quote holds the computed amounts for one checkout. All values are rounded
// half-up to 2 decimal places and are meant to be copied into the order
// record verbatim.
type Quote struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Compute prices a subtotal with an externally supplied discount. A negative
// discount is treated as zero.
func Compute(subtotal, discount decimal.Decimal) Quote {
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	shipping := FlatShippingFee
	if subtotal.GreaterThanOrEqual(FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	tax := subtotal.Mul(TaxRate).Round(2)
	subtotal = subtotal.Round(2)
	discount = discount.Round(2)

	return Quote{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Discount: discount,
		Total:    subtotal.Add(shipping).Add(tax).Sub(discount),
	}
}
