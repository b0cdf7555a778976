package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartLine is one product entry in a cart. Quantity is always >= 1; a line
// that would reach zero is removed instead of being stored at zero.
type CartLine struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	ImageURL    string          `json:"image_url"`
}

type Cart struct {
	UserID          string     `json:"user_id,omitempty"`
	Lines           []CartLine `json:"items"`
	ShippingAddress *Address   `json:"shipping_address,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (c *Cart) ItemCount() int {
	count := 0
	for _, line := range c.Lines {
		count += line.Quantity
	}
	return count
}

func (c *Cart) Subtotal() decimal.Decimal {
	subtotal := decimal.Zero
	for _, line := range c.Lines {
		subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return subtotal
}

func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// CloneLines returns a deep copy of the cart lines for snapshotting into an
// order.
func (c *Cart) CloneLines() []CartLine {
	lines := make([]CartLine, len(c.Lines))
	copy(lines, c.Lines)
	return lines
}
