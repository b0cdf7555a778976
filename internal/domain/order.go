package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusReturned   OrderStatus = "returned"
	OrderStatusFailed     OrderStatus = "failed"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Order is a priced, addressed snapshot of cart contents with a lifecycle
// status. Items are copied at creation time, so the cart may keep mutating
// afterwards without touching the order. TotalAmount is computed once at
// creation and never recomputed.
type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	CustomerEmail   string          `json:"customer_email"`
	CustomerName    string          `json:"customer_name"`
	ShippingAddress Address         `json:"shipping_address"`
	Items           []CartLine      `json:"items"`
	SubtotalAmount  decimal.Decimal `json:"subtotal_amount"`
	ShippingAmount  decimal.Decimal `json:"shipping_amount"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	PaymentStatus   PaymentStatus   `json:"payment_status,omitempty"`
	GatewayOrderID  string          `json:"payment_gateway_order_id,omitempty"`
	Status          OrderStatus     `json:"status"`
	ShipmentID      string          `json:"shipment_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TotalMinorUnits converts the order total to the gateway's integer
// minor-unit representation (currency units x 100). The conversion happens
// here exactly once; callers must not re-round.
func (o *Order) TotalMinorUnits() int64 {
	return o.TotalAmount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
