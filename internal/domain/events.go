package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderCompletedEvent is published when a checkout reaches its success
// terminal state. Consumed by the notification worker.
type OrderCompletedEvent struct {
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	CustomerName  string          `json:"customer_name"`
	Phone         string          `json:"phone"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentMethod string          `json:"payment_method"`
	ShipmentID    string          `json:"shipment_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// FulfillmentAlertEvent flags an order whose payment was captured but whose
// shipment could not be created. It feeds a manual reconciliation queue;
// the captured payment is never reversed automatically.
type FulfillmentAlertEvent struct {
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}
