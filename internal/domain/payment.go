package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodCard       PaymentMethod = "CARD"
	PaymentMethodUPI        PaymentMethod = "UPI"
	PaymentMethodNetbanking PaymentMethod = "NETBANKING"
	PaymentMethodWallet     PaymentMethod = "WALLET"
	PaymentMethodCOD        PaymentMethod = "COD"
)

// Offline reports whether the method settles without the external payment
// gateway (cash on delivery).
func (m PaymentMethod) Offline() bool {
	return m == PaymentMethodCOD
}

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodUPI, PaymentMethodNetbanking, PaymentMethodWallet, PaymentMethodCOD:
		return true
	}
	return false
}

// PaymentDetails is one attempted payment transaction for an order. Retries
// create a new record rather than mutating a failed one, so every attempt
// stays auditable.
type PaymentDetails struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"order_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	Status         PaymentStatus   `json:"status"`
	GatewayOrderID string          `json:"gateway_order_id,omitempty"`
	GatewayKey     string          `json:"gateway_key,omitempty"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
