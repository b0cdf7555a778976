// Package payment integrates the hosted payment gateway: session creation
// over its REST API and local HMAC verification of completed payments.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/bazaarlabs/bazaar/internal/domain"
)

// GatewayError wraps a transport or API failure talking to the payment
// gateway. A mismatched signature is not a GatewayError; it is a valid
// negative verification result.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway: %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Session is the gateway's handle for collecting payment for one order.
type Session struct {
	GatewayOrderID string `json:"gateway_order_id"`
	GatewayKey     string `json:"gateway_key"`
}

// Gateway is the orchestrator-facing contract. Verify must return false, not
// an error, on a signature mismatch.
type Gateway interface {
	CreateSession(ctx context.Context, order *domain.Order) (*Session, error)
	Verify(ctx context.Context, gatewayOrderID, gatewayPaymentID, signature string) (bool, error)
}

// ValidSignature recomputes the expected HMAC-SHA256 of
// "<gatewayOrderID>|<gatewayPaymentID>" under secret and compares it with the
// provided hex signature.
func ValidSignature(gatewayOrderID, gatewayPaymentID, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
