package checkout

import "errors"

var (
	// ErrAuthRequired means an order or payment operation was attempted
	// without a signed-in user. Nothing is written when it is returned.
	ErrAuthRequired = errors.New("sign in required")

	// ErrEmptyCart rejects checkout with nothing to buy; the caller should
	// route back to the cart view.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrNoShippingAddress rejects entering the payment step before an
	// address has been captured.
	ErrNoShippingAddress = errors.New("shipping address required")

	// ErrCheckoutInFlight rejects re-entrant submission while a transition
	// is still running, e.g. a double-tapped pay button.
	ErrCheckoutInFlight = errors.New("checkout transition already in flight")

	// ErrInvalidTransition rejects an operation the current state does not
	// allow.
	ErrInvalidTransition = errors.New("invalid checkout transition")
)
