// Package checkout drives a cart through address capture, order creation,
// payment and shipment to a terminal state. The orchestrator is the only
// writer of order status transitions; every other component is invoked by it.
package checkout

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bazaarlabs/bazaar/internal/cart"
	"github.com/bazaarlabs/bazaar/internal/domain"
	"github.com/bazaarlabs/bazaar/internal/orders"
	"github.com/bazaarlabs/bazaar/internal/payment"
	"github.com/bazaarlabs/bazaar/internal/pricing"
)

type State string

const (
	StateAddress         State = "address"
	StatePayment         State = "payment"
	StateOrderCreated    State = "order_created"
	StateAwaitingPayment State = "awaiting_payment_result"
	StateVerifying       State = "verifying"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

// Session is one checkout attempt for one owner. Sessions are driven by a
// single UI and are not safe for concurrent use; the busy flag only guards
// against re-entrant submission of the same step.
type Session struct {
	Owner         cart.Owner
	CustomerEmail string
	State         State
	Order         *domain.Order
	Payment       *domain.PaymentDetails
	FailureReason string

	busy bool
}

func NewSession(owner cart.Owner, customerEmail string) *Session {
	return &Session{
		Owner:         owner,
		CustomerEmail: customerEmail,
		State:         StateAddress,
	}
}

// Terminal reports whether the session reached Completed or Failed; no
// orchestrator-driven transition happens from there.
func (s *Session) Terminal() bool {
	return s.State == StateCompleted || s.State == StateFailed
}

// CartService is the slice of the cart store the orchestrator needs.
type CartService interface {
	Get(ctx context.Context, owner cart.Owner) *domain.Cart
	SaveShippingAddress(ctx context.Context, owner cart.Owner, address domain.Address) *domain.Cart
	Clear(ctx context.Context, owner cart.Owner) *domain.Cart
}

// OrderRepository is the single source of truth for order state.
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	UpdateStatus(ctx context.Context, orderID string, update orders.StatusUpdate) error
}

// PaymentStore records payment attempts. One row per attempt; retries create
// a new record.
type PaymentStore interface {
	Create(ctx context.Context, details *domain.PaymentDetails) error
	AttachGatewayOrder(ctx context.Context, paymentID, gatewayOrderID string) error
	MarkStatus(ctx context.Context, paymentID string, status domain.PaymentStatus, failureReason string) error
}

// ShipmentCreator creates a carrier shipment for a paid order.
type ShipmentCreator interface {
	CreateShipment(ctx context.Context, order *domain.Order) (string, error)
}

// Publisher emits domain events. May be nil when messaging is not
// configured.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type Orchestrator struct {
	carts     CartService
	orders    OrderRepository
	payments  PaymentStore
	gateway   payment.Gateway
	shipments ShipmentCreator
	events    Publisher
	alerts    Publisher
	logger    *slog.Logger
}

func New(carts CartService, orderRepo OrderRepository, payments PaymentStore, gateway payment.Gateway, shipments ShipmentCreator, events, alerts Publisher, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		carts:     carts,
		orders:    orderRepo,
		payments:  payments,
		gateway:   gateway,
		shipments: shipments,
		events:    events,
		alerts:    alerts,
		logger:    logger,
	}
}

// SubmitAddress validates and stores the shipping address, then moves the
// session to the payment step. Validation failure keeps the session at the
// address step and reports field-level errors.
func (o *Orchestrator) SubmitAddress(ctx context.Context, s *Session, address domain.Address) error {
	if s.Terminal() {
		return ErrInvalidTransition
	}

	if verr := address.Validate(); verr != nil {
		return verr
	}

	o.carts.SaveShippingAddress(ctx, s.Owner, address)
	if s.State == StateAddress {
		s.State = StatePayment
	}
	return nil
}

// EnterPayment moves the session into the payment step. It is rejected, and
// the session pushed back to the address step, when no address is saved; an
// empty cart sends the caller back to the cart view instead.
func (o *Orchestrator) EnterPayment(ctx context.Context, s *Session) error {
	if s.Terminal() {
		return ErrInvalidTransition
	}

	current := o.carts.Get(ctx, s.Owner)
	if current.ShippingAddress == nil {
		s.State = StateAddress
		return ErrNoShippingAddress
	}
	if current.IsEmpty() {
		return ErrEmptyCart
	}

	if s.State == StateAddress {
		s.State = StatePayment
	}
	return nil
}

// InitiatePayment creates the order (once per session), records a payment
// attempt and, for online methods, opens a gateway session. For cash on
// delivery the external gateway is skipped entirely and the order completes
// in the same call.
func (o *Orchestrator) InitiatePayment(ctx context.Context, s *Session, method domain.PaymentMethod, discount decimal.Decimal) (*domain.PaymentDetails, error) {
	if s.busy {
		return nil, ErrCheckoutInFlight
	}
	if s.Terminal() || s.State == StateAwaitingPayment || s.State == StateVerifying {
		return nil, ErrInvalidTransition
	}
	if !method.Valid() {
		return nil, ErrInvalidTransition
	}
	s.busy = true
	defer func() { s.busy = false }()

	if err := o.ensureOrder(ctx, s, method, discount); err != nil {
		return nil, err
	}

	details := &domain.PaymentDetails{
		OrderID:       s.Order.ID,
		Amount:        s.Order.TotalAmount,
		Currency:      "INR",
		PaymentMethod: method,
		Status:        domain.PaymentStatusPending,
	}
	if err := o.payments.Create(ctx, details); err != nil {
		return nil, err
	}
	s.Payment = details

	if method.Offline() {
		if err := o.updateOrder(ctx, s.Order.ID, orders.StatusUpdate{
			Status:        statusPtr(domain.OrderStatusProcessing),
			PaymentStatus: paymentStatusPtr(domain.PaymentStatusPending),
		}); err != nil {
			return nil, err
		}
		s.Order.Status = domain.OrderStatusProcessing
		s.Order.PaymentStatus = domain.PaymentStatusPending

		o.complete(ctx, s)
		return details, nil
	}

	session, err := o.gateway.CreateSession(ctx, s.Order)
	if err != nil {
		// No payment was attempted; the order stays pending so the user
		// can retry. The failed attempt is closed out for the audit trail.
		if markErr := o.payments.MarkStatus(ctx, details.ID, domain.PaymentStatusFailed, err.Error()); markErr != nil {
			o.logger.Error("failed to mark payment attempt failed", "error", markErr, "payment_id", details.ID)
		}
		o.logger.Error("payment session creation failed", "error", err, "order_id", s.Order.ID)
		return nil, err
	}

	if err := o.payments.AttachGatewayOrder(ctx, details.ID, session.GatewayOrderID); err != nil {
		o.logger.Error("failed to attach gateway order id", "error", err, "payment_id", details.ID)
	}
	details.GatewayOrderID = session.GatewayOrderID
	details.GatewayKey = session.GatewayKey
	s.Order.GatewayOrderID = session.GatewayOrderID

	s.State = StateAwaitingPayment
	o.logger.Info("payment session created", "order_id", s.Order.ID, "gateway_order_id", session.GatewayOrderID)
	return details, nil
}

// ConfirmPayment verifies the gateway callback. A signature match marks the
// order processing and completes checkout; a mismatch or a verification-call
// failure marks order and payment failed and leaves the cart untouched so
// the user can retry from scratch.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, s *Session, gatewayOrderID, gatewayPaymentID, signature string) error {
	if s.busy {
		return ErrCheckoutInFlight
	}
	if s.State != StateAwaitingPayment {
		return ErrInvalidTransition
	}
	s.busy = true
	defer func() { s.busy = false }()

	s.State = StateVerifying

	ok, err := o.gateway.Verify(ctx, gatewayOrderID, gatewayPaymentID, signature)
	if err != nil {
		o.logger.Error("payment verification call failed", "error", err, "order_id", s.Order.ID)
		return o.failPayment(ctx, s, "verification unavailable: "+err.Error())
	}
	if !ok {
		o.logger.Warn("payment signature mismatch", "order_id", s.Order.ID, "gateway_order_id", gatewayOrderID)
		return o.failPayment(ctx, s, "signature mismatch")
	}

	if err := o.updateOrder(ctx, s.Order.ID, orders.StatusUpdate{
		Status:        statusPtr(domain.OrderStatusProcessing),
		PaymentStatus: paymentStatusPtr(domain.PaymentStatusCompleted),
	}); err != nil {
		// Payment verified but the status write keeps failing; surface it
		// rather than redirecting on unconfirmed state. The session stays
		// confirmable so the caller can retry.
		s.State = StateAwaitingPayment
		return err
	}
	s.Order.Status = domain.OrderStatusProcessing
	s.Order.PaymentStatus = domain.PaymentStatusCompleted

	if err := o.payments.MarkStatus(ctx, s.Payment.ID, domain.PaymentStatusCompleted, ""); err != nil {
		o.logger.Error("failed to mark payment completed", "error", err, "payment_id", s.Payment.ID)
	}
	s.Payment.Status = domain.PaymentStatusCompleted

	o.complete(ctx, s)
	return nil
}

// ensureOrder creates the order record on first reach of the payment step
// and reuses it afterwards, so re-entering the step never creates a
// duplicate.
func (o *Orchestrator) ensureOrder(ctx context.Context, s *Session, method domain.PaymentMethod, discount decimal.Decimal) error {
	if s.Order != nil {
		return nil
	}

	if !s.Owner.Authenticated() {
		return ErrAuthRequired
	}

	current := o.carts.Get(ctx, s.Owner)
	if current.IsEmpty() {
		return ErrEmptyCart
	}
	if current.ShippingAddress == nil {
		return ErrNoShippingAddress
	}

	quote := pricing.Compute(current.Subtotal(), discount)
	order := &domain.Order{
		UserID:          s.Owner.UserID,
		CustomerEmail:   s.CustomerEmail,
		CustomerName:    current.ShippingAddress.Name,
		ShippingAddress: *current.ShippingAddress,
		Items:           current.CloneLines(),
		SubtotalAmount:  quote.Subtotal,
		ShippingAmount:  quote.Shipping,
		TaxAmount:       quote.Tax,
		DiscountAmount:  quote.Discount,
		TotalAmount:     quote.Total,
		PaymentMethod:   string(method),
		Status:          domain.OrderStatusPending,
	}

	if err := o.orders.Create(ctx, order); err != nil {
		return err
	}

	s.Order = order
	s.State = StateOrderCreated
	o.logger.Info("order created", "order_id", order.ID, "user_id", order.UserID, "total", order.TotalAmount)
	return nil
}

// complete runs the success tail: shipment creation, cart clearing (exactly
// once, only here) and the completion event. A shipment failure after a
// captured payment is alerted for manual reconciliation, never rolled back.
func (o *Orchestrator) complete(ctx context.Context, s *Session) {
	shipmentID, err := o.shipments.CreateShipment(ctx, s.Order)
	if err != nil {
		o.logger.Error("shipment creation failed for paid order, queueing reconciliation",
			"error", err, "order_id", s.Order.ID, "payment_status", s.Order.PaymentStatus)
		o.publishAlert(ctx, s.Order, err)
	} else {
		s.Order.ShipmentID = shipmentID
		if err := o.updateOrder(ctx, s.Order.ID, orders.StatusUpdate{ShipmentID: &shipmentID}); err != nil {
			o.logger.Error("failed to persist shipment id", "error", err, "order_id", s.Order.ID, "shipment_id", shipmentID)
		}
	}

	o.carts.Clear(ctx, s.Owner)
	s.State = StateCompleted

	if o.events != nil {
		event := domain.OrderCompletedEvent{
			OrderID:       s.Order.ID,
			UserID:        s.Order.UserID,
			CustomerName:  s.Order.CustomerName,
			Phone:         s.Order.ShippingAddress.Phone,
			TotalAmount:   s.Order.TotalAmount,
			PaymentMethod: s.Order.PaymentMethod,
			ShipmentID:    s.Order.ShipmentID,
			Timestamp:     time.Now().UTC(),
		}
		if err := o.events.Publish(ctx, s.Order.ID, event); err != nil {
			o.logger.Error("failed to publish order completed event", "error", err, "order_id", s.Order.ID)
		}
	}

	o.logger.Info("checkout completed", "order_id", s.Order.ID, "shipment_id", s.Order.ShipmentID)
}

// failPayment is the shared tail for signature mismatch and verification
// unavailability. The cart is deliberately left as-is so the user can retry
// without re-entering items.
func (o *Orchestrator) failPayment(ctx context.Context, s *Session, reason string) error {
	if err := o.updateOrder(ctx, s.Order.ID, orders.StatusUpdate{
		Status:        statusPtr(domain.OrderStatusFailed),
		PaymentStatus: paymentStatusPtr(domain.PaymentStatusFailed),
	}); err != nil {
		o.logger.Error("failed to mark order failed", "error", err, "order_id", s.Order.ID)
	}
	s.Order.Status = domain.OrderStatusFailed
	s.Order.PaymentStatus = domain.PaymentStatusFailed

	if err := o.payments.MarkStatus(ctx, s.Payment.ID, domain.PaymentStatusFailed, reason); err != nil {
		o.logger.Error("failed to record payment failure", "error", err, "payment_id", s.Payment.ID)
	}
	s.Payment.Status = domain.PaymentStatusFailed
	s.Payment.FailureReason = reason

	s.FailureReason = reason
	s.State = StateFailed
	return nil
}

// updateOrder retries a failed status write exactly once before surfacing
// the persistence error.
func (o *Orchestrator) updateOrder(ctx context.Context, orderID string, update orders.StatusUpdate) error {
	err := o.orders.UpdateStatus(ctx, orderID, update)
	if err == nil {
		return nil
	}

	o.logger.Warn("order status update failed, retrying", "error", err, "order_id", orderID)
	if err := o.orders.UpdateStatus(ctx, orderID, update); err != nil {
		return err
	}
	return nil
}

func (o *Orchestrator) publishAlert(ctx context.Context, order *domain.Order, cause error) {
	if o.alerts == nil {
		return
	}
	alert := domain.FulfillmentAlertEvent{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Reason:    cause.Error(),
		Timestamp: time.Now().UTC(),
	}
	if err := o.alerts.Publish(ctx, order.ID, alert); err != nil {
		o.logger.Error("failed to publish fulfillment alert", "error", err, "order_id", order.ID)
	}
}

func statusPtr(s domain.OrderStatus) *domain.OrderStatus {
	return &s
}

func paymentStatusPtr(s domain.PaymentStatus) *domain.PaymentStatus {
	return &s
}
