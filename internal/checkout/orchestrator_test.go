package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bazaarlabs/bazaar/internal/cart"
	"github.com/bazaarlabs/bazaar/internal/domain"
	"github.com/bazaarlabs/bazaar/internal/orders"
	"github.com/bazaarlabs/bazaar/internal/payment"
)

type fakeCarts struct {
	cart   *domain.Cart
	clears int
}

func (f *fakeCarts) Get(ctx context.Context, owner cart.Owner) *domain.Cart {
	return f.cart
}

func (f *fakeCarts) SaveShippingAddress(ctx context.Context, owner cart.Owner, address domain.Address) *domain.Cart {
	f.cart.ShippingAddress = &address
	return f.cart
}

func (f *fakeCarts) Clear(ctx context.Context, owner cart.Owner) *domain.Cart {
	f.clears++
	f.cart.Lines = nil
	return f.cart
}

type fakeOrderRepo struct {
	created     []*domain.Order
	updates     []orders.StatusUpdate
	updateCalls int
	failUpdates int
}

func (f *fakeOrderRepo) Create(ctx context.Context, order *domain.Order) error {
	order.ID = fmt.Sprintf("order-%d", len(f.created)+1)
	f.created = append(f.created, order)
	return nil
}

func (f *fakeOrderRepo) UpdateStatus(ctx context.Context, orderID string, update orders.StatusUpdate) error {
	f.updateCalls++
	if f.failUpdates > 0 {
		f.failUpdates--
		return &orders.PersistenceError{Op: "update order status", Err: errors.New("connection reset")}
	}
	f.updates = append(f.updates, update)
	return nil
}

func (f *fakeOrderRepo) lastUpdate(t *testing.T) orders.StatusUpdate {
	t.Helper()
	if len(f.updates) == 0 {
		t.Fatal("no status updates recorded")
	}
	return f.updates[len(f.updates)-1]
}

type fakePayments struct {
	created  []*domain.PaymentDetails
	attached map[string]string
	statuses map[string]domain.PaymentStatus
	reasons  map[string]string
}

func newFakePayments() *fakePayments {
	return &fakePayments{
		attached: map[string]string{},
		statuses: map[string]domain.PaymentStatus{},
		reasons:  map[string]string{},
	}
}

func (f *fakePayments) Create(ctx context.Context, details *domain.PaymentDetails) error {
	details.ID = fmt.Sprintf("pay-%d", len(f.created)+1)
	f.created = append(f.created, details)
	f.statuses[details.ID] = details.Status
	return nil
}

func (f *fakePayments) AttachGatewayOrder(ctx context.Context, paymentID, gatewayOrderID string) error {
	f.attached[paymentID] = gatewayOrderID
	return nil
}

func (f *fakePayments) MarkStatus(ctx context.Context, paymentID string, status domain.PaymentStatus, failureReason string) error {
	f.statuses[paymentID] = status
	f.reasons[paymentID] = failureReason
	return nil
}

type fakeGateway struct {
	sessions    int
	verifies    int
	sessionErr  error
	verifyOK    bool
	verifyErr   error
	lastVerify  [3]string
	minorAmount int64
}

func (f *fakeGateway) CreateSession(ctx context.Context, order *domain.Order) (*payment.Session, error) {
	f.sessions++
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	f.minorAmount = order.TotalMinorUnits()
	return &payment.Session{GatewayOrderID: fmt.Sprintf("gw-%d", f.sessions), GatewayKey: "key_test"}, nil
}

func (f *fakeGateway) Verify(ctx context.Context, gatewayOrderID, gatewayPaymentID, signature string) (bool, error) {
	f.verifies++
	f.lastVerify = [3]string{gatewayOrderID, gatewayPaymentID, signature}
	if f.verifyErr != nil {
		return false, f.verifyErr
	}
	return f.verifyOK, nil
}

type fakeShipments struct {
	calls int
	err   error
}

func (f *fakeShipments) CreateShipment(ctx context.Context, order *domain.Order) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "ship-1", nil
}

type fakePublisher struct {
	events []any
}

func (f *fakePublisher) Publish(ctx context.Context, key string, event any) error {
	f.events = append(f.events, event)
	return nil
}

type fixture struct {
	orch      *Orchestrator
	carts     *fakeCarts
	orders    *fakeOrderRepo
	payments  *fakePayments
	gateway   *fakeGateway
	shipments *fakeShipments
	events    *fakePublisher
	alerts    *fakePublisher
}

func validAddress() domain.Address {
	return domain.Address{
		Name: "Asha", Phone: "9876543210", AddressLine1: "12 MG Road",
		City: "Bengaluru", State: "Karnataka", Pincode: "560001",
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	addr := validAddress()
	f := &fixture{
		carts: &fakeCarts{cart: &domain.Cart{
			UserID: "user-1",
			Lines: []domain.CartLine{
				{ProductID: "p1", ProductName: "Kettle", UnitPrice: decimal.NewFromInt(200), Quantity: 2},
			},
			ShippingAddress: &addr,
		}},
		orders:    &fakeOrderRepo{},
		payments:  newFakePayments(),
		gateway:   &fakeGateway{verifyOK: true},
		shipments: &fakeShipments{},
		events:    &fakePublisher{},
		alerts:    &fakePublisher{},
	}
	f.orch = New(f.carts, f.orders, f.payments, f.gateway, f.shipments, f.events, f.alerts, slog.Default())
	return f
}

func newSession() *Session {
	return NewSession(cart.Owner{DeviceID: "device-1", UserID: "user-1"}, "asha@example.com")
}

func TestSubmitAddress_InvalidKeepsAddressStep(t *testing.T) {
	f := newFixture(t)
	s := newSession()

	err := f.orch.SubmitAddress(context.Background(), s, domain.Address{Name: "Asha", Phone: "123"})

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if s.State != StateAddress {
		t.Errorf("expected session to stay at address step, got %s", s.State)
	}
	if len(f.orders.created) != 0 {
		t.Errorf("no order should exist before payment, got %d", len(f.orders.created))
	}
}

func TestSubmitAddress_ValidAdvancesToPayment(t *testing.T) {
	f := newFixture(t)
	s := newSession()

	if err := f.orch.SubmitAddress(context.Background(), s, validAddress()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.State != StatePayment {
		t.Errorf("expected payment step, got %s", s.State)
	}
}

func TestEnterPayment_RequiresAddress(t *testing.T) {
	f := newFixture(t)
	f.carts.cart.ShippingAddress = nil
	s := newSession()
	s.State = StatePayment

	err := f.orch.EnterPayment(context.Background(), s)
	if !errors.Is(err, ErrNoShippingAddress) {
		t.Fatalf("expected ErrNoShippingAddress, got %v", err)
	}
	if s.State != StateAddress {
		t.Errorf("expected session pushed back to address step, got %s", s.State)
	}
}

func TestEnterPayment_RejectsEmptyCart(t *testing.T) {
	f := newFixture(t)
	f.carts.cart.Lines = nil
	s := newSession()
	s.State = StatePayment

	if err := f.orch.EnterPayment(context.Background(), s); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestInitiatePayment_RequiresSignIn(t *testing.T) {
	f := newFixture(t)
	s := NewSession(cart.Owner{DeviceID: "device-1"}, "")
	s.State = StatePayment

	_, err := f.orch.InitiatePayment(context.Background(), s, domain.PaymentMethodCard, decimal.Zero)
	if !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
	if len(f.orders.created) != 0 {
		t.Errorf("no order should be created for guests, got %d", len(f.orders.created))
	}
}

func TestInitiatePayment_RejectsEmptyCart(t *testing.T) {
	f := newFixture(t)
	f.carts.cart.Lines = nil
	s := newSession()
	s.State = StatePayment

	_, err := f.orch.InitiatePayment(context.Background(), s, domain.PaymentMethodCard, decimal.Zero)
	if !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestInitiatePayment_Online(t *testing.T) {
	f := newFixture(t)
	s := newSession()
	s.State = StatePayment

	details, err := f.orch.InitiatePayment(context.Background(), s, domain.PaymentMethodUPI, decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.State != StateAwaitingPayment {
		t.Errorf("expected awaiting payment state, got %s", s.State)
	}
	if len(f.orders.created) != 1 {
		t.Fatalf("expected 1 order, got %d", len(f.orders.created))
	}

	order := f.orders.created[0]
	if order.Status != domain.OrderStatusPending {
		t.Errorf("order should stay pending until verification, got %s", order.Status)
	}
	// Subtotal 400 -> shipping 50, tax 72, total 522.
	if !order.TotalAmount.Equal(decimal.NewFromInt(522)) {
		t.Errorf("expected total 522, got %s", order.TotalAmount)
	}
	if f.gateway.minorAmount != 52200 {
		t.Errorf("expected 52200 minor units sent to gateway, got %d", f.gateway.minorAmount)
	}
	if details.GatewayOrderID != "gw-1" {
		t.Errorf("expected gateway order attached to payment, got %q", details.GatewayOrderID)
	}
	if f.payments.attached[details.ID] != "gw-1" {
		t.Errorf("gateway order id not persisted on payment record")
	}
	if f.carts.clears != 0 {
		t.Errorf("cart must not be cleared before verification")
	}
}

func TestInitiatePayment_ReusesOrderAcrossRetries(t *testing.T) {
	f := newFixture(t)
	s := newSession()
	s.State = StatePayment

	f.gateway.sessionErr = &payment.GatewayError{Op: "create order", Err: errors.New("status 502")}
	_, err := f.orch.InitiatePayment(context.Background(), s, domain.PaymentMethodCard, decimal.Zero)

	var gwErr *payment.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if s.State != StateOrderCreated {
		t.Errorf("gateway failure should keep the session retryable, got %s", s.State)
	}
	if f.orders.created[0].Status != domain.OrderStatusPending {
		t.Errorf("order must stay pending after gateway failure, got %s", f.orders.created[0].Status)
	}
	if f.payments.statuses["pay-1"] != domain.PaymentStatusFailed {
		t.Errorf("failed attempt should be closed out, got %s", f.payments.statuses["pay-1"])
	}

	f.gateway.sessionErr = nil
	details, err := f.orch.InitiatePayment(context.Background(), s, domain.PaymentMethodCard, decimal.Zero)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}

	if len(f.orders.created) != 1 {
		t.Fatalf("retry must reuse the existing order, got %d orders", len(f.orders.created))
	}
	if len(f.payments.created) != 2 {
		t.Errorf("each attempt gets its own payment record, got %d", len(f.payments.created))
	}
	if details.ID != "pay-2" {
		t.Errorf("expected fresh payment record pay-2, got %s", details.ID)
	}
}

func TestInitiatePayment_CashOnDelivery(t *testing.T) {
	f := newFixture(t)
	s := newSession()
	s.State = StatePayment

	if _, err := f.orch.InitiatePayment(context.Background(), s, domain.PaymentMethodCOD, decimal.Zero); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.gateway.sessions != 0 {
		t.Errorf("cash on delivery must never call the gateway, got %d sessions", f.gateway.sessions)
	}
	if s.State != StateCompleted {
		t.Errorf("expected completed state, got %s", s.State)
	}
	if s.Order.Status != domain.OrderStatusProcessing {
		t.Errorf("expected processing order, got %s", s.Order.Status)
	}
	if s.Order.PaymentStatus != domain.PaymentStatusPending {
		t.Errorf("cod payment collects on delivery, expected pending, got %s", s.Order.PaymentStatus)
	}
	if f.shipments.calls != 1 {
		t.Errorf("expected shipment created, got %d calls", f.shipments.calls)
	}
	if f.carts.clears != 1 {
		t.Errorf("cart must be cleared exactly once, got %d", f.carts.clears)
	}
	if len(f.events.events) != 1 {
		t.Errorf("expected order completed event, got %d", len(f.events.events))
	}
}

func TestConfirmPayment_Success(t *testing.T) {
	f := newFixture(t)
	s := newSession()
	s.State = StatePayment

	if _, err := f.orch.InitiatePayment(context.Background(), s, domain.PaymentMethodCard, decimal.Zero); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if err := f.orch.ConfirmPayment(context.Background(), s, "gw-1", "pay_abc", "sig"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if s.State != StateCompleted {
		t.Errorf("expected completed, got %s", s.State)
	}
	if s.Order.Status != domain.OrderStatusProcessing {
		t.Errorf("expected processing order, got %s", s.Order.Status)
	}
	if s.Order.PaymentStatus != domain.PaymentStatusCompleted {
		t.Errorf("expected completed payment, got %s", s.Order.PaymentStatus)
	}
	if s.Order.ShipmentID != "ship-1" {
		t.Errorf("expected shipment id recorded, got %q", s.Order.ShipmentID)
	}
	if f.carts.clears != 1 {
		t.Errorf("cart must be cleared exactly once, got %d", f.carts.clears)
	}
	if f.payments.statuses["pay-1"] != domain.PaymentStatusCompleted {
		t.Errorf("payment record should be completed, got %s", f.payments.statuses["pay-1"])
	}
}

func TestConfirmPayment_SignatureMismatch(t *testing.T) {
	f := newFixture(t)
	f.gateway.verifyOK = false
	s := newSession()
	s.State = StatePayment

	if _, err := f.orch.InitiatePayment(context.Background(), s, domain.PaymentMethodCard, decimal.Zero); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	linesBefore := len(f.carts.cart.Lines)

	if err := f.orch.ConfirmPayment(context.Background(), s, "gw-1", "pay_abc", "forged"); err != nil {
		t.Fatalf("mismatch is a state outcome, not an error: %v", err)
	}

	if s.State != StateFailed {
		t.Errorf("expected failed state, got %s", s.State)
	}
	if s.Order.Status != domain.OrderStatusFailed {
		t.Errorf("expected failed order, got %s", s.Order.Status)
	}
	if s.Order.PaymentStatus != domain.PaymentStatusFailed {
		t.Errorf("expected failed payment status, got %s", s.Order.PaymentStatus)
	}
	if f.carts.clears != 0 || len(f.carts.cart.Lines) != linesBefore {
		t.Errorf("cart must survive a failed payment")
	}
	if f.shipments.calls != 0 {
		t.Errorf("no shipment on failed payment, got %d calls", f.shipments.calls)
	}
	if f.payments.reasons["pay-1"] != "signature mismatch" {
		t.Errorf("expected mismatch reason recorded, got %q", f.payments.reasons["pay-1"])
	}
}

func TestConfirmPayment_VerificationUnavailable(t *testing.T) {
	f := newFixture(t)
	f.gateway.verifyErr = errors.New("gateway timeout")
	s := newSession()
	s.State = StatePayment

	if _, err := f.orch.InitiatePayment(context.Background(), s, domain.PaymentMethodCard, decimal.Zero); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if err := f.orch.ConfirmPayment(context.Background(), s, "gw-1", "pay_abc", "sig"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.State != StateFailed {
		t.Errorf("expected failed state, got %s", s.State)
	}
	if f.carts.clears != 0 {
		t.Errorf("cart must survive verification unavailability")
	}
}

func TestConfirmPayment_RequiresAwaitingState(t *testing.T) {
	f := newFixture(t)
	s := newSession()
	s.State = StatePayment

	err := f.orch.ConfirmPayment(context.Background(), s, "gw-1", "pay_abc", "sig")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestUpdateStatus_RetriedExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.orders.failUpdates = 1
	s := newSession()
	s.State = StatePayment

	if _, err := f.orch.InitiatePayment(context.Background(), s, domain.PaymentMethodCOD, decimal.Zero); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// One failed attempt, one successful retry for the cod status write,
	// plus the shipment id write after shipment creation.
	if f.orders.updateCalls != 3 {
		t.Errorf("expected 3 update calls (fail, retry, shipment id), got %d", f.orders.updateCalls)
	}
	if s.State != StateCompleted {
		t.Errorf("retry should recover the checkout, got %s", s.State)
	}
}

func TestUpdateStatus_SecondFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	f.orders.failUpdates = 2
	s := newSession()
	s.State = StatePayment

	_, err := f.orch.InitiatePayment(context.Background(), s, domain.PaymentMethodCOD, decimal.Zero)

	var perr *orders.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError after exhausted retry, got %v", err)
	}
	if s.State == StateCompleted {
		t.Error("checkout must not complete when the status write never lands")
	}
	if f.carts.clears != 0 {
		t.Errorf("cart must not be cleared without a durable status")
	}
}

func TestShipmentFailure_AlertsButCompletes(t *testing.T) {
	f := newFixture(t)
	f.shipments.err = errors.New("aggregator returned status 500")
	s := newSession()
	s.State = StatePayment

	if _, err := f.orch.InitiatePayment(context.Background(), s, domain.PaymentMethodCard, decimal.Zero); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := f.orch.ConfirmPayment(context.Background(), s, "gw-1", "pay_abc", "sig"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if s.State != StateCompleted {
		t.Errorf("paid order completes even when shipment fails, got %s", s.State)
	}
	if s.Order.PaymentStatus != domain.PaymentStatusCompleted {
		t.Errorf("payment stands after shipment failure, got %s", s.Order.PaymentStatus)
	}
	if len(f.alerts.events) != 1 {
		t.Fatalf("expected 1 fulfillment alert, got %d", len(f.alerts.events))
	}
	alert, ok := f.alerts.events[0].(domain.FulfillmentAlertEvent)
	if !ok {
		t.Fatalf("unexpected alert type %T", f.alerts.events[0])
	}
	if alert.OrderID != s.Order.ID {
		t.Errorf("alert carries wrong order id %q", alert.OrderID)
	}
	if f.carts.clears != 1 {
		t.Errorf("cart still cleared on completion, got %d", f.carts.clears)
	}
}

func TestInitiatePayment_TerminalSessionRejected(t *testing.T) {
	f := newFixture(t)
	s := newSession()
	s.State = StatePayment

	if _, err := f.orch.InitiatePayment(context.Background(), s, domain.PaymentMethodCOD, decimal.Zero); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := f.orch.InitiatePayment(context.Background(), s, domain.PaymentMethodCOD, decimal.Zero)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on completed session, got %v", err)
	}
	if len(f.orders.created) != 1 {
		t.Errorf("completed session must not create another order, got %d", len(f.orders.created))
	}
}
