// Package api exposes the storefront HTTP surface: cart manipulation, the
// checkout flow, order history with live tracking, and phone verification.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/bazaarlabs/bazaar/internal/cart"
	"github.com/bazaarlabs/bazaar/internal/checkout"
	"github.com/bazaarlabs/bazaar/internal/domain"
	"github.com/bazaarlabs/bazaar/internal/orders"
	"github.com/bazaarlabs/bazaar/internal/payment"
	"github.com/bazaarlabs/bazaar/internal/shipment"
)

// CartService is the cart surface the handlers call.
type CartService interface {
	Get(ctx context.Context, owner cart.Owner) *domain.Cart
	AddItem(ctx context.Context, owner cart.Owner, line domain.CartLine) *domain.Cart
	RemoveItem(ctx context.Context, owner cart.Owner, productID string) *domain.Cart
	UpdateQuantity(ctx context.Context, owner cart.Owner, productID string, quantity int) *domain.Cart
	RemoveShippingAddress(ctx context.Context, owner cart.Owner) *domain.Cart
	Clear(ctx context.Context, owner cart.Owner) *domain.Cart
}

// OrderReader is the read side of the order store.
type OrderReader interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByUser(ctx context.Context, userID string) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, update orders.StatusUpdate) error
}

// ShipmentService is the aggregator surface used for tracking, labels and
// cancellation.
type ShipmentService interface {
	Track(ctx context.Context, shipmentID string) (*domain.TrackingSnapshot, error)
	GenerateLabel(ctx context.Context, shipmentID string) (string, error)
	Cancel(ctx context.Context, shipmentID string) error
}

// Notifier sends and checks one-time codes.
type Notifier interface {
	SendOTP(ctx context.Context, phoneNumber string) error
	VerifyOTP(ctx context.Context, phoneNumber, code string) (bool, error)
}

type Handler struct {
	carts     CartService
	checkout  *checkout.Orchestrator
	sessions  *checkout.SessionStore
	orders    OrderReader
	shipments ShipmentService
	notifier  Notifier
	logger    *slog.Logger

	// Wrap is applied to every route when set, e.g. to stamp the matched
	// pattern onto the active span.
	Wrap func(http.HandlerFunc) http.HandlerFunc
}

func NewHandler(carts CartService, orch *checkout.Orchestrator, sessions *checkout.SessionStore, orderReader OrderReader, shipments ShipmentService, notifier Notifier, logger *slog.Logger) *Handler {
	return &Handler{
		carts:     carts,
		checkout:  orch,
		sessions:  sessions,
		orders:    orderReader,
		shipments: shipments,
		notifier:  notifier,
		logger:    logger,
	}
}

// Register wires every route onto the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	wrap := h.Wrap
	if wrap == nil {
		wrap = func(fn http.HandlerFunc) http.HandlerFunc { return fn }
	}

	mux.HandleFunc("GET /cart", wrap(h.HandleGetCart))
	mux.HandleFunc("POST /cart/items", wrap(h.HandleAddItem))
	mux.HandleFunc("PUT /cart/items/{productID}", wrap(h.HandleUpdateQuantity))
	mux.HandleFunc("DELETE /cart/items/{productID}", wrap(h.HandleRemoveItem))
	mux.HandleFunc("DELETE /cart", wrap(h.HandleClearCart))
	mux.HandleFunc("DELETE /cart/address", wrap(h.HandleRemoveAddress))

	mux.HandleFunc("GET /checkout", wrap(h.HandleCheckoutState))
	mux.HandleFunc("POST /checkout/address", wrap(h.HandleSubmitAddress))
	mux.HandleFunc("POST /checkout/payment-step", wrap(h.HandleEnterPayment))
	mux.HandleFunc("POST /checkout/payment", wrap(h.HandleInitiatePayment))
	mux.HandleFunc("POST /checkout/confirm", wrap(h.HandleConfirmPayment))

	mux.HandleFunc("GET /orders", wrap(h.HandleListOrders))
	mux.HandleFunc("GET /orders/{id}", wrap(h.HandleGetOrder))
	mux.HandleFunc("GET /orders/{id}/tracking", wrap(h.HandleTrackOrder))
	mux.HandleFunc("POST /orders/{id}/label", wrap(h.HandleGenerateLabel))
	mux.HandleFunc("POST /orders/{id}/cancel", wrap(h.HandleCancelOrder))

	mux.HandleFunc("POST /auth/otp/send", wrap(h.HandleSendOTP))
	mux.HandleFunc("POST /auth/otp/verify", wrap(h.HandleVerifyOTP))
}

// owner identifies the caller: the device id always, the user id once
// signed in. Guest carts stay device-scoped until sign-in.
func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (cart.Owner, bool) {
	deviceID := r.Header.Get("X-Device-ID")
	if deviceID == "" {
		h.writeError(w, http.StatusBadRequest, "missing X-Device-ID header")
		return cart.Owner{}, false
	}
	return cart.Owner{
		DeviceID: deviceID,
		UserID:   r.Header.Get("X-User-ID"),
	}, true
}

func (h *Handler) HandleGetCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.carts.Get(r.Context(), owner))
}

type addItemRequest struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"name"`
	UnitPrice   decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	ImageURL    string          `json:"image_url"`
}

func (h *Handler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product_id")
		return
	}
	if req.Quantity < 1 {
		h.writeError(w, http.StatusBadRequest, "quantity must be at least 1")
		return
	}

	updated := h.carts.AddItem(r.Context(), owner, domain.CartLine{
		ProductID:   req.ProductID,
		ProductName: req.ProductName,
		UnitPrice:   req.UnitPrice,
		Quantity:    req.Quantity,
		ImageURL:    req.ImageURL,
	})
	h.writeJSON(w, http.StatusOK, updated)
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) HandleUpdateQuantity(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req updateQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated := h.carts.UpdateQuantity(r.Context(), owner, r.PathValue("productID"), req.Quantity)
	h.writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) HandleRemoveItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.carts.RemoveItem(r.Context(), owner, r.PathValue("productID")))
}

func (h *Handler) HandleClearCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.carts.Clear(r.Context(), owner))
}

func (h *Handler) HandleRemoveAddress(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.carts.RemoveShippingAddress(r.Context(), owner))
}

type checkoutStateResponse struct {
	State         checkout.State         `json:"state"`
	Order         *domain.Order          `json:"order,omitempty"`
	Payment       *domain.PaymentDetails `json:"payment,omitempty"`
	FailureReason string                 `json:"failure_reason,omitempty"`
}

func sessionResponse(s *checkout.Session) checkoutStateResponse {
	return checkoutStateResponse{
		State:         s.State,
		Order:         s.Order,
		Payment:       s.Payment,
		FailureReason: s.FailureReason,
	}
}

func (h *Handler) HandleCheckoutState(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	session, ok := h.sessions.Current(owner)
	if !ok {
		h.writeJSON(w, http.StatusOK, checkoutStateResponse{State: checkout.StateAddress})
		return
	}
	h.writeJSON(w, http.StatusOK, sessionResponse(session))
}

func (h *Handler) HandleSubmitAddress(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	var address domain.Address
	if err := json.NewDecoder(r.Body).Decode(&address); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session := h.sessions.Begin(owner, r.Header.Get("X-User-Email"))
	if err := h.checkout.SubmitAddress(r.Context(), session, address); err != nil {
		h.writeCheckoutError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sessionResponse(session))
}

// HandleEnterPayment is called when the client opens the payment screen. It
// re-checks the preconditions for paying: a saved address and a non-empty
// cart. A missing address pushes the session back to the address step.
func (h *Handler) HandleEnterPayment(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	session := h.sessions.Begin(owner, r.Header.Get("X-User-Email"))
	if err := h.checkout.EnterPayment(r.Context(), session); err != nil {
		h.writeCheckoutError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sessionResponse(session))
}

type initiatePaymentRequest struct {
	Method   domain.PaymentMethod `json:"method"`
	Discount decimal.Decimal      `json:"discount"`
}

func (h *Handler) HandleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req initiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Method.Valid() {
		h.writeError(w, http.StatusBadRequest, "unknown payment method")
		return
	}

	session := h.sessions.Begin(owner, r.Header.Get("X-User-Email"))
	if _, err := h.checkout.InitiatePayment(r.Context(), session, req.Method, req.Discount); err != nil {
		h.writeCheckoutError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sessionResponse(session))
}

type confirmPaymentRequest struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

func (h *Handler) HandleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req confirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, found := h.sessions.Current(owner)
	if !found {
		h.writeError(w, http.StatusConflict, "no checkout in progress")
		return
	}

	if err := h.checkout.ConfirmPayment(r.Context(), session, req.GatewayOrderID, req.GatewayPaymentID, req.Signature); err != nil {
		h.writeCheckoutError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sessionResponse(session))
}

func (h *Handler) HandleListOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "sign in required")
		return
	}

	list, err := h.orders.GetByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

// orderForUser loads an order and hides it from everyone but its owner.
func (h *Handler) orderForUser(w http.ResponseWriter, r *http.Request) (*domain.Order, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "sign in required")
		return nil, false
	}

	order, err := h.orders.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "order not found")
			return nil, false
		}
		h.logger.Error("failed to get order", "error", err, "id", r.PathValue("id"))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	if order.UserID != userID {
		h.writeError(w, http.StatusNotFound, "order not found")
		return nil, false
	}
	return order, true
}

func (h *Handler) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.orderForUser(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

type trackingResponse struct {
	Order        *domain.Order            `json:"order"`
	Tracking     *domain.TrackingSnapshot `json:"tracking,omitempty"`
	Presentation domain.Presentation      `json:"presentation"`
}

func (h *Handler) HandleTrackOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.orderForUser(w, r)
	if !ok {
		return
	}

	resp := trackingResponse{
		Order:        order,
		Presentation: domain.StatusPresentation(order.Status),
	}

	if order.ShipmentID != "" {
		snapshot, err := h.shipments.Track(r.Context(), order.ShipmentID)
		if err != nil {
			// The order itself is still shown; live carrier data is
			// best-effort.
			h.logger.Error("failed to fetch tracking", "error", err, "order_id", order.ID, "shipment_id", order.ShipmentID)
		} else {
			resp.Tracking = snapshot
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleGenerateLabel(w http.ResponseWriter, r *http.Request) {
	order, ok := h.orderForUser(w, r)
	if !ok {
		return
	}
	if order.ShipmentID == "" {
		h.writeError(w, http.StatusConflict, "order has no shipment")
		return
	}

	labelURL, err := h.shipments.GenerateLabel(r.Context(), order.ShipmentID)
	if err != nil {
		h.logger.Error("failed to generate label", "error", err, "order_id", order.ID)
		h.writeError(w, http.StatusBadGateway, "label generation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"label_url": labelURL})
}

func (h *Handler) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.orderForUser(w, r)
	if !ok {
		return
	}

	switch order.Status {
	case domain.OrderStatusPending, domain.OrderStatusProcessing:
	default:
		h.writeError(w, http.StatusConflict, "order can no longer be cancelled")
		return
	}

	if order.ShipmentID != "" {
		if err := h.shipments.Cancel(r.Context(), order.ShipmentID); err != nil {
			h.logger.Error("failed to cancel shipment", "error", err, "order_id", order.ID, "shipment_id", order.ShipmentID)
			h.writeError(w, http.StatusBadGateway, "shipment cancellation failed")
			return
		}
	}

	cancelled := domain.OrderStatusCancelled
	if err := h.orders.UpdateStatus(r.Context(), order.ID, orders.StatusUpdate{Status: &cancelled}); err != nil {
		h.logger.Error("failed to cancel order", "error", err, "order_id", order.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	order.Status = cancelled

	h.logger.Info("order cancelled", "order_id", order.ID)
	h.writeJSON(w, http.StatusOK, order)
}

type otpRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code,omitempty"`
}

func (h *Handler) HandleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !domain.ValidPhone(req.Phone) {
		h.writeError(w, http.StatusBadRequest, "must be a 10-digit phone number")
		return
	}

	if err := h.notifier.SendOTP(r.Context(), req.Phone); err != nil {
		h.logger.Error("failed to send otp", "error", err)
		h.writeError(w, http.StatusBadGateway, "could not send verification code")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"sent": true})
}

func (h *Handler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !domain.ValidPhone(req.Phone) || req.Code == "" {
		h.writeError(w, http.StatusBadRequest, "phone and code are required")
		return
	}

	verified, err := h.notifier.VerifyOTP(r.Context(), req.Phone, req.Code)
	if err != nil {
		h.logger.Error("failed to verify otp", "error", err)
		h.writeError(w, http.StatusBadGateway, "could not verify code")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"verified": verified})
}

// writeCheckoutError maps checkout and downstream failures onto HTTP
// statuses. Field validation surfaces per-field messages for inline display.
func (h *Handler) writeCheckoutError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
		return
	}

	switch {
	case errors.Is(err, checkout.ErrAuthRequired):
		h.writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrNoShippingAddress),
		errors.Is(err, checkout.ErrCheckoutInFlight),
		errors.Is(err, checkout.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		var gwErr *payment.GatewayError
		var shipErr *shipment.ShipmentError
		if errors.As(err, &gwErr) || errors.As(err, &shipErr) {
			h.logger.Error("upstream provider failed", "error", err)
			h.writeError(w, http.StatusBadGateway, "payment provider unavailable, please retry")
			return
		}
		h.logger.Error("checkout failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
