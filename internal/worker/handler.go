// Package worker holds the Kafka consumers that run outside the request
// path: order confirmation messages and fulfillment reconciliation alerts.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bazaarlabs/bazaar/internal/domain"
)

// Messenger sends a text to a phone number.
type Messenger interface {
	SendMessage(ctx context.Context, phoneNumber, message string) error
}

// ConfirmationHandler turns order completed events into confirmation texts.
type ConfirmationHandler struct {
	messenger Messenger
	logger    *slog.Logger
}

func NewConfirmationHandler(messenger Messenger, logger *slog.Logger) *ConfirmationHandler {
	return &ConfirmationHandler{
		messenger: messenger,
		logger:    logger,
	}
}

func (h *ConfirmationHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderCompletedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal order completed event: %w", err)
	}

	h.logger.Info("processing order completed event", "order_id", event.OrderID, "user_id", event.UserID)

	if event.Phone == "" {
		h.logger.Warn("order completed event has no phone, skipping confirmation", "order_id", event.OrderID)
		return nil
	}

	message := confirmationText(event)
	if err := h.messenger.SendMessage(ctx, event.Phone, message); err != nil {
		return fmt.Errorf("send confirmation for order %s: %w", event.OrderID, err)
	}

	h.logger.Info("confirmation sent", "order_id", event.OrderID)
	return nil
}

func confirmationText(event domain.OrderCompletedEvent) string {
	if event.PaymentMethod == string(domain.PaymentMethodCOD) {
		return fmt.Sprintf("Hi %s, your order %s is confirmed. Pay Rs %s on delivery.",
			event.CustomerName, event.OrderID, event.TotalAmount.StringFixed(2))
	}
	return fmt.Sprintf("Hi %s, your order %s is confirmed. We received your payment of Rs %s.",
		event.CustomerName, event.OrderID, event.TotalAmount.StringFixed(2))
}

// AlertHandler surfaces paid orders without a shipment so the ops team can
// create one by hand. It only records; nothing is retried automatically.
type AlertHandler struct {
	logger *slog.Logger
}

func NewAlertHandler(logger *slog.Logger) *AlertHandler {
	return &AlertHandler{logger: logger}
}

func (h *AlertHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.FulfillmentAlertEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal fulfillment alert event: %w", err)
	}

	h.logger.Error("order needs manual fulfillment",
		"order_id", event.OrderID,
		"user_id", event.UserID,
		"reason", event.Reason,
		"flagged_at", event.Timestamp,
	)
	return nil
}
