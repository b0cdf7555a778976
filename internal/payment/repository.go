package payment

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/bazaarlabs/bazaar/internal/domain"
)

// Repository keeps one row per payment attempt. Rows are never rewritten
// into a different attempt; a retry creates a fresh record so the trail
// stays auditable.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, details *domain.PaymentDetails) error {
	details.ID = uuid.New().String()
	now := time.Now().UTC()
	details.CreatedAt = now
	details.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (id, order_id, amount, currency, payment_method, status, gateway_order_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, details.ID, details.OrderID, details.Amount, details.Currency, details.PaymentMethod,
		details.Status, nullString(details.GatewayOrderID), now)
	return err
}

// AttachGatewayOrder records the gateway session id on a pending attempt.
func (r *Repository) AttachGatewayOrder(ctx context.Context, paymentID, gatewayOrderID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments SET gateway_order_id = $2, updated_at = NOW()
		WHERE id = $1
	`, paymentID, gatewayOrderID)
	return err
}

// MarkStatus finalizes an attempt. The failure reason is recorded for
// failed attempts and left empty otherwise.
func (r *Repository) MarkStatus(ctx context.Context, paymentID string, status domain.PaymentStatus, failureReason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments SET status = $2, failure_reason = $3, updated_at = NOW()
		WHERE id = $1
	`, paymentID, status, nullString(failureReason))
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
