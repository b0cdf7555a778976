// Package orders persists order records. The repository is the single source
// of truth for order status; only the checkout orchestrator writes status
// transitions.
package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/bazaarlabs/bazaar/internal/domain"
)

var ErrNotFound = errors.New("order not found")

// PersistenceError wraps a failed read or write against the backing store.
// Callers must not assume partial success when one is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("orders: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// StatusUpdate is the only mutation the repository accepts after creation.
// Nil fields are left untouched.
type StatusUpdate struct {
	Status        *domain.OrderStatus
	PaymentStatus *domain.PaymentStatus
	ShipmentID    *string
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts the order and its item snapshot in one transaction and
// fills in the generated id and timestamps.
func (r *Repository) Create(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "begin create", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	order.ID = uuid.New().String()
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now

	addressData, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return &PersistenceError{Op: "marshal address", Err: err}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, user_id, customer_email, customer_name, shipping_address,
			subtotal_amount, shipping_amount, tax_amount, discount_amount, total_amount,
			payment_method, payment_status, status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
	`, order.ID, order.UserID, order.CustomerEmail, order.CustomerName, addressData,
		order.SubtotalAmount, order.ShippingAmount, order.TaxAmount, order.DiscountAmount, order.TotalAmount,
		nullable(order.PaymentMethod), nullable(string(order.PaymentStatus)), order.Status, now)
	if err != nil {
		return &PersistenceError{Op: "insert order", Err: err}
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, product_name, unit_price, quantity, image_url)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.New().String(), order.ID, item.ProductID, item.ProductName, item.UnitPrice, item.Quantity, item.ImageURL)
		if err != nil {
			return &PersistenceError{Op: "insert order item", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "commit create", Err: err}
	}

	return nil
}

// UpdateStatus applies a partial status update. Returns ErrNotFound wrapped
// in a PersistenceError when no row matches.
func (r *Repository) UpdateStatus(ctx context.Context, orderID string, update StatusUpdate) error {
	var status, paymentStatus, shipmentID sql.NullString
	if update.Status != nil {
		status = sql.NullString{String: string(*update.Status), Valid: true}
	}
	if update.PaymentStatus != nil {
		paymentStatus = sql.NullString{String: string(*update.PaymentStatus), Valid: true}
	}
	if update.ShipmentID != nil {
		shipmentID = sql.NullString{String: *update.ShipmentID, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = COALESCE($2, status),
		    payment_status = COALESCE($3, payment_status),
		    shipment_id = COALESCE($4, shipment_id),
		    updated_at = NOW()
		WHERE id = $1
	`, orderID, status, paymentStatus, shipmentID)
	if err != nil {
		return &PersistenceError{Op: "update status", Err: err}
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return &PersistenceError{Op: "update status", Err: err}
	}
	if rowsAffected == 0 {
		return &PersistenceError{Op: "update status", Err: ErrNotFound}
	}

	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order, err := r.scanOrder(r.db.QueryRowContext(ctx, selectOrder+` WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, &PersistenceError{Op: "get order", Err: err}
	}

	items, err := r.loadItems(ctx, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]

	return order, nil
}

// GetByUser returns the user's orders, most recent first, items included.
func (r *Repository) GetByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, selectOrder+` WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, &PersistenceError{Op: "list orders", Err: err}
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := r.scanOrder(rows)
		if err != nil {
			return nil, &PersistenceError{Op: "scan order", Err: err}
		}
		order.Items = []domain.CartLine{}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list orders", Err: err}
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemsByOrder, err := r.loadItems(ctx, orderIDs)
	if err != nil {
		return nil, err
	}

	result := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		order := orderMap[id]
		if items, ok := itemsByOrder[id]; ok {
			order.Items = items
		}
		result = append(result, *order)
	}

	return result, nil
}

const selectOrder = `
	SELECT id, user_id, customer_email, customer_name, shipping_address,
	       subtotal_amount, shipping_amount, tax_amount, discount_amount, total_amount,
	       payment_method, payment_status, status, shipment_id, created_at, updated_at
	FROM orders`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanOrder(row rowScanner) (*domain.Order, error) {
	order := &domain.Order{}
	var (
		addressData   []byte
		paymentMethod sql.NullString
		paymentStatus sql.NullString
		shipmentID    sql.NullString
	)

	err := row.Scan(&order.ID, &order.UserID, &order.CustomerEmail, &order.CustomerName, &addressData,
		&order.SubtotalAmount, &order.ShippingAmount, &order.TaxAmount, &order.DiscountAmount, &order.TotalAmount,
		&paymentMethod, &paymentStatus, &order.Status, &shipmentID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(addressData, &order.ShippingAddress); err != nil {
		return nil, err
	}
	order.PaymentMethod = paymentMethod.String
	order.PaymentStatus = domain.PaymentStatus(paymentStatus.String)
	order.ShipmentID = shipmentID.String

	return order, nil
}

func (r *Repository) loadItems(ctx context.Context, orderIDs []string) (map[string][]domain.CartLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, product_name, unit_price, quantity, image_url
		FROM order_items
		WHERE order_id = ANY($1)
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, &PersistenceError{Op: "load order items", Err: err}
	}
	defer func() { _ = rows.Close() }()

	items := make(map[string][]domain.CartLine)
	for rows.Next() {
		var orderID string
		var item domain.CartLine
		if err := rows.Scan(&orderID, &item.ProductID, &item.ProductName, &item.UnitPrice, &item.Quantity, &item.ImageURL); err != nil {
			return nil, &PersistenceError{Op: "scan order item", Err: err}
		}
		items[orderID] = append(items[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "load order items", Err: err}
	}

	return items, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
