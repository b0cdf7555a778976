package cart

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bazaarlabs/bazaar/internal/domain"
)

// PostgresStore is the remote tier: one row per user, upserted on every save.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Read(ctx context.Context, userID string) (*domain.Cart, error) {
	var (
		itemsData   []byte
		addressData []byte
		updatedAt   time.Time
	)

	err := p.db.QueryRowContext(ctx, `
		SELECT items, shipping_address, updated_at
		FROM carts
		WHERE user_id = $1
	`, userID).Scan(&itemsData, &addressData, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query cart: %w", err)
	}

	cart := &domain.Cart{UserID: userID, UpdatedAt: updatedAt}
	if err := json.Unmarshal(itemsData, &cart.Lines); err != nil {
		return nil, fmt.Errorf("unmarshal cart items: %w", err)
	}
	if len(addressData) > 0 {
		if err := json.Unmarshal(addressData, &cart.ShippingAddress); err != nil {
			return nil, fmt.Errorf("unmarshal shipping address: %w", err)
		}
	}

	return cart, nil
}

func (p *PostgresStore) Write(ctx context.Context, userID string, cart *domain.Cart) error {
	items := cart.Lines
	if items == nil {
		items = []domain.CartLine{}
	}
	itemsData, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal cart items: %w", err)
	}

	var addressData []byte
	if cart.ShippingAddress != nil {
		addressData, err = json.Marshal(cart.ShippingAddress)
		if err != nil {
			return fmt.Errorf("marshal shipping address: %w", err)
		}
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO carts (user_id, items, shipping_address, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET items = EXCLUDED.items,
		    shipping_address = EXCLUDED.shipping_address,
		    updated_at = EXCLUDED.updated_at
	`, userID, itemsData, addressData, cart.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert cart: %w", err)
	}

	return nil
}
