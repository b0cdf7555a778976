// Package cart holds the shared cart state: line items keyed by product id
// plus an optional shipping address. All mutations go through the Service so
// the persisted snapshot and the in-memory snapshot stay consistent across
// screens.
package cart

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bazaarlabs/bazaar/internal/domain"
)

type Service struct {
	store  *TwoTierStore
	sfg    singleflight.Group
	locks  sync.Map // owner key -> *sync.Mutex
	logger *slog.Logger
}

func NewService(store *TwoTierStore, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

func ownerKey(owner Owner) string {
	return owner.DeviceID + "|" + owner.UserID
}

// lock serializes the load-mutate-save sequence per owner. Without it two
// concurrent mutations read the same stored state and the later save drops
// the earlier one's change.
func (s *Service) lock(owner Owner) func() {
	v, _ := s.locks.LoadOrStore(ownerKey(owner), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// snapshot deep-copies a cart so no two callers ever share mutable state.
func snapshot(c *domain.Cart) *domain.Cart {
	out := *c
	out.Lines = c.CloneLines()
	if c.ShippingAddress != nil {
		addr := *c.ShippingAddress
		out.ShippingAddress = &addr
	}
	return &out
}

// Get loads the owner's cart, collapsing concurrent loads for the same owner
// into a single store round trip. Every caller receives its own snapshot of
// the collapsed result.
func (s *Service) Get(ctx context.Context, owner Owner) *domain.Cart {
	v, _, _ := s.sfg.Do(ownerKey(owner), func() (any, error) {
		return s.store.Load(ctx, owner), nil
	})
	return snapshot(v.(*domain.Cart))
}

// AddItem merges the line into the cart: an existing line for the same
// product has its quantity incremented, otherwise the line is appended.
// Quantities below 1 make the call a no-op.
func (s *Service) AddItem(ctx context.Context, owner Owner, line domain.CartLine) *domain.Cart {
	if line.Quantity < 1 {
		return s.Get(ctx, owner)
	}

	unlock := s.lock(owner)
	defer unlock()

	cart := s.store.Load(ctx, owner)
	merged := false
	for i := range cart.Lines {
		if cart.Lines[i].ProductID == line.ProductID {
			cart.Lines[i].Quantity += line.Quantity
			merged = true
			break
		}
	}
	if !merged {
		cart.Lines = append(cart.Lines, line)
	}

	s.persist(ctx, owner, cart)
	return cart
}

// RemoveItem drops the line for the product if present. Absent products are
// a no-op.
func (s *Service) RemoveItem(ctx context.Context, owner Owner, productID string) *domain.Cart {
	unlock := s.lock(owner)
	defer unlock()

	cart := s.store.Load(ctx, owner)
	for i := range cart.Lines {
		if cart.Lines[i].ProductID == productID {
			cart.Lines = append(cart.Lines[:i], cart.Lines[i+1:]...)
			s.persist(ctx, owner, cart)
			break
		}
	}
	return cart
}

// UpdateQuantity sets the line's quantity to exactly the given value. A
// quantity of zero or less removes the line; a line never persists at
// quantity 0.
func (s *Service) UpdateQuantity(ctx context.Context, owner Owner, productID string, quantity int) *domain.Cart {
	if quantity <= 0 {
		return s.RemoveItem(ctx, owner, productID)
	}

	unlock := s.lock(owner)
	defer unlock()

	cart := s.store.Load(ctx, owner)
	for i := range cart.Lines {
		if cart.Lines[i].ProductID == productID {
			cart.Lines[i].Quantity = quantity
			s.persist(ctx, owner, cart)
			break
		}
	}
	return cart
}

// Clear empties all lines. The shipping address survives; only explicit
// removal clears it.
func (s *Service) Clear(ctx context.Context, owner Owner) *domain.Cart {
	unlock := s.lock(owner)
	defer unlock()

	cart := s.store.Load(ctx, owner)
	cart.Lines = nil
	s.persist(ctx, owner, cart)
	return cart
}

// SaveShippingAddress replaces any existing address wholesale; partial fields
// are never merged.
func (s *Service) SaveShippingAddress(ctx context.Context, owner Owner, address domain.Address) *domain.Cart {
	unlock := s.lock(owner)
	defer unlock()

	cart := s.store.Load(ctx, owner)
	cart.ShippingAddress = &address
	s.persist(ctx, owner, cart)
	return cart
}

func (s *Service) RemoveShippingAddress(ctx context.Context, owner Owner) *domain.Cart {
	unlock := s.lock(owner)
	defer unlock()

	cart := s.store.Load(ctx, owner)
	cart.ShippingAddress = nil
	s.persist(ctx, owner, cart)
	return cart
}

func (s *Service) persist(ctx context.Context, owner Owner, cart *domain.Cart) {
	cart.UpdatedAt = time.Now().UTC()
	s.store.Save(ctx, owner, cart)
}
