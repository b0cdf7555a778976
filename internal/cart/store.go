package cart

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bazaarlabs/bazaar/internal/domain"
)

var ErrNotFound = errors.New("cart not found")

// Owner identifies whose cart is being operated on. DeviceID is always
// present; UserID is set only for signed-in users.
type Owner struct {
	DeviceID string
	UserID   string
}

func (o Owner) Authenticated() bool {
	return o.UserID != ""
}

// LocalStore is the device-storage tier. It must always be writable; it is
// the resilience fallback when the remote tier is unavailable.
type LocalStore interface {
	Read(ctx context.Context, deviceID string) (*domain.Cart, error)
	Write(ctx context.Context, deviceID string, cart *domain.Cart) error
}

// RemoteStore is the account-scoped tier, keyed by user identity.
type RemoteStore interface {
	Read(ctx context.Context, userID string) (*domain.Cart, error)
	Write(ctx context.Context, userID string, cart *domain.Cart) error
}

// TwoTierStore composes the local and remote tiers into the load/save policy
// the cart service relies on: remote wins on load when present, every save
// goes to both tiers, and a remote failure degrades to local-only persistence
// without surfacing an error.
type TwoTierStore struct {
	local  LocalStore
	remote RemoteStore
	logger *slog.Logger
}

func NewTwoTierStore(local LocalStore, remote RemoteStore, logger *slog.Logger) *TwoTierStore {
	return &TwoTierStore{
		local:  local,
		remote: remote,
		logger: logger,
	}
}

// Load resolves the owner's cart. For authenticated owners the remote record
// wins when it exists; otherwise the device-local record is used. A missing
// cart on both tiers yields a fresh empty cart, never an error.
func (s *TwoTierStore) Load(ctx context.Context, owner Owner) *domain.Cart {
	if owner.Authenticated() {
		cart, err := s.remote.Read(ctx, owner.UserID)
		if err == nil {
			return cart
		}
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error("failed to read remote cart", "error", err, "user_id", owner.UserID)
		}
	}

	cart, err := s.local.Read(ctx, owner.DeviceID)
	if err == nil {
		return cart
	}
	if !errors.Is(err, ErrNotFound) {
		s.logger.Error("failed to read local cart", "error", err, "device_id", owner.DeviceID)
	}

	return &domain.Cart{UserID: owner.UserID}
}

// Save persists the cart to the local tier always and to the remote tier when
// the owner is authenticated. Failures are logged and swallowed: the caller's
// mutation has already happened and local storage is the fallback.
func (s *TwoTierStore) Save(ctx context.Context, owner Owner, cart *domain.Cart) {
	if err := s.local.Write(ctx, owner.DeviceID, cart); err != nil {
		s.logger.Error("failed to write local cart", "error", err, "device_id", owner.DeviceID)
	}

	if !owner.Authenticated() {
		return
	}

	cart.UserID = owner.UserID
	if err := s.remote.Write(ctx, owner.UserID, cart); err != nil {
		s.logger.Error("failed to write remote cart, falling back to local only", "error", err, "user_id", owner.UserID)
	}
}
