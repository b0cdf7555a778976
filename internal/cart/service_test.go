package cart

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bazaarlabs/bazaar/internal/domain"
)

type memStore struct {
	mu        sync.Mutex
	carts     map[string]*domain.Cart
	failRead  bool
	failWrite bool
	writes    int
}

func newMemStore() *memStore {
	return &memStore{carts: map[string]*domain.Cart{}}
}

func (m *memStore) Read(_ context.Context, key string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRead {
		return nil, errors.New("store unavailable")
	}
	cart, ok := m.carts[key]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *cart
	clone.Lines = append([]domain.CartLine(nil), cart.Lines...)
	return &clone, nil
}

func (m *memStore) Write(_ context.Context, key string, cart *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.failWrite {
		return errors.New("store unavailable")
	}
	clone := *cart
	clone.Lines = append([]domain.CartLine(nil), cart.Lines...)
	m.carts[key] = &clone
	return nil
}

func newTestService(local, remote *memStore) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(NewTwoTierStore(local, remote, logger), logger)
}

func line(productID string, price int64, quantity int) domain.CartLine {
	return domain.CartLine{
		ProductID:   productID,
		ProductName: "product " + productID,
		UnitPrice:   decimal.NewFromInt(price),
		Quantity:    quantity,
	}
}

func TestService_AddItem(t *testing.T) {
	ctx := context.Background()
	guest := Owner{DeviceID: "device-1"}

	t.Run("merges quantity for same product", func(t *testing.T) {
		svc := newTestService(newMemStore(), newMemStore())

		svc.AddItem(ctx, guest, line("p1", 100, 2))
		cart := svc.AddItem(ctx, guest, line("p1", 100, 3))

		if len(cart.Lines) != 1 {
			t.Fatalf("expected 1 line, got %d", len(cart.Lines))
		}
		if cart.Lines[0].Quantity != 5 {
			t.Errorf("expected quantity 5, got %d", cart.Lines[0].Quantity)
		}
	})

	t.Run("appends distinct products", func(t *testing.T) {
		svc := newTestService(newMemStore(), newMemStore())

		svc.AddItem(ctx, guest, line("p1", 100, 1))
		cart := svc.AddItem(ctx, guest, line("p2", 200, 2))

		if len(cart.Lines) != 2 {
			t.Fatalf("expected 2 lines, got %d", len(cart.Lines))
		}
		if cart.ItemCount() != 3 {
			t.Errorf("expected item count 3, got %d", cart.ItemCount())
		}
	})

	t.Run("quantity below one is a no-op", func(t *testing.T) {
		local := newMemStore()
		svc := newTestService(local, newMemStore())

		cart := svc.AddItem(ctx, guest, line("p1", 100, 0))

		if len(cart.Lines) != 0 {
			t.Errorf("expected empty cart, got %d lines", len(cart.Lines))
		}
		if local.writes != 0 {
			t.Errorf("expected no persistence, got %d writes", local.writes)
		}
	})
}

func TestService_RemoveItem(t *testing.T) {
	ctx := context.Background()
	guest := Owner{DeviceID: "device-1"}

	t.Run("removes existing line", func(t *testing.T) {
		svc := newTestService(newMemStore(), newMemStore())
		svc.AddItem(ctx, guest, line("p1", 100, 1))
		svc.AddItem(ctx, guest, line("p2", 100, 1))

		cart := svc.RemoveItem(ctx, guest, "p1")

		if len(cart.Lines) != 1 || cart.Lines[0].ProductID != "p2" {
			t.Errorf("unexpected lines after removal: %+v", cart.Lines)
		}
	})

	t.Run("absent product is a no-op", func(t *testing.T) {
		svc := newTestService(newMemStore(), newMemStore())
		svc.AddItem(ctx, guest, line("p1", 100, 1))

		cart := svc.RemoveItem(ctx, guest, "missing")

		if len(cart.Lines) != 1 {
			t.Errorf("expected 1 line, got %d", len(cart.Lines))
		}
	})
}

func TestService_UpdateQuantity(t *testing.T) {
	ctx := context.Background()
	guest := Owner{DeviceID: "device-1"}

	t.Run("sets quantity exactly", func(t *testing.T) {
		svc := newTestService(newMemStore(), newMemStore())
		svc.AddItem(ctx, guest, line("p1", 100, 5))

		cart := svc.UpdateQuantity(ctx, guest, "p1", 2)

		if cart.Lines[0].Quantity != 2 {
			t.Errorf("expected quantity 2, got %d", cart.Lines[0].Quantity)
		}
	})

	t.Run("zero quantity removes the line", func(t *testing.T) {
		svc := newTestService(newMemStore(), newMemStore())
		svc.AddItem(ctx, guest, line("p1", 100, 5))

		cart := svc.UpdateQuantity(ctx, guest, "p1", 0)

		if len(cart.Lines) != 0 {
			t.Errorf("expected empty cart, got %+v", cart.Lines)
		}
	})

	t.Run("no line ever persists at quantity zero or less", func(t *testing.T) {
		local := newMemStore()
		svc := newTestService(local, newMemStore())
		svc.AddItem(ctx, guest, line("p1", 100, 3))
		svc.UpdateQuantity(ctx, guest, "p1", -4)

		stored := local.carts["device-1"]
		for _, l := range stored.Lines {
			if l.Quantity <= 0 {
				t.Errorf("persisted line with quantity %d", l.Quantity)
			}
		}
	})
}

func TestService_ItemCountMatchesQuantities(t *testing.T) {
	ctx := context.Background()
	guest := Owner{DeviceID: "device-1"}
	svc := newTestService(newMemStore(), newMemStore())

	svc.AddItem(ctx, guest, line("p1", 100, 2))
	svc.AddItem(ctx, guest, line("p2", 50, 1))
	svc.AddItem(ctx, guest, line("p1", 100, 3))
	svc.UpdateQuantity(ctx, guest, "p2", 4)
	svc.RemoveItem(ctx, guest, "missing")
	cart := svc.Get(ctx, guest)

	sum := 0
	for _, l := range cart.Lines {
		if l.Quantity <= 0 {
			t.Errorf("line %s has quantity %d", l.ProductID, l.Quantity)
		}
		sum += l.Quantity
	}
	if cart.ItemCount() != sum {
		t.Errorf("item count %d does not match quantity sum %d", cart.ItemCount(), sum)
	}
	if sum != 9 {
		t.Errorf("expected quantity sum 9, got %d", sum)
	}
}

func TestService_ConcurrentAddsNeverLoseUpdates(t *testing.T) {
	ctx := context.Background()
	guest := Owner{DeviceID: "device-1"}
	svc := newTestService(newMemStore(), newMemStore())

	const adds = 16
	var wg sync.WaitGroup
	for i := 0; i < adds; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.AddItem(ctx, guest, line("p1", 100, 1))
		}()
	}
	wg.Wait()

	cart := svc.Get(ctx, guest)
	if len(cart.Lines) != 1 {
		t.Fatalf("expected a single merged line, got %d", len(cart.Lines))
	}
	if cart.Lines[0].Quantity != adds {
		t.Errorf("expected quantity %d after %d concurrent adds, got %d", adds, adds, cart.Lines[0].Quantity)
	}
	if cart.ItemCount() != adds {
		t.Errorf("item count %d does not match quantity sum %d", cart.ItemCount(), adds)
	}
}

func TestService_GetReturnsPrivateSnapshot(t *testing.T) {
	ctx := context.Background()
	guest := Owner{DeviceID: "device-1"}
	svc := newTestService(newMemStore(), newMemStore())
	svc.AddItem(ctx, guest, line("p1", 100, 2))

	first := svc.Get(ctx, guest)
	first.Lines[0].Quantity = 99
	first.Lines = nil
	first.ShippingAddress = &domain.Address{Name: "intruder"}

	second := svc.Get(ctx, guest)
	if len(second.Lines) != 1 || second.Lines[0].Quantity != 2 {
		t.Errorf("caller mutation leaked into the stored cart: %+v", second.Lines)
	}
	if second.ShippingAddress != nil {
		t.Error("caller mutation of the address leaked into the stored cart")
	}
}

func TestService_ClearPreservesAddress(t *testing.T) {
	ctx := context.Background()
	guest := Owner{DeviceID: "device-1"}
	svc := newTestService(newMemStore(), newMemStore())

	svc.AddItem(ctx, guest, line("p1", 100, 2))
	svc.SaveShippingAddress(ctx, guest, domain.Address{
		Name: "Asha", Phone: "9876543210", AddressLine1: "12 MG Road",
		City: "Bengaluru", State: "Karnataka", Pincode: "560001",
	})

	cart := svc.Clear(ctx, guest)

	if len(cart.Lines) != 0 {
		t.Errorf("expected empty lines, got %+v", cart.Lines)
	}
	if cart.ShippingAddress == nil {
		t.Error("expected shipping address to survive clear")
	}

	cart = svc.RemoveShippingAddress(ctx, guest)
	if cart.ShippingAddress != nil {
		t.Error("expected shipping address removed")
	}
}

func TestService_RemoteWinsOnLoad(t *testing.T) {
	ctx := context.Background()
	owner := Owner{DeviceID: "device-1", UserID: "user-1"}
	local := newMemStore()
	remote := newMemStore()

	local.carts["device-1"] = &domain.Cart{Lines: []domain.CartLine{line("local", 10, 1)}}
	remote.carts["user-1"] = &domain.Cart{Lines: []domain.CartLine{line("remote", 10, 2)}}

	svc := newTestService(local, remote)
	cart := svc.Get(ctx, owner)

	if len(cart.Lines) != 1 || cart.Lines[0].ProductID != "remote" {
		t.Errorf("expected remote cart to win, got %+v", cart.Lines)
	}
}

func TestService_LocalFallbackWhenRemoteMissing(t *testing.T) {
	ctx := context.Background()
	owner := Owner{DeviceID: "device-1", UserID: "user-1"}
	local := newMemStore()
	remote := newMemStore()

	local.carts["device-1"] = &domain.Cart{Lines: []domain.CartLine{line("local", 10, 1)}}

	svc := newTestService(local, remote)
	cart := svc.Get(ctx, owner)

	if len(cart.Lines) != 1 || cart.Lines[0].ProductID != "local" {
		t.Errorf("expected local cart fallback, got %+v", cart.Lines)
	}
}

func TestService_RemoteWriteFailureFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	owner := Owner{DeviceID: "device-1", UserID: "user-1"}
	local := newMemStore()
	remote := newMemStore()
	remote.failWrite = true

	svc := newTestService(local, remote)
	cart := svc.AddItem(ctx, owner, line("p1", 100, 1))

	if len(cart.Lines) != 1 {
		t.Fatalf("expected mutation to succeed, got %+v", cart.Lines)
	}
	stored, ok := local.carts["device-1"]
	if !ok || len(stored.Lines) != 1 {
		t.Errorf("expected local persistence despite remote failure, got %+v", local.carts)
	}
}

func TestService_AuthenticatedWritesReachBothTiers(t *testing.T) {
	ctx := context.Background()
	owner := Owner{DeviceID: "device-1", UserID: "user-1"}
	local := newMemStore()
	remote := newMemStore()

	svc := newTestService(local, remote)
	svc.AddItem(ctx, owner, line("p1", 100, 1))

	if _, ok := local.carts["device-1"]; !ok {
		t.Error("expected local write")
	}
	if _, ok := remote.carts["user-1"]; !ok {
		t.Error("expected remote write")
	}
}

func TestService_GuestWritesStayLocal(t *testing.T) {
	ctx := context.Background()
	guest := Owner{DeviceID: "device-1"}
	local := newMemStore()
	remote := newMemStore()

	svc := newTestService(local, remote)
	svc.AddItem(ctx, guest, line("p1", 100, 1))

	if remote.writes != 0 {
		t.Errorf("expected no remote writes for guest, got %d", remote.writes)
	}
}
