package checkout

import (
	"testing"

	"github.com/bazaarlabs/bazaar/internal/cart"
)

func TestSessionStore(t *testing.T) {
	store := NewSessionStore()
	owner := cart.Owner{DeviceID: "device-1", UserID: "user-1"}

	first := store.Begin(owner, "asha@example.com")
	if first.State != StateAddress {
		t.Fatalf("new session starts at address step, got %s", first.State)
	}

	if again := store.Begin(owner, "asha@example.com"); again != first {
		t.Error("live session must be reused")
	}

	if _, ok := store.Current(cart.Owner{DeviceID: "device-2"}); ok {
		t.Error("unknown owner has no session")
	}

	first.State = StateCompleted
	fresh := store.Begin(owner, "asha@example.com")
	if fresh == first {
		t.Error("terminal session must be replaced by a fresh one")
	}
	if fresh.State != StateAddress {
		t.Errorf("fresh session starts at address step, got %s", fresh.State)
	}
}
