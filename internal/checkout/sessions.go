package checkout

import (
	"sync"

	"github.com/bazaarlabs/bazaar/internal/cart"
)

// SessionStore keeps checkout sessions in memory, one live session per
// owner. Sessions are cheap state machines over durable order rows; losing
// them on restart only sends the user back to the address step.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
	}
}

func sessionKey(owner cart.Owner) string {
	return owner.DeviceID + "|" + owner.UserID
}

// Begin returns the owner's live session, creating a fresh one when none
// exists or the previous checkout already hit a terminal state.
func (s *SessionStore) Begin(owner cart.Owner, customerEmail string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[sessionKey(owner)]; ok && !existing.Terminal() {
		return existing
	}

	session := NewSession(owner, customerEmail)
	s.sessions[sessionKey(owner)] = session
	return session
}

// Current returns the owner's session without creating one.
func (s *SessionStore) Current(owner cart.Owner) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionKey(owner)]
	return session, ok
}
