package oauth

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/cryptoview/gateway/internal/domain"
)

const stateTTL = 10 * time.Minute

// StateStore issues and validates single-use CSRF state tokens. A token is
// valid exactly once, within its ttl; Consume destroys the entry whether
// validation succeeds or fails.
type StateStore struct {
	mu     sync.Mutex
	states map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
}

func NewStateStore() *StateStore {
	return &StateStore{
		states: make(map[string]time.Time),
		ttl:    stateTTL,
		now:    time.Now,
	}
}

// Issue generates a cryptographically random, unguessable token and records
// its expiry.
func (s *StateStore) Issue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[token] = s.now().Add(s.ttl)
	return token, nil
}

// Consume validates token byte-for-byte against the issued set. The entry
// is removed on every outcome, so a replayed token always fails.
func (s *StateStore) Consume(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.states[token]
	if !ok {
		return domain.ErrInvalidState
	}
	delete(s.states, token)

	if s.now().After(expiry) {
		return domain.ErrInvalidState
	}
	return nil
}

// Prune drops expired entries. Called opportunistically by the manager.
func (s *StateStore) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for token, expiry := range s.states {
		if now.After(expiry) {
			delete(s.states, token)
		}
	}
}
