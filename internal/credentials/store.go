package credentials

import (
	"log/slog"
	"sync"

	"github.com/cryptoview/gateway/internal/domain"
)

// Credential is a per-venue API key pair. It never serializes into logs:
// slog renders it through LogValue, which redacts both keys.
type Credential struct {
	Venue       string
	APIKey      string
	SecretKey   string
	SandboxMode bool
}

func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("venue", c.Venue),
		slog.String("api_key", "[redacted]"),
		slog.Bool("sandbox", c.SandboxMode),
	)
}

func (c Credential) Equal(other Credential) bool {
	return c.Venue == other.Venue &&
		c.APIKey == other.APIKey &&
		c.SecretKey == other.SecretKey &&
		c.SandboxMode == other.SandboxMode
}

// Store holds credentials and OAuth token sets in memory. It is the one
// resource written from both the manual API-key flow and the OAuth flow;
// writes replace whole values under the lock, so a reader never observes a
// half-populated credential.
type Store struct {
	mu     sync.RWMutex
	creds  map[string]Credential
	tokens map[string]domain.TokenSet
}

func NewStore() *Store {
	return &Store{
		creds:  make(map[string]Credential),
		tokens: make(map[string]domain.TokenSet),
	}
}

func (s *Store) Put(cred Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.Venue] = cred
}

func (s *Store) Get(venue string) (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[venue]
	return cred, ok
}

func (s *Store) Delete(venue string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, venue)
}

func (s *Store) PutTokens(venue string, ts domain.TokenSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[venue] = ts
}

func (s *Store) Tokens(venue string) (domain.TokenSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.tokens[venue]
	return ts, ok
}

func (s *Store) ClearTokens(venue string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, venue)
}

// Clear drops every credential and token set. Called on process teardown so
// secrets do not outlive the session.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = make(map[string]Credential)
	s.tokens = make(map[string]domain.TokenSet)
}
