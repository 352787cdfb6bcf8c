package connection

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cryptoview/gateway/internal/credentials"
	"github.com/cryptoview/gateway/internal/domain"
)

// ProbeFunc verifies a credential against the venue, typically by issuing a
// signed account-info request.
type ProbeFunc func(ctx context.Context, cred credentials.Credential) error

type StatusListener func(status domain.VenueStatus)

// Manager owns the authoritative connected/disconnected state of the active
// venue session, independent of any transport. One connect or disconnect is
// in flight at a time; a second Connect while one is pending is rejected.
type Manager struct {
	mu        sync.Mutex
	status    domain.VenueStatus
	lastError error
	pending   bool
	current   *credentials.Credential

	store *credentials.Store
	probe ProbeFunc

	nextListenerID int
	listenerIDs    []int
	listeners      map[int]StatusListener

	logger *slog.Logger
}

func NewManager(store *credentials.Store, probe ProbeFunc, logger *slog.Logger) *Manager {
	return &Manager{
		status:    domain.VenueDisconnected,
		store:     store,
		probe:     probe,
		listeners: make(map[int]StatusListener),
		logger:    logger,
	}
}

func (m *Manager) Status() domain.VenueStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) IsConnected() bool {
	return m.Status() == domain.VenueConnected
}

func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// AddStatusListener registers fn and returns an id for removal. Listeners
// run synchronously in registration order on every transition.
func (m *Manager) AddStatusListener(fn StatusListener) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextListenerID
	m.nextListenerID++
	m.listenerIDs = append(m.listenerIDs, id)
	m.listeners[id] = fn
	return id
}

func (m *Manager) RemoveStatusListener(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, id)
	for i, lid := range m.listenerIDs {
		if lid == id {
			m.listenerIDs = append(m.listenerIDs[:i], m.listenerIDs[i+1:]...)
			break
		}
	}
}

// Connect is idempotent: connecting with the credential already active is a
// no-op. A different credential replaces the session, driving the full
// Disconnected -> Connecting -> Connected (or Error) sequence.
func (m *Manager) Connect(ctx context.Context, cred credentials.Credential) error {
	m.mu.Lock()
	if m.pending {
		m.mu.Unlock()
		return domain.ErrConnectPending
	}
	if m.status == domain.VenueConnected && m.current != nil && m.current.Equal(cred) {
		m.mu.Unlock()
		return nil
	}
	m.pending = true
	replacing := m.current != nil
	m.mu.Unlock()

	if replacing {
		m.transition(domain.VenueDisconnected, nil)
	}

	m.store.Put(cred)
	m.transition(domain.VenueConnecting, nil)

	err := m.probe(ctx, cred)

	m.mu.Lock()
	m.pending = false
	if err != nil {
		m.current = nil
		m.mu.Unlock()
		m.store.Delete(cred.Venue)
		m.transition(domain.VenueError, err)
		return err
	}
	m.current = &cred
	m.mu.Unlock()

	m.transition(domain.VenueConnected, nil)
	m.logger.Info("venue session established", "credential", cred)
	return nil
}

func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.pending {
		m.mu.Unlock()
		return
	}
	cred := m.current
	m.current = nil
	m.mu.Unlock()

	if cred != nil {
		m.store.Delete(cred.Venue)
	}
	m.transition(domain.VenueDisconnected, nil)
}

func (m *Manager) transition(status domain.VenueStatus, cause error) {
	m.mu.Lock()
	if m.status == status {
		m.mu.Unlock()
		return
	}
	m.status = status
	m.lastError = cause
	ids := make([]int, len(m.listenerIDs))
	copy(ids, m.listenerIDs)
	listeners := make(map[int]StatusListener, len(m.listeners))
	for id, fn := range m.listeners {
		listeners[id] = fn
	}
	m.mu.Unlock()

	for _, id := range ids {
		fn, ok := listeners[id]
		if !ok {
			continue
		}
		m.invoke(fn, status)
	}
}

// invoke shields the notification loop from a panicking listener so the
// remaining listeners still run.
func (m *Manager) invoke(fn StatusListener, status domain.VenueStatus) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("status listener panicked", "status", string(status), "panic", r)
		}
	}()
	fn(status)
}
