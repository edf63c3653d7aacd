package attempt

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("login attempt not found")
	ErrExpired  = errors.New("login attempt expired")
)

// Manager keeps login attempts in memory with TTL-based cleanup.
// It is safe for concurrent use.
type Manager struct {
	mu            sync.RWMutex
	attempts      map[string]*Attempt
	current       string
	timeout       time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

// NewManager creates a manager whose attempts expire after timeout.
// It starts a background cleanup goroutine; call Stop to end it.
func NewManager(timeout time.Duration) *Manager {
	m := &Manager{
		attempts:      make(map[string]*Attempt),
		timeout:       timeout,
		cleanupTicker: time.NewTicker(time.Minute),
		stopCleanup:   make(chan struct{}),
	}

	go m.cleanupLoop()

	return m
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.cleanupTicker.Stop()
		close(m.stopCleanup)
	})
}

// Begin starts a new attempt and makes it the current one.
func (m *Manager) Begin(host, method string) Attempt {
	now := time.Now()
	a := &Attempt{
		ID:        uuid.NewString(),
		Host:      host,
		Method:    method,
		CreatedAt: now,
		ExpiresAt: now.Add(m.timeout),
	}

	m.mu.Lock()
	m.attempts[a.ID] = a
	m.current = a.ID
	m.mu.Unlock()

	return *a
}

// Get returns a copy of the attempt with id.
func (m *Manager) Get(id string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, ErrNotFound
	}
	if a.Expired(time.Now()) {
		return Attempt{}, ErrExpired
	}
	return *a, nil
}

// IsCurrent reports whether id is the most recent attempt and has not expired.
func (m *Manager) IsCurrent(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.attempts[id]
	return ok && m.current == id && !a.Expired(time.Now())
}

// ResultWritten reports whether the attempt has accepted a result.
// The second return value is false if the attempt does not exist.
func (m *Manager) ResultWritten(id string) (bool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.attempts[id]
	if !ok {
		return false, false
	}
	return a.ResultWritten, true
}

// MarkResultWritten atomically sets ResultWritten on a current attempt.
// It returns false if the attempt is gone, superseded, expired or was
// already marked.
func (m *Manager) MarkResultWritten(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.attempts[id]
	if !ok || a.ResultWritten || m.current != id || a.Expired(time.Now()) {
		return false
	}
	a.ResultWritten = true
	return true
}

// Delete removes an attempt. The current attempt pointer is cleared when it
// named id.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.attempts, id)
	if m.current == id {
		m.current = ""
	}
}

// Count returns the number of tracked attempts.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.attempts)
}
