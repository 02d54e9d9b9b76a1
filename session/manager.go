package session

import "sync"

// Manager keys sessions by conversation id and answers client
// connectivity queries for the tool dispatcher.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session for the given conversation id, creating
// it if absent.
func (m *Manager) GetOrCreate(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := newWithID(id)
	m.sessions[id] = s
	return s
}

// Get returns the session for the given conversation id, if any.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove drops the session for the given conversation id.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Connected reports whether the named session has an attached client.
// Implements the dispatcher's client directory.
func (m *Manager) Connected(session string) bool {
	m.mu.RLock()
	s, ok := m.sessions[session]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return s.Connected()
}
