package session

import "sync"

// Session holds the credentials of the signed-in participant.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
}

// Valid reports whether the session carries an access token.
func (s Session) Valid() bool {
	return s.AccessToken != ""
}

// Store persists the current session. Secure on-device storage is the
// platform's job; implementations only need get/set/clear.
type Store interface {
	Get() (Session, bool)
	Set(s Session)
	SetAccessToken(token string)
	SetRefreshToken(token string)
	Clear()
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	current Session
	present bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.present
}

func (m *MemoryStore) Set(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = s
	m.present = true
}

// SetAccessToken replaces the access token after a refresh. It is a no-op
// once the session has been cleared.
func (m *MemoryStore) SetAccessToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.present {
		return
	}
	m.current.AccessToken = token
}

// SetRefreshToken stores a rotated refresh token.
func (m *MemoryStore) SetRefreshToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.present || token == "" {
		return
	}
	m.current.RefreshToken = token
}

func (m *MemoryStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Session{}
	m.present = false
}
