package identity

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is the durable anonymous identity that bridges a browser tab's
// connections before and through authentication. The id is issued once,
// persisted client-side as a cookie, and re-presented on every reconnect.
type Session struct {
	ID        string
	UserID    string // empty until a verified token binds a user
	CreatedAt time.Time
}

// Manager issues and re-binds session ids. It never deletes a bound session;
// anonymous sessions may be swept by the owner process (see Sweep).
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	logger *zap.Logger

	// now is swappable for sweep tests.
	now func() time.Time
}

// NewManager creates an empty session identity manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		logger:   logger.Named("identity"),
		now:      time.Now,
	}
}

// Establish resolves a presented session id to a logical session.
//
// A valid, known id re-binds to the existing session. A valid but unknown id
// is adopted as-is: the process keeps no durable state, so a returning cookie
// after a restart must map back to a working session rather than strand the
// client. A malformed or empty id yields a fresh session. fresh reports
// whether the returned id differs from what the client presented.
func (m *Manager) Establish(presentedID string) (*Session, bool) {
	if presentedID != "" {
		if _, err := uuid.Parse(presentedID); err != nil {
			m.logger.Debug("malformed session id presented, issuing fresh",
				zap.String("presented", presentedID))
			presentedID = ""
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if presentedID != "" {
		if session, ok := m.sessions[presentedID]; ok {
			return session, false
		}
		session := &Session{ID: presentedID, CreatedAt: m.now()}
		m.sessions[presentedID] = session
		return session, false
	}

	session := &Session{ID: uuid.NewString(), CreatedAt: m.now()}
	m.sessions[session.ID] = session
	m.logger.Debug("issued fresh session", zap.String("sessionID", session.ID))
	return session, true
}

// BindUser associates a verified user id with a session. Returns false if
// the session is unknown.
func (m *Manager) BindUser(sessionID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	session.UserID = userID
	m.logger.Debug("session bound to user",
		zap.String("sessionID", sessionID),
		zap.String("userID", userID),
	)
	return true
}

// Get returns the session for an id.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[sessionID]
	return session, ok
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep removes anonymous sessions older than maxAge for which live reports
// no remaining connections. Sessions bound to a user are never swept: their
// lifetime is an external concern. Returns the number removed.
func (m *Manager) Sweep(maxAge time.Duration, live func(sessionID string) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-maxAge)
	removed := 0
	for id, session := range m.sessions {
		if session.UserID != "" {
			continue
		}
		if session.CreatedAt.After(cutoff) {
			continue
		}
		if live != nil && live(id) {
			continue
		}
		delete(m.sessions, id)
		removed++
	}

	if removed > 0 {
		m.logger.Info("swept anonymous sessions", zap.Int("removed", removed))
	}
	return removed
}
