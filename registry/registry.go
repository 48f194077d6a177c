package registry

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ChannelKind names the signaling category a connection is dedicated to.
// Each WebSocket endpoint maps to exactly one kind.
type ChannelKind string

const (
	ChannelInvitations   ChannelKind = "invitations"
	ChannelNotifications ChannelKind = "notifications"
	ChannelChat          ChannelKind = "chat"
	ChannelGame          ChannelKind = "game"
	ChannelTournament    ChannelKind = "tournament"
)

// Conn is the send side of a live socket as seen by the registry and the
// components that push frames through it. Send must be non-blocking and
// return false when the frame could not be queued.
type Conn interface {
	ID() string
	Send(v any) bool
}

// Entry records everything the coordinator knows about one physical socket.
// Session and user ids start empty and are bound as the handshake progresses.
type Entry struct {
	Conn      Conn
	Kind      ChannelKind
	Scope     string // game id or room id for game/tournament channels
	SessionID string
	UserID    string
	CreatedAt time.Time
}

// UnregisterHook is invoked synchronously after a connection's index entries
// have been removed. It receives a copy of the entry as it was at removal
// time and runs outside the registry lock.
type UnregisterHook func(Entry)

// Registry tracks every live socket and its identity bindings. It is the
// single source of truth for "which connections does user U have open on
// channel K" style lookups. All state is in-memory and rebuilt from zero on
// restart; reconnecting clients re-authenticate.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Entry
	byUser map[string]map[ChannelKind]map[string]*Entry

	hook UnregisterHook

	logger *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		byID:   make(map[string]*Entry),
		byUser: make(map[string]map[ChannelKind]map[string]*Entry),
		logger: logger.Named("registry"),
	}
}

// SetUnregisterHook installs the disconnect cascade callback. Must be called
// during wiring, before connections are accepted.
func (r *Registry) SetUnregisterHook(hook UnregisterHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = hook
}

// Register records a new live connection. Scope is the game or room the
// connection is attached to, empty for user-wide channels.
func (r *Registry) Register(conn Conn, kind ChannelKind, scope string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := &Entry{
		Conn:      conn,
		Kind:      kind,
		Scope:     scope,
		CreatedAt: time.Now(),
	}
	r.byID[conn.ID()] = entry

	r.logger.Debug("connection registered",
		zap.String("connID", conn.ID()),
		zap.String("channel", string(kind)),
		zap.String("scope", scope),
	)
	return entry
}

// BindSession attaches a session id to a connection. Returns false if the
// connection is no longer live.
func (r *Registry) BindSession(connID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byID[connID]
	if !ok {
		return false
	}
	entry.SessionID = sessionID
	return true
}

// BindUser attaches an authenticated user id to a connection and indexes the
// connection for user lookups. Returns false if the connection is gone.
func (r *Registry) BindUser(connID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byID[connID]
	if !ok {
		return false
	}

	// Re-binding the same connection to a different user (token refresh with
	// another account) moves it between indexes.
	if entry.UserID != "" && entry.UserID != userID {
		r.dropUserIndexLocked(entry.UserID, entry.Kind, connID)
	}
	entry.UserID = userID

	kinds := r.byUser[userID]
	if kinds == nil {
		kinds = make(map[ChannelKind]map[string]*Entry)
		r.byUser[userID] = kinds
	}
	conns := kinds[entry.Kind]
	if conns == nil {
		conns = make(map[string]*Entry)
		kinds[entry.Kind] = conns
	}
	conns[connID] = entry

	r.logger.Debug("connection bound to user",
		zap.String("connID", connID),
		zap.String("userID", userID),
	)
	return true
}

// Unregister removes all index entries for a connection. It is idempotent;
// unregistering an unknown id is a no-op. The unregister hook fires after
// removal, outside the lock, so cascades (room leave, game detach) observe a
// registry that no longer contains the connection.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()

	entry, ok := r.byID[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byID, connID)
	if entry.UserID != "" {
		r.dropUserIndexLocked(entry.UserID, entry.Kind, connID)
	}
	snapshot := *entry
	hook := r.hook
	r.mu.Unlock()

	r.logger.Debug("connection unregistered",
		zap.String("connID", connID),
		zap.String("userID", snapshot.UserID),
	)

	if hook != nil {
		hook(snapshot)
	}
}

// Get returns the live entry for a connection id.
func (r *Registry) Get(connID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byID[connID]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// ConnectionsByUser returns the send handles of every live connection the
// user has open on the given channel. The result reflects only currently
// registered connections and may be empty.
func (r *Registry) ConnectionsByUser(userID string, kind ChannelKind) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID][kind]
	if len(conns) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(conns))
	for _, entry := range conns {
		out = append(out, entry.Conn)
	}
	return out
}

// ConnectionsByScope returns every live connection on the given channel that
// is attached to the given scope (a game id or room id).
func (r *Registry) ConnectionsByScope(kind ChannelKind, scope string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, 4)
	for _, entry := range r.byID {
		if entry.Kind == kind && entry.Scope == scope {
			out = append(out, entry.Conn)
		}
	}
	return out
}

// ScopeCount returns how many live connections on the given channel remain
// attached to the given scope.
func (r *Registry) ScopeCount(kind ChannelKind, scope string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, entry := range r.byID {
		if entry.Kind == kind && entry.Scope == scope {
			n++
		}
	}
	return n
}

// UserScopeCount returns how many of the user's live connections on the
// given channel remain attached to the given scope.
func (r *Registry) UserScopeCount(userID string, kind ChannelKind, scope string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, entry := range r.byUser[userID][kind] {
		if entry.Scope == scope {
			n++
		}
	}
	return n
}

// UserHasConnections reports whether the user still has at least one live
// connection on the given channel. Used after a disconnect to decide whether
// a cascade (room leave, session sweep eligibility) should fire.
func (r *Registry) UserHasConnections(userID string, kind ChannelKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID][kind]) > 0
}

// SessionHasConnections reports whether any live connection is bound to the
// given session id, on any channel.
func (r *Registry) SessionHasConnections(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.byID {
		if entry.SessionID == sessionID {
			return true
		}
	}
	return false
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) dropUserIndexLocked(userID string, kind ChannelKind, connID string) {
	kinds := r.byUser[userID]
	if kinds == nil {
		return
	}
	conns := kinds[kind]
	if conns == nil {
		return
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(kinds, kind)
	}
	if len(kinds) == 0 {
		delete(r.byUser, userID)
	}
}
