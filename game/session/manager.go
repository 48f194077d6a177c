package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrGameNotFound    = errors.New("game not found")
	ErrGameFinished    = errors.New("game already finished")
	ErrInvalidGameType = errors.New("invalid game type")
)

// Manager owns game sessions from creation until completion (or until every
// participant has been gone past the grace period). Role assignment and
// snapshot updates for a single game are serialized under the manager lock,
// so two concurrent attaches can never both claim the left paddle.
type Manager struct {
	mu    sync.RWMutex
	games map[string]*Game

	reclaim  ReclaimPolicy
	recorder Recorder

	logger *zap.Logger
	now    func() time.Time
}

// NewManager creates a game session manager. recorder may be nil when match
// results should not be persisted (tests, local play only).
func NewManager(reclaim ReclaimPolicy, recorder Recorder, logger *zap.Logger) *Manager {
	if reclaim == "" {
		reclaim = ReclaimSameUser
	}
	return &Manager{
		games:    make(map[string]*Game),
		reclaim:  reclaim,
		recorder: recorder,
		logger:   logger.Named("games"),
		now:      time.Now,
	}
}

// Create allocates a new game with a unique id and an empty snapshot. Roles
// are not assigned here; they are claimed as users attach to the game
// channel.
func (m *Manager) Create(gameType GameType) (*Game, error) {
	if !gameType.Valid() {
		return nil, ErrInvalidGameType
	}

	game := &Game{
		ID:        uuid.NewString(),
		Type:      gameType,
		Roles:     make(map[string]Role),
		CreatedAt: m.now(),
	}

	m.mu.Lock()
	m.games[game.ID] = game
	m.mu.Unlock()

	m.logger.Info("game created",
		zap.String("gameID", game.ID),
		zap.String("type", string(gameType)),
	)
	return game, nil
}

// Get retrieves a game by id.
func (m *Manager) Get(gameID string) (*Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	game, ok := m.games[gameID]
	if !ok {
		return nil, ErrGameNotFound
	}
	return game, nil
}

// List returns all tracked games.
func (m *Manager) List() []*Game {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Game, 0, len(m.games))
	for _, game := range m.games {
		out = append(out, game)
	}
	return out
}

// Attach claims a role for a user joining the game channel. The first
// distinct user gets left, the second right, everyone after that spectates.
// A user who already holds a role keeps it (multiple tabs, reconnects).
// Attaching to a finished game is a state error.
func (m *Manager) Attach(gameID, userID string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	game, ok := m.games[gameID]
	if !ok {
		return "", ErrGameNotFound
	}
	if game.Done {
		return "", ErrGameFinished
	}

	game.EmptySince = time.Time{}

	if role, ok := game.Roles[userID]; ok {
		return role, nil
	}

	role := RoleSpectator
	if !roleTaken(game, RoleLeft) {
		role = RoleLeft
	} else if !roleTaken(game, RoleRight) {
		role = RoleRight
	}
	game.Roles[userID] = role

	m.logger.Debug("user attached to game",
		zap.String("gameID", gameID),
		zap.String("userID", userID),
		zap.String("role", string(role)),
	)
	return role, nil
}

// Detach records a game-channel disconnect. userRemaining counts the user's
// own connections still attached to the game; gameRemaining counts all
// connections still attached. Under ForfeitOnDisconnect a paddle owner whose
// last connection dropped loses the slot for good, so a returning user
// re-enters as a spectator; under ReclaimSameUser the assignment stays and
// the same user id gets the slot back on re-attach. Once gameRemaining hits
// zero the game becomes eligible for eviction.
func (m *Manager) Detach(gameID, userID string, userRemaining, gameRemaining int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	game, ok := m.games[gameID]
	if !ok {
		return
	}

	if m.reclaim == ForfeitOnDisconnect && userRemaining == 0 {
		if role := game.Roles[userID]; role == RoleLeft || role == RoleRight {
			delete(game.Roles, userID)
		}
	}

	if gameRemaining == 0 {
		game.EmptySince = m.now()
	}
}

// UpdateSnapshot replaces the stored state snapshot. The snapshot is opaque
// payload from the coordinator's point of view.
func (m *Manager) UpdateSnapshot(gameID string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	game, ok := m.games[gameID]
	if !ok {
		return ErrGameNotFound
	}
	if game.Done {
		return ErrGameFinished
	}
	game.State = state
	return nil
}

// Complete marks the game terminal, hands the result to the recorder, and
// leaves the game to be evicted by CleanupExpired once the grace period
// passes. Completing twice is a state error, which keeps double game-over
// frames from both participants harmless.
func (m *Manager) Complete(gameID, endReason string) error {
	m.mu.Lock()

	game, ok := m.games[gameID]
	if !ok {
		m.mu.Unlock()
		return ErrGameNotFound
	}
	if game.Done {
		m.mu.Unlock()
		return ErrGameFinished
	}

	game.Done = true
	game.EndedAt = m.now()
	if game.EmptySince.IsZero() {
		game.EmptySince = game.EndedAt
	}
	result := buildResult(game, endReason)
	recorder := m.recorder
	m.mu.Unlock()

	m.logger.Info("game completed",
		zap.String("gameID", gameID),
		zap.String("reason", endReason),
		zap.Int("scoreLeft", result.ScoreLeft),
		zap.Int("scoreRight", result.ScoreRight),
	)

	if recorder != nil {
		if err := recorder.RecordMatch(result); err != nil {
			// Persistence belongs to a collaborator; a failed write must not
			// fail the completion.
			m.logger.Warn("failed to record match result",
				zap.String("gameID", gameID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// CleanupExpired evicts games whose participants have all been gone for
// longer than grace. Finished games use the same clock, counted from
// completion. Returns the number evicted.
func (m *Manager) CleanupExpired(grace time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-grace)
	removed := 0
	for id, game := range m.games {
		if game.EmptySince.IsZero() || game.EmptySince.After(cutoff) {
			continue
		}
		delete(m.games, id)
		removed++
	}

	if removed > 0 {
		m.logger.Info("evicted stale games", zap.Int("removed", removed))
	}
	return removed
}

// Count returns the number of tracked games.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.games)
}

func roleTaken(game *Game, role Role) bool {
	for _, r := range game.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func buildResult(game *Game, endReason string) Result {
	result := Result{
		GameID:     game.ID,
		Type:       game.Type,
		ScoreLeft:  game.State.ScoreLeft,
		ScoreRight: game.State.ScoreRight,
		EndReason:  endReason,
		Duration:   game.EndedAt.Sub(game.CreatedAt),
	}
	for userID, role := range game.Roles {
		switch role {
		case RoleLeft:
			result.LeftUser = userID
		case RoleRight:
			result.RightUser = userID
		}
	}
	if endReason == "completed" {
		switch {
		case result.ScoreLeft > result.ScoreRight:
			result.Winner = result.LeftUser
		case result.ScoreRight > result.ScoreLeft:
			result.Winner = result.RightUser
		}
	}
	return result
}
