package session

import "time"

// GameType selects who sits on the other side of the net.
type GameType string

const (
	TypeNetwork GameType = "network" // two remote players
	TypeLocal   GameType = "local"   // two players, one keyboard
	TypeAI      GameType = "ai"      // one player vs computer
)

// Valid reports whether t is a known game type.
func (t GameType) Valid() bool {
	switch t {
	case TypeNetwork, TypeLocal, TypeAI:
		return true
	}
	return false
}

// Role is a participant's function within a game session.
type Role string

const (
	RoleLeft      Role = "left"
	RoleRight     Role = "right"
	RoleSpectator Role = "spectator"
)

// ReclaimPolicy decides what happens to a paddle slot whose owner
// disconnects: either the same user id can take it back on reconnect, or the
// slot is forfeited and the returning user spectates.
type ReclaimPolicy string

const (
	ReclaimSameUser     ReclaimPolicy = "same-user"
	ForfeitOnDisconnect ReclaimPolicy = "forfeit"
)

// State is the snapshot the game channel relays between participants. The
// coordinator stores and forwards it verbatim; the physics loop that
// produces it lives client-side.
type State struct {
	LeftPaddleY  float64 `json:"leftPaddleY"`
	RightPaddleY float64 `json:"rightPaddleY"`
	BallX        float64 `json:"ballX"`
	BallY        float64 `json:"ballY"`
	ScoreLeft    int     `json:"scoreLeft"`
	ScoreRight   int     `json:"scoreRight"`
	GameOver     bool    `json:"gameOver"`
}

// Game identifies a live or pending match.
type Game struct {
	ID        string
	Type      GameType
	Roles     map[string]Role // user id -> role
	State     State
	CreatedAt time.Time

	// Terminal bookkeeping. Done flips on Complete; EmptySince is set when
	// the last participant detaches and cleared on re-attach.
	Done       bool
	EndedAt    time.Time
	EmptySince time.Time
}

// Result describes a finished match for the history store.
type Result struct {
	GameID     string
	Type       GameType
	LeftUser   string
	RightUser  string
	ScoreLeft  int
	ScoreRight int
	Winner     string // user id, empty on abandonment
	EndReason  string // "completed", "abandoned"
	Duration   time.Duration
}

// Recorder persists completed match results. The coordinator only triggers
// the write; storage belongs to a collaborator.
type Recorder interface {
	RecordMatch(result Result) error
}
