// Package tournament maintains named pools of users awaiting pairing and
// turns the two oldest waiting members into a concrete game session.
package tournament

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	gamesession "github.com/paddleclash/coordinator/game/session"
	"github.com/paddleclash/coordinator/notify"
	"github.com/paddleclash/coordinator/registry"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomFull      = errors.New("room is full")
	ErrAlreadyInRoom = errors.New("user already in a room")
	ErrNotInRoom     = errors.New("user not in room")
	ErrNotEnough     = errors.New("not enough members to pair")
)

// RoomStatus describes where a room is in its lifecycle.
type RoomStatus string

const (
	StatusOpen     RoomStatus = "open"
	StatusFull     RoomStatus = "full"
	StatusMatching RoomStatus = "matching"
)

// Room is a named pool of users awaiting pairing. Member order is insertion
// order and defines pairing priority.
type Room struct {
	ID        string     `json:"id"`
	Members   []string   `json:"members"`
	Status    RoomStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
}

// RoomUpdate is the membership-changed broadcast sent to every room member's
// tournament-channel connections.
type RoomUpdate struct {
	Type    string   `json:"type"` // "room_update"
	RoomID  string   `json:"roomId"`
	Members []string `json:"members"`
}

// MatchFound tells a paired member which game session to open.
type MatchFound struct {
	Type   string `json:"type"` // "match_found"
	RoomID string `json:"roomId"`
	GameID string `json:"gameId"`
}

// Coordinator manages room membership and pairing. A user id appears in at
// most one room at a time; rooms are created on first join and destroyed
// when empty. All room mutations run under one lock, and broadcasts happen
// after the lock is released.
type Coordinator struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	userRoom map[string]string // user id -> room id

	capacity  int
	threshold int

	games  *gamesession.Manager
	conns  *registry.Registry
	fanout *notify.Fanout

	logger *zap.Logger
}

// NewCoordinator creates a tournament room coordinator. capacity caps room
// membership; threshold is the minimum member count for pairing.
func NewCoordinator(capacity, threshold int, games *gamesession.Manager, conns *registry.Registry, fanout *notify.Fanout, logger *zap.Logger) *Coordinator {
	if capacity <= 0 {
		capacity = 8
	}
	if threshold < 2 {
		threshold = 2
	}
	return &Coordinator{
		rooms:     make(map[string]*Room),
		userRoom:  make(map[string]string),
		capacity:  capacity,
		threshold: threshold,
		games:     games,
		conns:     conns,
		fanout:    fanout,
		logger:    logger.Named("tournament"),
	}
}

// Join adds a user to a room, creating the room on first join. It rejects
// joins to a full room and users already waiting in any room. On success the
// updated membership is broadcast to all room members and returned.
func (c *Coordinator) Join(roomID, userID string) ([]string, error) {
	c.mu.Lock()

	if existing, ok := c.userRoom[userID]; ok {
		// Re-joining the same room is a no-op rather than an error; a second
		// tab should see the membership, not a failure.
		if existing == roomID {
			members := snapshotMembers(c.rooms[roomID])
			c.mu.Unlock()
			return members, nil
		}
		c.mu.Unlock()
		return nil, ErrAlreadyInRoom
	}

	room, ok := c.rooms[roomID]
	if !ok {
		room = &Room{ID: roomID, Status: StatusOpen, CreatedAt: time.Now()}
		c.rooms[roomID] = room
	}
	if room.Status == StatusFull || len(room.Members) >= c.capacity {
		c.mu.Unlock()
		return nil, ErrRoomFull
	}

	room.Members = append(room.Members, userID)
	c.userRoom[userID] = roomID
	if len(room.Members) >= c.capacity {
		room.Status = StatusFull
	}
	members := snapshotMembers(room)
	c.mu.Unlock()

	c.logger.Info("user joined room",
		zap.String("roomID", roomID),
		zap.String("userID", userID),
		zap.Int("members", len(members)),
	)

	c.broadcastUpdate(roomID, members)
	return members, nil
}

// Leave removes a user from a room. The room is destroyed when empty, and
// dropping below the pairing threshold cancels any in-progress pairing.
func (c *Coordinator) Leave(roomID, userID string) error {
	c.mu.Lock()

	room, ok := c.rooms[roomID]
	if !ok {
		c.mu.Unlock()
		return ErrRoomNotFound
	}
	if c.userRoom[userID] != roomID {
		c.mu.Unlock()
		return ErrNotInRoom
	}

	room.Members = removeMember(room.Members, userID)
	delete(c.userRoom, userID)

	if len(room.Members) == 0 {
		delete(c.rooms, roomID)
		c.mu.Unlock()
		c.logger.Info("room destroyed", zap.String("roomID", roomID))
		return nil
	}

	if len(room.Members) < c.threshold && room.Status == StatusMatching {
		room.Status = StatusOpen
	}
	if room.Status == StatusFull && len(room.Members) < c.capacity {
		room.Status = StatusOpen
	}
	members := snapshotMembers(room)
	c.mu.Unlock()

	c.logger.Info("user left room",
		zap.String("roomID", roomID),
		zap.String("userID", userID),
	)

	c.broadcastUpdate(roomID, members)
	return nil
}

// AttemptPairing pairs the two oldest waiting members of a room, removes
// both, creates a network game for them, and notifies each with the game id.
// Pairing is strictly join-order deterministic.
func (c *Coordinator) AttemptPairing(roomID string) (gameID string, err error) {
	c.mu.Lock()

	room, ok := c.rooms[roomID]
	if !ok {
		c.mu.Unlock()
		return "", ErrRoomNotFound
	}
	if len(room.Members) < c.threshold {
		c.mu.Unlock()
		return "", ErrNotEnough
	}

	room.Status = StatusMatching
	first, second := room.Members[0], room.Members[1]
	room.Members = room.Members[2:]
	delete(c.userRoom, first)
	delete(c.userRoom, second)

	var remaining []string
	if len(room.Members) == 0 {
		delete(c.rooms, roomID)
	} else {
		room.Status = StatusOpen
		remaining = snapshotMembers(room)
	}
	c.mu.Unlock()

	game, err := c.games.Create(gamesession.TypeNetwork)
	if err != nil {
		return "", fmt.Errorf("create tournament game: %w", err)
	}

	c.logger.Info("room pairing complete",
		zap.String("roomID", roomID),
		zap.String("gameID", game.ID),
		zap.String("first", first),
		zap.String("second", second),
	)

	found := MatchFound{Type: "match_found", RoomID: roomID, GameID: game.ID}
	for _, userID := range []string{first, second} {
		for _, conn := range c.conns.ConnectionsByUser(userID, registry.ChannelTournament) {
			conn.Send(found)
		}
		c.fanout.NotifyOn(registry.ChannelInvitations, userID, "Tournament match found")
	}

	if remaining != nil {
		c.broadcastUpdate(roomID, remaining)
	}
	return game.ID, nil
}

// HandleDisconnect runs the leave path for a user whose socket closed
// abruptly. It is wired to the connection registry's unregister hook, not a
// poll; a user with another live tournament-channel tab stays in the room.
func (c *Coordinator) HandleDisconnect(userID string) {
	if userID == "" {
		return
	}
	if c.conns.UserHasConnections(userID, registry.ChannelTournament) {
		return
	}

	c.mu.Lock()
	roomID, ok := c.userRoom[userID]
	c.mu.Unlock()
	if !ok {
		return
	}

	if err := c.Leave(roomID, userID); err != nil {
		c.logger.Warn("disconnect leave failed",
			zap.String("roomID", roomID),
			zap.String("userID", userID),
			zap.Error(err),
		)
	}
}

// Rooms returns a snapshot of every room, for the REST listing.
func (c *Coordinator) Rooms() []Room {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Room, 0, len(c.rooms))
	for _, room := range c.rooms {
		out = append(out, Room{
			ID:        room.ID,
			Members:   snapshotMembers(room),
			Status:    room.Status,
			CreatedAt: room.CreatedAt,
		})
	}
	return out
}

// RoomFor returns the room a user is currently waiting in.
func (c *Coordinator) RoomFor(userID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	roomID, ok := c.userRoom[userID]
	return roomID, ok
}

func (c *Coordinator) broadcastUpdate(roomID string, members []string) {
	update := RoomUpdate{Type: "room_update", RoomID: roomID, Members: members}
	for _, userID := range members {
		for _, conn := range c.conns.ConnectionsByUser(userID, registry.ChannelTournament) {
			conn.Send(update)
		}
	}
}

func snapshotMembers(room *Room) []string {
	if room == nil {
		return nil
	}
	out := make([]string, len(room.Members))
	copy(out, room.Members)
	return out
}

func removeMember(members []string, userID string) []string {
	dst := members[:0]
	for _, m := range members {
		if m == userID {
			continue
		}
		dst = append(dst, m)
	}
	return dst
}
