package websocket

import gamesession "github.com/paddleclash/coordinator/game/session"

// Inbound frames. Every client frame is JSON with a "type" field; the
// envelope is decoded first to pick the concrete shape.

// Envelope carries only the discriminator.
type Envelope struct {
	Type string `json:"type"`
}

// AuthFrame is the client handshake on every channel. Both fields are
// optional: no session id means "issue me one", no token means anonymous.
type AuthFrame struct {
	Type      string `json:"type"` // "auth"
	Token     string `json:"token,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// InviteFrame asks the broker to invite another user to a game.
type InviteFrame struct {
	Type     string `json:"type"` // "invite"
	ToUserID string `json:"toUserId"`
}

// GameStartFrame is sent by the accepting party after it created a game; the
// broker relays the game id back to the original inviter.
type GameStartFrame struct {
	Type     string `json:"type"` // "game_start"
	ToUserID string `json:"toUserId"`
	GameID   string `json:"gameId"`
}

// ChatFrame addresses a chat message to another user.
type ChatFrame struct {
	Type     string `json:"type"` // "chat"
	ToUserID string `json:"toUserId"`
	Message  string `json:"message"`
}

// RoomFrame joins or leaves a tournament room.
type RoomFrame struct {
	Type   string `json:"type"` // "join" | "leave"
	RoomID string `json:"roomId"`
}

// StateFrame carries a game-state snapshot on a game channel. The snapshot
// is relayed, not interpreted.
type StateFrame struct {
	Type string `json:"type"` // "state"
	gamesession.State
}

// Outbound frames.

// CookiesFrame confirms the session identity to the client. It is an
// explicit control frame because some signaling channels are cross-origin
// and cannot rely on a transport-level cookie alone. Token is echoed only
// when verification succeeded.
type CookiesFrame struct {
	Type      string `json:"type"` // "cookies"
	SessionID string `json:"sessionId"`
	Token     string `json:"token,omitempty"`
}

// ChatDelivery is the relayed chat message.
type ChatDelivery struct {
	Type       string `json:"type"` // "chat"
	FromUserID string `json:"fromUserId"`
	Message    string `json:"message"`
}

// RoleFrame tells a freshly attached game-channel client which role it got.
type RoleFrame struct {
	Type   string           `json:"type"` // "role"
	GameID string           `json:"gameId"`
	Role   gamesession.Role `json:"role"`
}

// StateDelivery is the snapshot relayed to co-attached connections.
type StateDelivery struct {
	Type string `json:"type"` // "state"
	gamesession.State
}

// ErrorFrame reports a state error back to the originating connection. The
// connection stays open; nothing in this subsystem is user-fatal.
type ErrorFrame struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes used in ErrorFrame.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeInviteeOffline  = "invitee_offline"
	CodeInviterOffline  = "inviter_offline"
	CodeGameNotFound    = "game_not_found"
	CodeGameFinished    = "game_finished"
	CodeRoomFull        = "room_full"
	CodeAlreadyInRoom   = "already_in_room"
	CodeNotInRoom       = "not_in_room"
)
