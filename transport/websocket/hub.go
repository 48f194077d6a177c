package websocket

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/paddleclash/coordinator/auth"
	gamesession "github.com/paddleclash/coordinator/game/session"
	"github.com/paddleclash/coordinator/identity"
	"github.com/paddleclash/coordinator/invite"
	"github.com/paddleclash/coordinator/registry"
	"github.com/paddleclash/coordinator/tournament"
)

// SessionCookie is the transport cookie carrying the session id. The
// explicit cookies control frame remains the canonical delivery path; the
// cookie is only a convenience for same-origin channels.
const SessionCookie = "pong_session"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Signaling channels are opened cross-origin by the SPA.
		return true
	},
}

// Hub correlates WebSocket connections with sessions and users and routes
// signaling frames to the right component. One hub serves every channel.
type Hub struct {
	identity *identity.Manager
	verifier auth.Verifier
	conns    *registry.Registry
	invites  *invite.Broker
	games    *gamesession.Manager
	rooms    *tournament.Coordinator

	logger *zap.Logger
}

// NewHub wires the hub and installs the disconnect cascade on the
// connection registry.
func NewHub(
	identities *identity.Manager,
	verifier auth.Verifier,
	conns *registry.Registry,
	invites *invite.Broker,
	games *gamesession.Manager,
	rooms *tournament.Coordinator,
	logger *zap.Logger,
) *Hub {
	h := &Hub{
		identity: identities,
		verifier: verifier,
		conns:    conns,
		invites:  invites,
		games:    games,
		rooms:    rooms,
		logger:   logger.Named("hub"),
	}
	conns.SetUnregisterHook(h.cascade)
	return h
}

// ServeChannel returns the HTTP handler for one signaling channel endpoint.
func (h *Hub) ServeChannel(kind registry.ChannelKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, kind, "")
	}
}

// ServeGame returns the handler for a game channel endpoint. It requires a
// ?game=<id> query parameter naming an existing, matching game session; the
// check runs before the upgrade so a bad id fails as plain HTTP.
func (h *Hub) ServeGame(gameType gamesession.GameType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := r.URL.Query().Get("game")
		if scope == "" {
			http.Error(w, "game parameter required", http.StatusBadRequest)
			return
		}
		game, err := h.games.Get(scope)
		if err != nil {
			http.Error(w, "unknown game", http.StatusNotFound)
			return
		}
		if game.Type != gameType {
			http.Error(w, "game type mismatch", http.StatusBadRequest)
			return
		}
		h.serve(w, r, registry.ChannelGame, scope)
	}
}

func (h *Hub) serve(w http.ResponseWriter, r *http.Request, kind registry.ChannelKind, scope string) {
	cookieSession := ""
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		cookieSession = cookie.Value
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h, conn, kind, scope, cookieSession)
	h.conns.Register(client, kind, scope)

	go client.writePump()
	go client.readPump()
}

// disconnect tears down a client's registry entries. The registry fires the
// cascade hook synchronously, so by the time this returns no component can
// still route frames to the closed socket.
func (h *Hub) disconnect(c *Client) {
	h.conns.Unregister(c.id)
}

// cascade is the registry unregister hook: it turns an abrupt socket close
// into the same paths an explicit leave would take.
func (h *Hub) cascade(e registry.Entry) {
	switch e.Kind {
	case registry.ChannelTournament:
		h.rooms.HandleDisconnect(e.UserID)
	case registry.ChannelGame:
		if e.Scope == "" {
			return
		}
		key := e.UserID
		if key == "" {
			return
		}
		h.games.Detach(e.Scope, key,
			h.conns.UserScopeCount(key, registry.ChannelGame, e.Scope),
			h.conns.ScopeCount(registry.ChannelGame, e.Scope),
		)
	}
}

// handleFrame dispatches one inbound frame. Malformed frames and unknown
// types are protocol errors: dropped and logged, the connection stays open.
func (h *Hub) handleFrame(c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.logger.Warn("malformed frame dropped",
			zap.String("connID", c.id),
			zap.Error(err),
		)
		return
	}

	switch env.Type {
	case "auth":
		var frame AuthFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.protocolError(c, err)
			return
		}
		h.handleAuth(c, frame)

	case "invite":
		var frame InviteFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.protocolError(c, err)
			return
		}
		h.handleInvite(c, frame)

	case "game_start":
		var frame GameStartFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.protocolError(c, err)
			return
		}
		h.handleGameStart(c, frame)

	case "chat":
		var frame ChatFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.protocolError(c, err)
			return
		}
		h.handleChat(c, frame)

	case "join", "leave":
		var frame RoomFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.protocolError(c, err)
			return
		}
		h.handleRoom(c, frame)

	case "state":
		var frame StateFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.protocolError(c, err)
			return
		}
		h.handleState(c, frame)

	default:
		h.logger.Warn("unknown frame type dropped",
			zap.String("connID", c.id),
			zap.String("type", env.Type),
		)
	}
}

// handleAuth runs the identity handshake. The session id candidate comes
// from the auth frame first, then the transport cookie. Token verification
// failure is non-fatal: the connection proceeds anonymously. The handshake
// is stateless per-message and has no server-side timeout; the 5-second
// bound lives client-side.
func (h *Hub) handleAuth(c *Client, frame AuthFrame) {
	presented := frame.SessionID
	if presented == "" {
		presented = c.cookieSession
	}

	session, _ := h.identity.Establish(presented)
	c.sessionID = session.ID
	h.conns.BindSession(c.id, session.ID)

	verifiedToken := ""
	if frame.Token != "" {
		userID, err := h.verifier.Verify(frame.Token)
		if err != nil {
			h.logger.Debug("token verification failed, proceeding anonymously",
				zap.String("connID", c.id),
				zap.Error(err),
			)
		} else {
			c.userID = userID
			verifiedToken = frame.Token
			h.identity.BindUser(session.ID, userID)
		}
	}

	// Anonymous connections are indexed under a session-scoped pseudo user
	// so game-channel relay and detach cascades work before login.
	registryKey := c.userID
	if registryKey == "" {
		registryKey = "anon:" + session.ID
	}
	h.conns.BindUser(c.id, registryKey)

	c.Send(CookiesFrame{Type: "cookies", SessionID: session.ID, Token: verifiedToken})

	if c.kind == registry.ChannelGame {
		h.attachGame(c, registryKey)
	}
}

func (h *Hub) attachGame(c *Client, registryKey string) {
	role, err := h.games.Attach(c.scope, registryKey)
	if err != nil {
		h.stateError(c, err)
		return
	}
	c.role = role
	c.Send(RoleFrame{Type: "role", GameID: c.scope, Role: role})
}

func (h *Hub) handleInvite(c *Client, frame InviteFrame) {
	if !h.requireUser(c) {
		return
	}
	if err := h.invites.Invite(c.userID, frame.ToUserID); err != nil {
		h.stateError(c, err)
	}
}

func (h *Hub) handleGameStart(c *Client, frame GameStartFrame) {
	if !h.requireUser(c) {
		return
	}
	if _, err := h.games.Get(frame.GameID); err != nil {
		h.stateError(c, err)
		return
	}
	if err := h.invites.AcceptAndStart(c.userID, frame.ToUserID, frame.GameID); err != nil {
		h.stateError(c, err)
	}
}

// handleChat relays a chat message to the addressed user's chat-channel
// connections. Chat is advisory signaling like everything else here: an
// offline recipient means the message is dropped without error.
func (h *Hub) handleChat(c *Client, frame ChatFrame) {
	if !h.requireUser(c) {
		return
	}

	delivery := ChatDelivery{Type: "chat", FromUserID: c.userID, Message: frame.Message}
	for _, conn := range h.conns.ConnectionsByUser(frame.ToUserID, registry.ChannelChat) {
		conn.Send(delivery)
	}
}

func (h *Hub) handleRoom(c *Client, frame RoomFrame) {
	if !h.requireUser(c) {
		return
	}

	switch frame.Type {
	case "join":
		if _, err := h.rooms.Join(frame.RoomID, c.userID); err != nil {
			h.stateError(c, err)
			return
		}
		// Pairing is attempted eagerly after every join; with fewer waiting
		// members than the threshold it is simply not time yet.
		if _, err := h.rooms.AttemptPairing(frame.RoomID); err != nil &&
			!errors.Is(err, tournament.ErrNotEnough) && !errors.Is(err, tournament.ErrRoomNotFound) {
			h.logger.Warn("pairing attempt failed",
				zap.String("roomID", frame.RoomID),
				zap.Error(err),
			)
		}

	case "leave":
		if err := h.rooms.Leave(frame.RoomID, c.userID); err != nil {
			h.stateError(c, err)
		}
	}
}

// handleState stores the latest snapshot and relays it to every other
// connection attached to the same game. Spectator frames are dropped; only
// paddle owners drive state.
func (h *Hub) handleState(c *Client, frame StateFrame) {
	if c.role != gamesession.RoleLeft && c.role != gamesession.RoleRight {
		h.logger.Debug("state frame from non-participant dropped",
			zap.String("connID", c.id),
			zap.String("role", string(c.role)),
		)
		return
	}

	if err := h.games.UpdateSnapshot(c.scope, frame.State); err != nil {
		h.stateError(c, err)
		return
	}

	delivery := StateDelivery{Type: "state", State: frame.State}
	for _, conn := range h.conns.ConnectionsByScope(registry.ChannelGame, c.scope) {
		if conn.ID() == c.id {
			continue
		}
		conn.Send(delivery)
	}

	if frame.GameOver {
		if err := h.games.Complete(c.scope, "completed"); err != nil &&
			!errors.Is(err, gamesession.ErrGameFinished) {
			h.logger.Warn("game completion failed",
				zap.String("gameID", c.scope),
				zap.Error(err),
			)
		}
	}
}

func (h *Hub) requireUser(c *Client) bool {
	if c.userID == "" {
		c.Send(ErrorFrame{Type: "error", Code: CodeUnauthenticated, Message: "authenticate first"})
		return false
	}
	return true
}

func (h *Hub) protocolError(c *Client, err error) {
	h.logger.Warn("malformed frame dropped",
		zap.String("connID", c.id),
		zap.Error(err),
	)
}

// stateError maps component sentinel errors onto typed failure frames for
// the originating connection.
func (h *Hub) stateError(c *Client, err error) {
	frame := ErrorFrame{Type: "error", Message: err.Error()}
	switch {
	case errors.Is(err, invite.ErrInviteeOffline):
		frame.Code = CodeInviteeOffline
	case errors.Is(err, invite.ErrInviterOffline):
		frame.Code = CodeInviterOffline
	case errors.Is(err, gamesession.ErrGameNotFound):
		frame.Code = CodeGameNotFound
	case errors.Is(err, gamesession.ErrGameFinished):
		frame.Code = CodeGameFinished
	case errors.Is(err, tournament.ErrRoomFull):
		frame.Code = CodeRoomFull
	case errors.Is(err, tournament.ErrAlreadyInRoom):
		frame.Code = CodeAlreadyInRoom
	case errors.Is(err, tournament.ErrNotInRoom):
		frame.Code = CodeNotInRoom
	default:
		frame.Code = "internal"
	}
	c.Send(frame)
}
