package websocket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	gamesession "github.com/paddleclash/coordinator/game/session"
	"github.com/paddleclash/coordinator/registry"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// Client wraps one physical socket. The hub owns the socket handle through
// the client; nothing else touches the connection directly.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	id    string
	kind  registry.ChannelKind
	scope string // game id for game channels, empty otherwise

	// Identity established by the auth handshake; mirrored in the registry.
	sessionID string
	userID    string

	// role is set once the client attaches to its game session.
	role gamesession.Role

	// cookieSession is the session id candidate read from the transport
	// cookie at upgrade time, used when the auth frame carries none.
	cookieSession string
}

func newClient(hub *Hub, conn *websocket.Conn, kind registry.ChannelKind, scope, cookieSession string) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, 64),
		id:            uuid.NewString(),
		kind:          kind,
		scope:         scope,
		cookieSession: cookieSession,
	}
}

var _ registry.Conn = (*Client)(nil)

// ID returns the opaque connection id.
func (c *Client) ID() string {
	return c.id
}

// Send marshals v and queues it for delivery. It never blocks: a full queue
// means the frame is dropped and false returned.
func (c *Client) Send(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.hub.logger.Warn("failed to marshal outbound frame", zap.Error(err))
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// readPump pumps frames from the socket to the hub. On any read error the
// connection is unregistered and the disconnect cascade fires before the
// socket is closed.
func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read error",
					zap.String("connID", c.id),
					zap.Error(err),
				)
			}
			return
		}
		c.hub.handleFrame(c, raw)
	}
}

// writePump pumps queued frames to the socket and keeps the connection alive
// with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
