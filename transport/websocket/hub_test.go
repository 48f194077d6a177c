package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/paddleclash/coordinator/auth"
	gamesession "github.com/paddleclash/coordinator/game/session"
	"github.com/paddleclash/coordinator/identity"
	"github.com/paddleclash/coordinator/invite"
	"github.com/paddleclash/coordinator/notify"
	"github.com/paddleclash/coordinator/registry"
	"github.com/paddleclash/coordinator/tournament"
)

var testSecret = []byte("test-secret")

type testEnv struct {
	hub    *Hub
	games  *gamesession.Manager
	conns  *registry.Registry
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	conns := registry.New(logger)
	identities := identity.NewManager(logger)
	verifier := auth.NewJWTVerifier(testSecret)
	games := gamesession.NewManager(gamesession.ReclaimSameUser, nil, logger)
	invites := invite.NewBroker(conns, logger)
	fanout := notify.NewFanout(conns, logger)
	rooms := tournament.NewCoordinator(8, 2, games, conns, fanout, logger)

	hub := NewHub(identities, verifier, conns, invites, games, rooms, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/invitations", hub.ServeChannel(registry.ChannelInvitations))
	mux.HandleFunc("/notifications", hub.ServeChannel(registry.ChannelNotifications))
	mux.HandleFunc("/message", hub.ServeChannel(registry.ChannelChat))
	mux.HandleFunc("/game", hub.ServeGame(gamesession.TypeNetwork))
	mux.HandleFunc("/tournament/match", hub.ServeChannel(registry.ChannelTournament))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testEnv{hub: hub, games: games, conns: conns, server: server}
}

func (e *testEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func signTestToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame any) {
	t.Helper()
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("Failed to send frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("Failed to decode frame: %v", err)
	}
	return frame
}

// authenticate runs the handshake on an open connection and returns the
// session id from the cookies frame.
func authenticate(t *testing.T, conn *websocket.Conn, token, sessionID string) string {
	t.Helper()
	sendFrame(t, conn, map[string]string{"type": "auth", "token": token, "sessionId": sessionID})
	frame := readFrame(t, conn)
	if frame["type"] != "cookies" {
		t.Fatalf("Expected cookies frame, got %v", frame)
	}
	id, _ := frame["sessionId"].(string)
	if id == "" {
		t.Fatal("Cookies frame carried no session id")
	}
	return id
}

func TestHub_AuthHandshake(t *testing.T) {
	env := newTestEnv(t)

	t.Run("anonymous connection gets a session", func(t *testing.T) {
		conn := env.dial(t, "/invitations")
		sendFrame(t, conn, map[string]string{"type": "auth"})

		frame := readFrame(t, conn)
		if frame["type"] != "cookies" {
			t.Fatalf("Expected cookies frame, got %v", frame)
		}
		if frame["sessionId"] == "" {
			t.Error("Expected a fresh session id")
		}
		if token, ok := frame["token"]; ok && token != "" {
			t.Errorf("Anonymous handshake echoed a token: %v", token)
		}
	})

	t.Run("session id round-trips", func(t *testing.T) {
		conn := env.dial(t, "/invitations")
		sessionID := authenticate(t, conn, "", "")

		conn2 := env.dial(t, "/invitations")
		got := authenticate(t, conn2, "", sessionID)
		if got != sessionID {
			t.Errorf("Expected session %q echoed back, got %q", sessionID, got)
		}
	})

	t.Run("valid token echoes back", func(t *testing.T) {
		conn := env.dial(t, "/invitations")
		token := signTestToken(t, "alice")
		sendFrame(t, conn, map[string]string{"type": "auth", "token": token})

		frame := readFrame(t, conn)
		if frame["token"] != token {
			t.Error("Verified token was not echoed in cookies frame")
		}
	})

	t.Run("invalid token downgrades to anonymous", func(t *testing.T) {
		conn := env.dial(t, "/invitations")
		sendFrame(t, conn, map[string]string{"type": "auth", "token": "garbage"})

		frame := readFrame(t, conn)
		if frame["type"] != "cookies" {
			t.Fatalf("Expected cookies frame, got %v", frame)
		}
		if token, ok := frame["token"]; ok && token != "" {
			t.Error("Invalid token was echoed back")
		}
	})
}

func TestHub_InviteFlow(t *testing.T) {
	env := newTestEnv(t)

	bobConn := env.dial(t, "/invitations")
	authenticate(t, bobConn, signTestToken(t, "bob"), "")

	aliceConn := env.dial(t, "/invitations")
	authenticate(t, aliceConn, signTestToken(t, "alice"), "")

	t.Run("invite reaches the invitee", func(t *testing.T) {
		sendFrame(t, aliceConn, map[string]string{"type": "invite", "toUserId": "bob"})

		frame := readFrame(t, bobConn)
		if frame["type"] != "invite" {
			t.Fatalf("Expected invite frame, got %v", frame)
		}
		if frame["fromUserId"] != "alice" {
			t.Errorf("Expected invite from 'alice', got %v", frame["fromUserId"])
		}
	})

	t.Run("offline invitee yields a typed error", func(t *testing.T) {
		sendFrame(t, aliceConn, map[string]string{"type": "invite", "toUserId": "ghost"})

		frame := readFrame(t, aliceConn)
		if frame["type"] != "error" {
			t.Fatalf("Expected error frame, got %v", frame)
		}
		if frame["code"] != string(CodeInviteeOffline) {
			t.Errorf("Expected code %q, got %v", CodeInviteeOffline, frame["code"])
		}
	})

	t.Run("game start relays to the inviter", func(t *testing.T) {
		game, err := env.games.Create(gamesession.TypeNetwork)
		if err != nil {
			t.Fatalf("Failed to create game: %v", err)
		}

		// bob accepts alice's invite by creating a game and signaling back
		sendFrame(t, bobConn, map[string]string{
			"type": "game_start", "toUserId": "alice", "gameId": game.ID,
		})

		frame := readFrame(t, aliceConn)
		if frame["type"] != "game_start" {
			t.Fatalf("Expected game_start frame, got %v", frame)
		}
		if frame["gameId"] != game.ID {
			t.Errorf("Expected game id %q, got %v", game.ID, frame["gameId"])
		}
	})
}

func TestHub_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t, "/invitations")
	sendFrame(t, conn, map[string]string{"type": "invite", "toUserId": "bob"})

	frame := readFrame(t, conn)
	if frame["type"] != "error" {
		t.Fatalf("Expected error frame, got %v", frame)
	}
	if frame["code"] != string(CodeUnauthenticated) {
		t.Errorf("Expected code %q, got %v", CodeUnauthenticated, frame["code"])
	}
}

func TestHub_GameChannel(t *testing.T) {
	env := newTestEnv(t)

	t.Run("missing game id fails the upgrade", func(t *testing.T) {
		url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/game"
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Fatal("Expected handshake failure without game id")
		}
		if resp == nil || resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400, got %v", resp)
		}
	})

	t.Run("unknown game id fails the upgrade", func(t *testing.T) {
		url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/game?game=nope"
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Fatal("Expected handshake failure for unknown game")
		}
		if resp == nil || resp.StatusCode != http.StatusNotFound {
			t.Errorf("Expected 404, got %v", resp)
		}
	})

	t.Run("roles and state relay", func(t *testing.T) {
		game, err := env.games.Create(gamesession.TypeNetwork)
		if err != nil {
			t.Fatalf("Failed to create game: %v", err)
		}

		left := env.dial(t, "/game?game="+game.ID)
		authenticate(t, left, signTestToken(t, "alice"), "")
		roleFrame := readFrame(t, left)
		if roleFrame["type"] != "role" || roleFrame["role"] != string(gamesession.RoleLeft) {
			t.Fatalf("Expected left role frame, got %v", roleFrame)
		}

		right := env.dial(t, "/game?game="+game.ID)
		authenticate(t, right, signTestToken(t, "bob"), "")
		roleFrame = readFrame(t, right)
		if roleFrame["role"] != string(gamesession.RoleRight) {
			t.Fatalf("Expected right role frame, got %v", roleFrame)
		}

		sendFrame(t, left, map[string]any{
			"type": "state", "leftPaddleY": 0.4, "ballX": 0.5, "ballY": 0.5, "scoreLeft": 1,
		})

		state := readFrame(t, right)
		if state["type"] != "state" {
			t.Fatalf("Expected state frame, got %v", state)
		}
		if state["scoreLeft"] != float64(1) {
			t.Errorf("Expected relayed score 1, got %v", state["scoreLeft"])
		}
	})

	t.Run("game over completes the session", func(t *testing.T) {
		game, err := env.games.Create(gamesession.TypeNetwork)
		if err != nil {
			t.Fatalf("Failed to create game: %v", err)
		}

		conn := env.dial(t, "/game?game="+game.ID)
		authenticate(t, conn, signTestToken(t, "carol"), "")
		readFrame(t, conn) // role frame

		sendFrame(t, conn, map[string]any{"type": "state", "scoreLeft": 5, "gameOver": true})

		deadline := time.Now().Add(2 * time.Second)
		for {
			got, err := env.games.Get(game.ID)
			if err == nil && got.Done {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("Game was not completed after game-over frame")
			}
			time.Sleep(10 * time.Millisecond)
		}
	})
}

func TestHub_TournamentChannel(t *testing.T) {
	env := newTestEnv(t)

	alice := env.dial(t, "/tournament/match")
	authenticate(t, alice, signTestToken(t, "alice"), "")

	bob := env.dial(t, "/tournament/match")
	authenticate(t, bob, signTestToken(t, "bob"), "")

	sendFrame(t, alice, map[string]string{"type": "join", "roomId": "room-1"})
	update := readFrame(t, alice)
	if update["type"] != "room_update" {
		t.Fatalf("Expected room_update, got %v", update)
	}

	// Second join reaches the threshold and pairing fires immediately.
	sendFrame(t, bob, map[string]string{"type": "join", "roomId": "room-1"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		var found map[string]any
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			frame := readFrame(t, conn)
			if frame["type"] == "match_found" {
				found = frame
				break
			}
		}
		if found == nil {
			t.Fatal("match_found was not delivered")
		}
		if found["gameId"] == "" {
			t.Error("match_found carried no game id")
		}
	}
}

func TestHub_MalformedFramesKeepConnectionOpen(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t, "/invitations")
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("Failed to write malformed frame: %v", err)
	}
	sendFrame(t, conn, map[string]string{"type": "bogus"})

	// The connection must survive both; a subsequent handshake still works.
	authenticate(t, conn, "", "")
}

func TestHub_DisconnectCascade(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t, "/tournament/match")
	authenticate(t, conn, signTestToken(t, "alice"), "")

	sendFrame(t, conn, map[string]string{"type": "join", "roomId": "solo"})
	readFrame(t, conn) // room_update

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.conns.UserHasConnections("alice", registry.ChannelTournament) {
		if time.Now().After(deadline) {
			t.Fatal("Connection was not unregistered after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
	// The leave path should have destroyed the now-empty room.
	// Room teardown runs on the read pump goroutine, poll briefly.
	deadline = time.Now().Add(2 * time.Second)
	for {
		if _, ok := env.hub.rooms.RoomFor("alice"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Disconnected user still mapped to a room")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
