package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/paddleclash/coordinator/auth"
	gamesession "github.com/paddleclash/coordinator/game/session"
	"github.com/paddleclash/coordinator/history"
	"github.com/paddleclash/coordinator/identity"
	"github.com/paddleclash/coordinator/registry"
	"github.com/paddleclash/coordinator/tournament"
	"github.com/paddleclash/coordinator/transport/websocket"
)

// Server is the REST surface plus the WebSocket channel routes.
type Server struct {
	identity *identity.Manager
	verifier auth.Verifier
	games    *gamesession.Manager
	rooms    *tournament.Coordinator
	matches  *history.Store
	hub      *websocket.Hub
	router   *mux.Router
	logger   *zap.Logger
}

// NewServer wires the router. The history store may be nil, in which case
// the history endpoint responds 404.
func NewServer(
	identities *identity.Manager,
	verifier auth.Verifier,
	games *gamesession.Manager,
	rooms *tournament.Coordinator,
	matches *history.Store,
	hub *websocket.Hub,
	logger *zap.Logger,
) *Server {
	s := &Server{
		identity: identities,
		verifier: verifier,
		games:    games,
		rooms:    rooms,
		matches:  matches,
		hub:      hub,
		router:   mux.NewRouter(),
		logger:   logger.Named("api"),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/game/create", s.handleGameCreate).Methods("GET")
	api.HandleFunc("/tournament/rooms", s.handleTournamentRooms).Methods("POST")
	api.HandleFunc("/tournament/leave", s.handleTournamentLeave).Methods("POST")
	api.HandleFunc("/history/{userId}", s.handleHistory).Methods("GET")

	// Signaling channels.
	s.router.HandleFunc("/invitations", s.hub.ServeChannel(registry.ChannelInvitations))
	s.router.HandleFunc("/notifications", s.hub.ServeChannel(registry.ChannelNotifications))
	s.router.HandleFunc("/message", s.hub.ServeChannel(registry.ChannelChat))
	s.router.HandleFunc("/game", s.hub.ServeGame(gamesession.TypeNetwork))
	s.router.HandleFunc("/localgame", s.hub.ServeGame(gamesession.TypeLocal))
	s.router.HandleFunc("/aigame", s.hub.ServeGame(gamesession.TypeAI))
	s.router.HandleFunc("/tournament/match", s.hub.ServeChannel(registry.ChannelTournament))

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// credentials is the auth block tournament endpoints carry in their body.
type credentials struct {
	Token     string `json:"token"`
	SessionID string `json:"sessionId"`
}

// authenticate resolves a request body's credentials to a user id. The
// session id is established as a side effect so a fresh browser hitting
// REST before any channel still gets a stable identity.
func (s *Server) authenticate(creds credentials) (string, bool) {
	session, _ := s.identity.Establish(creds.SessionID)

	userID, err := s.verifier.Verify(creds.Token)
	if err != nil {
		return "", false
	}
	s.identity.BindUser(session.ID, userID)
	return userID, true
}

func (s *Server) handleGameCreate(w http.ResponseWriter, r *http.Request) {
	gameType := gamesession.GameType(r.URL.Query().Get("type"))
	if gameType == "" {
		gameType = gamesession.TypeNetwork
	}

	game, err := s.games.Create(gameType)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"gameId": game.ID})
}

func (s *Server) handleTournamentRooms(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, ok := s.authenticate(creds); !ok {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rooms": s.rooms.Rooms(),
	})
}

func (s *Server) handleTournamentLeave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomID string `json:"roomId"`
		credentials
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID, ok := s.authenticate(req.credentials)
	if !ok {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	if err := s.rooms.Leave(req.RoomID, userID); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.matches == nil {
		respondError(w, http.StatusNotFound, "history not enabled")
		return
	}

	userID := mux.Vars(r)["userId"]

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if l, err := strconv.Atoi(raw); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	entries, err := s.matches.RecentByUser(userID, limit)
	if err != nil {
		s.logger.Error("history lookup failed", zap.String("userID", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "history lookup failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"matches": entries,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
