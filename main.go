// Command coordinator starts the Pong platform coordinator.
//
// It serves the REST API and the WebSocket signaling channels on one HTTP
// listener. Flags control host/port, the JWT verification secret, the
// match-history database path, tournament room sizing, and debug logging.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/paddleclash/coordinator/api"
	"github.com/paddleclash/coordinator/auth"
	gamesession "github.com/paddleclash/coordinator/game/session"
	"github.com/paddleclash/coordinator/history"
	"github.com/paddleclash/coordinator/identity"
	"github.com/paddleclash/coordinator/invite"
	"github.com/paddleclash/coordinator/notify"
	"github.com/paddleclash/coordinator/registry"
	"github.com/paddleclash/coordinator/tournament"
	"github.com/paddleclash/coordinator/transport/websocket"
)

const (
	Version = "1.0.0"
	AppName = "Pong Platform Coordinator"
)

func main() {
	// Load .env file if it exists (ignore error if not found)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	cmd := &cli.Command{
		Name:    "coordinator",
		Usage:   AppName,
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Value: "0.0.0.0", Usage: "HTTP server host", Sources: cli.EnvVars("HOST")},
			&cli.IntFlag{Name: "port", Value: 8080, Usage: "HTTP server port", Sources: cli.EnvVars("PORT")},
			&cli.StringFlag{Name: "jwt-secret", Usage: "HMAC secret for token verification", Sources: cli.EnvVars("JWT_SECRET")},
			&cli.StringFlag{Name: "db", Value: "data/matches.db", Usage: "Match-history database path (empty disables history)", Sources: cli.EnvVars("HISTORY_DB")},
			&cli.StringFlag{Name: "reclaim-policy", Value: string(gamesession.ReclaimSameUser), Usage: "Disconnect policy for game roles: same-user or forfeit", Sources: cli.EnvVars("RECLAIM_POLICY")},
			&cli.IntFlag{Name: "room-capacity", Value: 8, Usage: "Maximum members per tournament room", Sources: cli.EnvVars("ROOM_CAPACITY")},
			&cli.IntFlag{Name: "pair-threshold", Value: 2, Usage: "Waiting members required before pairing", Sources: cli.EnvVars("PAIR_THRESHOLD")},
			&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging", Sources: cli.EnvVars("DEBUG")},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	logger, err := newLogger(cmd.Bool("debug"))
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logger.Sync()

	secret := cmd.String("jwt-secret")
	if secret == "" {
		logger.Warn("no JWT secret configured, all tokens will be rejected and connections stay anonymous")
	}

	reclaim := gamesession.ReclaimPolicy(cmd.String("reclaim-policy"))
	if reclaim != gamesession.ReclaimSameUser && reclaim != gamesession.ForfeitOnDisconnect {
		return fmt.Errorf("unknown reclaim policy %q", reclaim)
	}

	// Match-history store is optional.
	var matches *history.Store
	var recorder gamesession.Recorder
	if dbPath := cmd.String("db"); dbPath != "" {
		matches, err = history.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer matches.Close()
		recorder = matches
		logger.Info("match history enabled", zap.String("path", dbPath))
	}

	// Core components.
	conns := registry.New(logger)
	identities := identity.NewManager(logger)
	verifier := auth.NewJWTVerifier([]byte(secret))
	games := gamesession.NewManager(reclaim, recorder, logger)
	invites := invite.NewBroker(conns, logger)
	fanout := notify.NewFanout(conns, logger)
	rooms := tournament.NewCoordinator(
		int(cmd.Int("room-capacity")),
		int(cmd.Int("pair-threshold")),
		games, conns, fanout, logger,
	)

	hub := websocket.NewHub(identities, verifier, conns, invites, games, rooms, logger)
	server := api.NewServer(identities, verifier, games, rooms, matches, hub, logger)

	// Background sweep routines.
	go sessionSweepRoutine(identities, conns, logger)
	go inviteSweepRoutine(invites, logger)
	go gameSweepRoutine(games, logger)

	addr := fmt.Sprintf("%s:%d", cmd.String("host"), cmd.Int("port"))
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     server,
		ReadTimeout: 15 * time.Second,
		// Long-lived WebSocket upgrades share this listener, so no write
		// timeout; idle sockets are bounded by the channel ping cycle.
		IdleTimeout: 60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			zap.String("addr", addr),
			zap.String("version", Version),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// sessionSweepRoutine periodically removes anonymous sessions with no live
// connection that have aged past the retention window.
func sessionSweepRoutine(identities *identity.Manager, conns *registry.Registry, logger *zap.Logger) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		removed := identities.Sweep(24*time.Hour, conns.SessionHasConnections)
		if removed > 0 {
			logger.Info("swept idle sessions", zap.Int("removed", removed))
		}
	}
}

// inviteSweepRoutine expires pending invitations that were never answered.
func inviteSweepRoutine(invites *invite.Broker, logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		removed := invites.Sweep(2 * time.Minute)
		if removed > 0 {
			logger.Info("expired pending invitations", zap.Int("removed", removed))
		}
	}
}

// gameSweepRoutine evicts game sessions that have sat empty past the grace
// period.
func gameSweepRoutine(games *gamesession.Manager, logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		removed := games.CleanupExpired(1 * time.Minute)
		if removed > 0 {
			logger.Info("evicted abandoned games", zap.Int("removed", removed))
		}
	}
}
