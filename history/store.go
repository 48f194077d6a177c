// Package history persists completed match results to SQLite.
// Uses the pure-Go modernc.org/sqlite driver to avoid CGO dependencies.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/paddleclash/coordinator/game/session"
)

// Store manages the SQLite database connection for match persistence.
type Store struct {
	db *sql.DB
}

// MatchEntry is a single recorded match.
type MatchEntry struct {
	ID         int64     `json:"id"`
	GameID     string    `json:"gameId"`
	GameType   string    `json:"gameType"`
	LeftUser   string    `json:"leftUser"`
	RightUser  string    `json:"rightUser"`
	ScoreLeft  int       `json:"scoreLeft"`
	ScoreRight int       `json:"scoreRight"`
	Winner     string    `json:"winner"`
	EndReason  string    `json:"endReason"`
	Duration   int       `json:"durationSecs"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Open creates or opens a SQLite database at the given path. It creates the
// parent directories if needed and runs migrations.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: cannot create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: cannot open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: cannot connect to database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migration failed: %w", err)
	}
	return store, nil
}

// migrate creates the database schema if it doesn't exist.
func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS matches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			game_id TEXT NOT NULL UNIQUE,
			game_type TEXT NOT NULL,
			left_user TEXT NOT NULL,
			right_user TEXT NOT NULL,
			score_left INTEGER NOT NULL DEFAULT 0,
			score_right INTEGER NOT NULL DEFAULT 0,
			winner TEXT,
			end_reason TEXT NOT NULL,
			duration_secs INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_matches_left_user ON matches(left_user);
		CREATE INDEX IF NOT EXISTS idx_matches_right_user ON matches(right_user);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ session.Recorder = (*Store)(nil)

// RecordMatch inserts a completed match. A duplicate game id is treated as
// already recorded and not an error, so redundant completion signals stay
// idempotent at the storage layer.
func (s *Store) RecordMatch(result session.Result) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO matches
		 (game_id, game_type, left_user, right_user, score_left, score_right, winner, end_reason, duration_secs)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.GameID,
		string(result.Type),
		result.LeftUser,
		result.RightUser,
		result.ScoreLeft,
		result.ScoreRight,
		result.Winner,
		result.EndReason,
		int(result.Duration.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("history: cannot record match: %w", err)
	}
	return nil
}

// RecentByUser retrieves the most recent matches a user took part in, on
// either paddle, newest first.
func (s *Store) RecentByUser(userID string, limit int) ([]MatchEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(
		`SELECT id, game_id, game_type, left_user, right_user, score_left, score_right, winner, end_reason, duration_secs, created_at
		 FROM matches
		 WHERE left_user = ? OR right_user = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		userID, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: cannot query matches: %w", err)
	}
	defer rows.Close()

	return scanMatches(rows)
}

func scanMatches(rows *sql.Rows) ([]MatchEntry, error) {
	var entries []MatchEntry
	for rows.Next() {
		var e MatchEntry
		var winner sql.NullString
		var createdAt any
		if err := rows.Scan(&e.ID, &e.GameID, &e.GameType, &e.LeftUser, &e.RightUser,
			&e.ScoreLeft, &e.ScoreRight, &winner, &e.EndReason, &e.Duration, &createdAt); err != nil {
			return nil, fmt.Errorf("history: cannot scan row: %w", err)
		}
		e.Winner = winner.String

		// Parse the datetime - handle both time.Time and string
		switch v := createdAt.(type) {
		case time.Time:
			e.CreatedAt = v
		case string:
			if parsed, err := time.Parse("2006-01-02 15:04:05", v); err == nil {
				e.CreatedAt = parsed
			}
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: row iteration error: %w", err)
	}
	return entries, nil
}
