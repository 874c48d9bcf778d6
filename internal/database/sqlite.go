// internal/database/sqlite.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cluedo/internal/game"
	"github.com/jason-s-yu/cluedo/internal/models"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS games (
	id         TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	status     TEXT NOT NULL,
	doc        TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS games_status_idx ON games (status);
`

// SQLiteStore keeps game records in a single-file database, for peers without Postgres.
type SQLiteStore struct {
	sqlDB *sql.DB
}

// OpenSQLite opens or creates the database at path. ":memory:" is accepted for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path)
	}
	dsn += "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, g *models.Game) error {
	doc, err := json.Marshal(g)
	if err != nil {
		return err
	}
	now := time.Now().UTC().UnixMilli()
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO games (id, version, status, doc, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		g.ID.String(), g.Version, string(g.Status), string(doc), g.CreatedAt.UTC().UnixMilli(), now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("game %s: %w", g.ID, game.ErrVersionConflict)
		}
		return fmt.Errorf("insert game: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	var doc string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT doc FROM games WHERE id = ?`, id.String()).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("game %s: %w", id, game.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select game: %w", err)
	}
	return decodeGame([]byte(doc))
}

func (s *SQLiteStore) Update(ctx context.Context, g *models.Game, expected int) error {
	doc, err := json.Marshal(g)
	if err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE games SET version = ?, status = ?, doc = ?, updated_at = ? WHERE id = ? AND version = ?`,
		g.Version, string(g.Status), string(doc), time.Now().UTC().UnixMilli(), g.ID.String(), expected,
	)
	if err != nil {
		return fmt.Errorf("update game: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var version int
	err = s.sqlDB.QueryRowContext(ctx, `SELECT version FROM games WHERE id = ?`, g.ID.String()).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("game %s: %w", g.ID, game.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("game %s at version %d, expected %d: %w", g.ID, version, expected, game.ErrVersionConflict)
}

func (s *SQLiteStore) List(ctx context.Context, statuses ...models.Status) ([]*models.Game, error) {
	query := `SELECT doc FROM games`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` + strings.Repeat(`, ?`, len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at`

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	var out []*models.Game
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		g, err := decodeGame([]byte(doc))
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM games WHERE id = ?`, id.String())
	return err
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
