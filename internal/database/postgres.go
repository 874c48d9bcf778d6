// internal/database/postgres.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/cluedo/internal/game"
	"github.com/jason-s-yu/cluedo/internal/models"
)

const pgUniqueViolation = "23505"

// PostgresStore keeps game records in the games table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, g *models.Game) error {
	doc, err := json.Marshal(g)
	if err != nil {
		return err
	}
	q := `
		INSERT INTO games (id, version, status, doc, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = s.pool.Exec(ctx, q, g.ID, g.Version, string(g.Status), doc, g.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("game %s: %w", g.ID, game.ErrVersionConflict)
		}
		return fmt.Errorf("insert game: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM games WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("game %s: %w", id, game.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select game: %w", err)
	}
	return decodeGame(doc)
}

// Update writes g only if the stored row is still at version expected. A missing row
// and a moved version are told apart with a second read so callers get the right code.
func (s *PostgresStore) Update(ctx context.Context, g *models.Game, expected int) error {
	doc, err := json.Marshal(g)
	if err != nil {
		return err
	}
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			UPDATE games
			SET version = $2, status = $3, doc = $4, updated_at = NOW()
			WHERE id = $1 AND version = $5
		`
		tag, err := tx.Exec(ctx, q, g.ID, g.Version, string(g.Status), doc, expected)
		if err != nil {
			return fmt.Errorf("update game: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}
		var version int
		err = tx.QueryRow(ctx, `SELECT version FROM games WHERE id = $1`, g.ID).Scan(&version)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("game %s: %w", g.ID, game.ErrNotFound)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("game %s at version %d, expected %d: %w", g.ID, version, expected, game.ErrVersionConflict)
	})
}

func (s *PostgresStore) List(ctx context.Context, statuses ...models.Status) ([]*models.Game, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.pool.Query(ctx, `SELECT doc FROM games ORDER BY created_at`)
	} else {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		rows, err = s.pool.Query(ctx, `SELECT doc FROM games WHERE status = ANY($1) ORDER BY created_at`, names)
	}
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("scan games: %w", err)
	}
	out := make([]*models.Game, 0, len(docs))
	for _, doc := range docs {
		g, err := decodeGame(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM games WHERE id = $1`, id)
	return err
}

func decodeGame(doc []byte) (*models.Game, error) {
	var g models.Game
	if err := json.Unmarshal(doc, &g); err != nil {
		return nil, fmt.Errorf("decode game: %w", err)
	}
	return &g, nil
}
