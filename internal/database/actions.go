// internal/database/actions.go
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/cluedo/internal/models"
)

// ActionStore persists the action history drained by the historian.
type ActionStore struct {
	pool *pgxpool.Pool
}

func NewActionStore(pool *pgxpool.Pool) *ActionStore {
	return &ActionStore{pool: pool}
}

// InsertActions writes a batch in one transaction. Actions already recorded are skipped,
// so a batch redelivered after a crash does not fail.
func (s *ActionStore) InsertActions(ctx context.Context, actions []models.GameAction) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			INSERT INTO game_actions (game_id, version, actor_id, action_type, action_payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT DO NOTHING
		`
		for _, a := range actions {
			payload, err := json.Marshal(a.Payload)
			if err != nil {
				return err
			}
			var actor *uuid.UUID
			if a.ActorID != uuid.Nil {
				actor = &a.ActorID
			}
			if _, err := tx.Exec(ctx, q, a.GameID, a.Version, actor, a.ActionType, payload, time.UnixMilli(a.Timestamp).UTC()); err != nil {
				return fmt.Errorf("insert action %s of game %s: %w", a.ActionType, a.GameID, err)
			}
		}
		return nil
	})
}

// Actions returns the recorded history of a game in version order.
func (s *ActionStore) Actions(ctx context.Context, gameID uuid.UUID) ([]models.GameAction, error) {
	q := `
		SELECT version, actor_id, action_type, action_payload, created_at
		FROM game_actions
		WHERE game_id = $1
		ORDER BY version, created_at
	`
	rows, err := s.pool.Query(ctx, q, gameID)
	if err != nil {
		return nil, fmt.Errorf("select actions: %w", err)
	}
	defer rows.Close()

	var out []models.GameAction
	for rows.Next() {
		var (
			a       = models.GameAction{GameID: gameID}
			actor   *uuid.UUID
			payload []byte
			at      time.Time
		)
		if err := rows.Scan(&a.Version, &actor, &a.ActionType, &payload, &at); err != nil {
			return nil, err
		}
		if actor != nil {
			a.ActorID = *actor
		}
		if err := json.Unmarshal(payload, &a.Payload); err != nil {
			return nil, err
		}
		a.Timestamp = at.UnixMilli()
		out = append(out, a)
	}
	return out, rows.Err()
}
