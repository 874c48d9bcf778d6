package models

import "github.com/google/uuid"

// GameAction is one committed action as recorded in the action history.
type GameAction struct {
	GameID     uuid.UUID              `json:"game_id"`
	Version    int                    `json:"version"`
	ActorID    uuid.UUID              `json:"actor_id"`
	ActionType string                 `json:"action_type"`
	Payload    map[string]interface{} `json:"payload"`
	Timestamp  int64                  `json:"timestamp"`
}
