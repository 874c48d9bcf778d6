// internal/models/game.go
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle phase of a game.
type Status string

const (
	StatusWaiting  Status = "WAITING"
	StatusStarted  Status = "STARTED"
	StatusFinished Status = "FINISHED"
)

// Placement is where a character or weapon token currently stands.
type Placement struct {
	Name  string `json:"name"`
	Place string `json:"place"`
}

// Room is a room of the board and its optional secret passage target.
type Room struct {
	Name          string `json:"name"`
	SecretPassage string `json:"secretPassage,omitempty"`
}

// Game is the persisted, versioned record of one game.
type Game struct {
	ID         uuid.UUID   `json:"id"`
	Version    int         `json:"version"`
	Status     Status      `json:"status"`
	Gamers     []*Gamer    `json:"gamers"`
	RoundGamer uuid.UUID   `json:"roundGamer,omitempty"`
	Solution   *Suggestion `json:"solution,omitempty"`
	Characters []Placement `json:"characters,omitempty"`
	Weapons    []Placement `json:"weapons,omitempty"`
	Rooms      []Room      `json:"rooms,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`

	// Events holds the ids of the latest events written to the record, oldest first.
	Events []uuid.UUID `json:"events,omitempty"`
}

// EventWindow bounds how many event ids a record remembers for duplicate detection.
const EventWindow = 256

// Applied reports whether event was already written to the record.
func (g *Game) Applied(event uuid.UUID) bool {
	for _, id := range g.Events {
		if id == event {
			return true
		}
	}
	return false
}

// Record remembers event as the latest write, forgetting the oldest past EventWindow.
func (g *Game) Record(event uuid.UUID) {
	g.Events = append(g.Events, event)
	if over := len(g.Events) - EventWindow; over > 0 {
		g.Events = append(g.Events[:0:0], g.Events[over:]...)
	}
}

// LastEvent is the id of the latest write, or uuid.Nil.
func (g *Game) LastEvent() uuid.UUID {
	if len(g.Events) == 0 {
		return uuid.Nil
	}
	return g.Events[len(g.Events)-1]
}

// Gamer returns the gamer with the given id, or nil.
func (g *Game) Gamer(id uuid.UUID) *Gamer {
	for _, gm := range g.Gamers {
		if gm.ID == id {
			return gm
		}
	}
	return nil
}

// GamerIndex returns the rotation index of id, or -1.
func (g *Game) GamerIndex(id uuid.UUID) int {
	for i, gm := range g.Gamers {
		if gm.ID == id {
			return i
		}
	}
	return -1
}

// GamerByCharacter returns the gamer playing character, or nil.
func (g *Game) GamerByCharacter(character string) *Gamer {
	for _, gm := range g.Gamers {
		if gm.CharacterToken == character {
			return gm
		}
	}
	return nil
}

// Participants counts gamers that still take turns.
func (g *Game) Participants() int {
	n := 0
	for _, gm := range g.Gamers {
		if gm.IsParticipant() {
			n++
		}
	}
	return n
}

// IsInRound reports whether id is the round gamer.
func (g *Game) IsInRound(id uuid.UUID) bool {
	return g.RoundGamer != uuid.Nil && g.RoundGamer == id
}

// Place returns the current place of a character or weapon token.
func (g *Game) Place(token string) string {
	for _, p := range g.Characters {
		if p.Name == token {
			return p.Place
		}
	}
	for _, p := range g.Weapons {
		if p.Name == token {
			return p.Place
		}
	}
	return ""
}

// Move sets the place of a character or weapon token.
func (g *Game) Move(token, place string) {
	for i := range g.Characters {
		if g.Characters[i].Name == token {
			g.Characters[i].Place = place
			return
		}
	}
	for i := range g.Weapons {
		if g.Weapons[i].Name == token {
			g.Weapons[i].Place = place
			return
		}
	}
}

// Passage returns the secret passage target of room as recorded on the board.
func (g *Game) Passage(room string) (string, bool) {
	for _, r := range g.Rooms {
		if r.Name == room && r.SecretPassage != "" {
			return r.SecretPassage, true
		}
	}
	return "", false
}

// Clone returns a deep copy of the record.
func (g *Game) Clone() *Game {
	data, err := json.Marshal(g)
	if err != nil {
		panic(err) // every field is plain data
	}
	var out Game
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}
