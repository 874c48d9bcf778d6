// internal/engine/action.go
package engine

import (
	"github.com/google/uuid"
	"github.com/jason-s-yu/cluedo/internal/models"
)

// Action names one kind of game event, both on the wire and in the dispatch table.
type Action string

const (
	NewGame          Action = "NEW_GAME"
	NewGamer         Action = "NEW_GAMER"
	RemoveGamer      Action = "REMOVE_GAMER"
	Start            Action = "START"
	RollDie          Action = "ROLL_DIE"
	TakeNotes        Action = "TAKE_NOTES"
	MakeAssumption   Action = "MAKE_ASSUMPTION"
	Confutation      Action = "CONFUTATION"
	MakeAccusation   Action = "MAKE_ACCUSATION"
	UseSecretPassage Action = "USE_SECRET_PASSAGE"
	Stay             Action = "STAY"
	Leave            Action = "LEAVE"
	EndRound         Action = "END_ROUND"
	StopGame         Action = "STOP_GAME"
)

// Lifecycle reports whether the action concerns the lobby rather than a running game.
func (a Action) Lifecycle() bool {
	return a == NewGame || a == NewGamer || a == RemoveGamer
}

// Known reports whether a is a dispatchable action.
func (a Action) Known() bool {
	_, ok := direct[a]
	return ok
}

// Request is one action to apply, either from a local caller or replayed from a peer.
type Request struct {
	Action  Action    `json:"action"`
	GameID  uuid.UUID `json:"gameId"`
	GamerID uuid.UUID `json:"gamerId,omitempty"`

	Gamer       *models.Gamer      `json:"gamer,omitempty"`
	Suggestion  *models.Suggestion `json:"suggestion,omitempty"`
	Note        *models.Note       `json:"note,omitempty"`
	Card        string             `json:"card,omitempty"`
	Destination string             `json:"housePart,omitempty"`

	// Game and Event are only set on replayed events. Event is the id the origin peer
	// committed the write under, used to recognise a second delivery.
	Game  *models.Game `json:"game,omitempty"`
	Event uuid.UUID    `json:"event,omitempty"`
}

// Effect is the committed outcome of a Request. It carries every field any recipient
// may see; the realtime router projects it per recipient before sending.
type Effect struct {
	Action  Action    `json:"action"`
	GameID  uuid.UUID `json:"gameId"`
	GamerID uuid.UUID `json:"gamerId,omitempty"`
	Version int       `json:"version"`
	Event   uuid.UUID `json:"event"`

	Game               *models.Game           `json:"game,omitempty"`
	Gamer              *models.Gamer          `json:"gamer,omitempty"`
	Destination        string                 `json:"housePart,omitempty"`
	Suggestion         *models.Suggestion     `json:"suggestion,omitempty"`
	Solution           *models.Suggestion     `json:"solution,omitempty"`
	Win                *bool                  `json:"win,omitempty"`
	Note               *models.Note           `json:"note,omitempty"`
	Card               string                 `json:"card,omitempty"`
	Shown              *bool                  `json:"shown,omitempty"`
	Confuter           uuid.UUID              `json:"confuter,omitempty"`
	Roles              *models.Role           `json:"roles,omitempty"`
	Hands              map[uuid.UUID][]string `json:"hands,omitempty"`
	PreviousRoundGamer uuid.UUID              `json:"previousRoundGamer,omitempty"`
	RoundGamer         uuid.UUID              `json:"roundGamer,omitempty"`
	Stopped            *bool                  `json:"stopped,omitempty"`

	// Token is the actor's fresh token, returned to the caller only.
	Token string `json:"-"`
	// FromPeer is the locator of the peer the effect was replayed from; empty for local actions.
	FromPeer string `json:"-"`
	// Then is a follow-up effect committed right after this one, such as the stop of a
	// game that just lost its last opponent.
	Then *Effect `json:"-"`
}

// Broadcast reports whether the effect changed anything worth telling others about.
func (e *Effect) Broadcast() bool {
	return !(e.Action == StopGame && e.Stopped != nil && !*e.Stopped)
}

// Request rebuilds the replayable request a peer needs to apply this effect.
func (e *Effect) Request() Request {
	req := Request{
		Action:      e.Action,
		GameID:      e.GameID,
		GamerID:     e.GamerID,
		Gamer:       e.Gamer,
		Suggestion:  e.Suggestion,
		Note:        e.Note,
		Card:        e.Card,
		Destination: e.Destination,
		Event:       e.Event,
	}
	if e.Action == NewGame || e.Action == Start {
		req.Game = e.Game
	}
	return req
}

func boolPtr(b bool) *bool { return &b }
