// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cluedo/internal/auth"
	"github.com/jason-s-yu/cluedo/internal/game"
	"github.com/jason-s-yu/cluedo/internal/models"
	"github.com/sirupsen/logrus"
)

// Tokens is the part of the token service the engine keeps in step with role changes.
type Tokens interface {
	CreateToken(gamerID uuid.UUID, payload auth.Payload, recreate bool) (string, error)
	RemoveToken(gamerID uuid.UUID)
}

// Engine dispatches requests to the rules engine and turns results into effects.
type Engine struct {
	manager *game.Manager
	tokens  Tokens
	logger  *logrus.Logger
	retries int
}

func New(manager *game.Manager, tokens Tokens, logger *logrus.Logger, retries int) *Engine {
	if retries < 1 {
		retries = 1
	}
	return &Engine{manager: manager, tokens: tokens, logger: logger, retries: retries}
}

// Manager exposes the rules engine for reads.
func (e *Engine) Manager() *game.Manager { return e.manager }

// Do applies a local request on behalf of req.GamerID. Lost optimistic-concurrency races
// are retried against the fresh record.
func (e *Engine) Do(ctx context.Context, req Request) (*Effect, error) {
	h, ok := direct[req.Action]
	if !ok {
		return nil, fmt.Errorf("unknown action %q: %w", req.Action, game.ErrInvalidArgument)
	}
	if err := e.authorize(ctx, req); err != nil {
		return nil, err
	}

	var (
		eff *Effect
		err error
	)
	for attempt := 0; attempt < e.retries; attempt++ {
		eff, err = h(ctx, e.manager, req)
		if !errors.Is(err, game.ErrVersionConflict) {
			break
		}
		e.logger.WithFields(logrus.Fields{"game": req.GameID, "action": req.Action, "attempt": attempt + 1}).Debug("version conflict, retrying")
	}
	if err != nil {
		return nil, err
	}

	if err := e.rotateTokens(eff); err != nil {
		return nil, err
	}
	if concluding(eff) {
		stop, err := stopGame(ctx, e.manager, Request{Action: StopGame, GameID: eff.GameID})
		if err != nil {
			e.logger.WithError(err).WithField("game", eff.GameID).Error("failed to stop concluded game")
		} else {
			eff.Then = stop
		}
	}
	return eff, nil
}

// Replay applies an event committed on another peer under req.Event. It fails with
// game.ErrAlreadyApplied when the local copy already holds the event. A local write
// racing the replay is not a duplicate, so the replay is retried on top of it.
func (e *Engine) Replay(ctx context.Context, req Request) (*Effect, error) {
	h, ok := replay[req.Action]
	if !ok {
		h, ok = direct[req.Action]
	}
	if !ok {
		return nil, fmt.Errorf("unknown action %q: %w", req.Action, game.ErrInvalidArgument)
	}
	if req.Event == uuid.Nil {
		return nil, fmt.Errorf("replayed %s without an event id: %w", req.Action, game.ErrInvalidArgument)
	}
	m := e.manager.Replay(req.Event)

	var (
		eff *Effect
		err error
	)
	for attempt := 0; attempt < e.retries; attempt++ {
		eff, err = h(ctx, m, req)
		if !errors.Is(err, game.ErrVersionConflict) {
			break
		}
		e.logger.WithFields(logrus.Fields{"game": req.GameID, "action": req.Action, "event": req.Event}).Debug("version conflict on replay, retrying")
	}
	return eff, err
}

type capability int

const (
	anyone capability = iota
	member
	creator
)

var required = map[Action]capability{
	NewGame:          anyone,
	NewGamer:         anyone,
	RemoveGamer:      member,
	Start:            creator,
	RollDie:          member,
	TakeNotes:        member,
	MakeAssumption:   member,
	Confutation:      member,
	MakeAccusation:   member,
	UseSecretPassage: member,
	Stay:             member,
	Leave:            member,
	EndRound:         member,
	StopGame:         member,
}

// authorize checks the actor's standing. Turn-bound actions are additionally checked by
// the rules engine, which knows the round.
func (e *Engine) authorize(ctx context.Context, req Request) error {
	need := required[req.Action]
	if need == anyone {
		return nil
	}
	actor, err := e.manager.FindGamer(ctx, req.GameID, req.GamerID)
	if err != nil {
		return err
	}
	if need == creator && !actor.Role.Has(models.RoleCreator) {
		return fmt.Errorf("%s needs the creator: %w", req.Action, game.ErrForbidden)
	}
	if req.Action == RemoveGamer && req.Gamer != nil && req.Gamer.ID != req.GamerID && !actor.Role.Has(models.RoleCreator) {
		return fmt.Errorf("only the creator removes other gamers: %w", game.ErrForbidden)
	}
	return nil
}

func (e *Engine) rotateTokens(eff *Effect) error {
	if e.tokens == nil {
		return nil
	}
	switch eff.Action {
	case NewGame, NewGamer:
		tok, err := e.tokens.CreateToken(eff.Gamer.ID, auth.Payload{GameID: eff.GameID, Roles: eff.Gamer.Role}, false)
		if err != nil {
			return err
		}
		eff.Token = tok
	case Stay:
		tok, err := e.tokens.CreateToken(eff.GamerID, auth.Payload{GameID: eff.GameID, Roles: *eff.Roles}, true)
		if err != nil {
			return err
		}
		eff.Token = tok
	case Leave, RemoveGamer:
		e.tokens.RemoveToken(eff.Gamer.ID)
	}
	return nil
}

func concluding(eff *Effect) bool {
	if eff.Game == nil || eff.Game.Status != models.StatusStarted {
		return false
	}
	switch eff.Action {
	case Stay, Leave, EndRound:
		return eff.Game.Participants() <= 1
	}
	return false
}

// RemoveGamersOf makes every gamer hosted by an offline peer leave. It returns one LEAVE
// effect per departed gamer, shaped exactly as an explicit leave and carrying its own
// event, with the stop of any game that lost its last opponent chained on the game's
// final departure.
func (e *Engine) RemoveGamersOf(ctx context.Context, peer string) ([]*Effect, error) {
	var effects []*Effect
	err := e.manager.RemoveGamersOf(ctx, peer, func(g *models.Game, departures []*game.Departure) {
		var last *Effect
		for _, d := range departures {
			last = departureEffect(d.Game, d.Gamer, d.PreviousRoundGamer)
			effects = append(effects, last)
			if e.tokens != nil {
				e.tokens.RemoveToken(d.Gamer.ID)
			}
		}
		if last != nil && concluding(last) {
			stop, err := stopGame(ctx, e.manager, Request{Action: StopGame, GameID: g.ID})
			if err != nil {
				e.logger.WithError(err).WithField("game", g.ID).Error("failed to stop concluded game")
				return
			}
			last.Then = stop
		}
	})
	return effects, err
}
