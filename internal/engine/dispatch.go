// internal/engine/dispatch.go
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cluedo/internal/game"
	"github.com/jason-s-yu/cluedo/internal/models"
)

type handler func(ctx context.Context, m *game.Manager, req Request) (*Effect, error)

var direct map[Action]handler

// replay overrides the actions whose outcome is random on the origin peer.
var replay map[Action]handler

func init() {
	direct = map[Action]handler{
		NewGame:          newGame,
		NewGamer:         newGamer,
		RemoveGamer:      removeGamer,
		Start:            startGame,
		RollDie:          rollDie,
		TakeNotes:        takeNotes,
		MakeAssumption:   makeAssumption,
		Confutation:      confutation,
		MakeAccusation:   makeAccusation,
		UseSecretPassage: useSecretPassage,
		Stay:             stay,
		Leave:            leave,
		EndRound:         endRound,
		StopGame:         stopGame,
	}
	replay = map[Action]handler{
		NewGame: insertGame,
		Start:   applyStart,
		RollDie: moveCharacter,
	}
}

func effectOf(action Action, g *models.Game, actor uuid.UUID) *Effect {
	return &Effect{Action: action, GameID: g.ID, GamerID: actor, Version: g.Version, Event: g.LastEvent(), Game: g}
}

func newGame(ctx context.Context, m *game.Manager, req Request) (*Effect, error) {
	if req.Gamer == nil {
		return nil, fmt.Errorf("missing creator: %w", game.ErrInvalidArgument)
	}
	creator := *req.Gamer
	g, err := m.CreateGame(ctx, &creator)
	if err != nil {
		return nil, err
	}
	eff := effectOf(NewGame, g, creator.ID)
	eff.Gamer = g.Gamer(creator.ID)
	return eff, nil
}

func insertGame(ctx context.Context, m *game.Manager, req Request) (*Effect, error) {
	if req.Game == nil {
		return nil, fmt.Errorf("missing game record: %w", game.ErrInvalidArgument)
	}
	if err := m.Insert(ctx, req.Game); err != nil {
		return nil, err
	}
	eff := effectOf(NewGame, req.Game, req.GamerID)
	eff.Gamer = req.Gamer
	return eff, nil
}

func newGamer(ctx context.Context, m *game.Manager, req Request) (*Effect, error) {
	if req.Gamer == nil {
		return nil, fmt.Errorf("missing gamer: %w", game.ErrInvalidArgument)
	}
	joining := *req.Gamer
	g, err := m.AddGamer(ctx, req.GameID, &joining)
	if err != nil {
		return nil, err
	}
	eff := effectOf(NewGamer, g, joining.ID)
	eff.Gamer = g.Gamer(joining.ID)
	return eff, nil
}

func removeGamer(ctx context.Context, m *game.Manager, req Request) (*Effect, error) {
	target := req.GamerID
	if req.Gamer != nil {
		target = req.Gamer.ID
	}
	gone, g, err := m.RemoveGamer(ctx, req.GameID, target)
	if err != nil {
		return nil, err
	}
	eff := effectOf(RemoveGamer, g, req.GamerID)
	eff.Gamer = gone
	return eff, nil
}

func startGame(ctx context.Context, m *game.Manager, req Request) (*Effect, error) {
	g, err := m.StartGame(ctx, req.GameID)
	if err != nil {
		return nil, err
	}
	eff := effectOf(Start, g, req.GamerID)
	eff.RoundGamer = g.RoundGamer
	return eff, nil
}

func applyStart(ctx context.Context, m *game.Manager, req Request) (*Effect, error) {
	g, err := m.ApplyStart(ctx, req.Game)
	if err != nil {
		return nil, err
	}
	eff := effectOf(Start, g, req.GamerID)
	eff.RoundGamer = g.RoundGamer
	return eff, nil
}

func rollDie(ctx context.Context, m *game.Manager, req Request) (*Effect, error) {
	dest, g, err := m.RollDie(ctx, req.GameID, req.GamerID)
	if err != nil {
		return nil, err
	}
	eff := effectOf(RollDie, g, req.GamerID)
	eff.Destination = dest
	return eff, nil
}

func moveCharacter(ctx context.Context, m *game.Manager, req Request) (*Effect, error) {
	g, err := m.MoveCharacter(ctx, req.GameID, req.GamerID, req.Destination)
	if err != nil {
		return nil, err
	}
	eff := effectOf(RollDie, g, req.GamerID)
	eff.Destination = req.Destination
	return eff, nil
}

func takeNotes(ctx context.Context, m *game.Manager, req Request) (*Effect, error) {
	g, err := m.TakeNote(ctx, req.GameID, req.GamerID, req.Note)
	if err != nil {
		return nil, err
	}
	eff := effectOf(TakeNotes, g, req.GamerID)
	eff.Note = req.Note
	return eff, nil
}

func makeAssumption(ctx context.Context, m *game.Manager, req Request) (*Effect, error) {
	g, err := m.MakeAssumption(ctx, req.GameID, req.GamerID, req.Suggestion)
	if err != nil {
		return nil, err
	}
	eff := effectOf(MakeAssumption, g, req.GamerID)
	eff.Suggestion = req.Suggestion
	if confuter, _ := game.Confuter(g, req.GamerID, *req.Suggestion); confuter != nil {
		eff.Confuter = confuter.ID
	}
	return eff, nil
}

// confutation validates a revealed card against the round gamer's latest assumption. Only
// the first gamer after the round gamer holding a match may confute, and must show one of
// the matching cards; when nobody holds one, any other gamer may report that. It writes
// nothing; the effect only travels to the round gamer and the peers in clear.
func confutation(ctx context.Context, m *game.Manager, req Request) (*Effect, error) {
	g, err := m.Load(ctx, req.GameID, game.InStatus(models.StatusStarted), game.HasGamer(req.GamerID))
	if err != nil {
		return nil, err
	}
	if g.IsInRound(req.GamerID) {
		return nil, fmt.Errorf("the round gamer cannot confute: %w", game.ErrForbidden)
	}
	round := g.Gamer(g.RoundGamer)
	if round == nil || len(round.Assumptions) == 0 {
		return nil, fmt.Errorf("no assumption to confute: %w", game.ErrInvalidArgument)
	}
	last := round.Assumptions[len(round.Assumptions)-1].Suggestion
	confuter, _ := game.Confuter(g, g.RoundGamer, last)
	switch {
	case confuter == nil && req.Card != "":
		return nil, fmt.Errorf("nobody holds a card of the assumption: %w", game.ErrInvalidArgument)
	case confuter != nil && confuter.ID != req.GamerID:
		return nil, fmt.Errorf("%s confutes this assumption: %w", confuter.ID, game.ErrForbidden)
	case confuter != nil && req.Card == "":
		return nil, fmt.Errorf("a matching card must be shown: %w", game.ErrInvalidArgument)
	}
	if req.Card != "" {
		if !g.Gamer(req.GamerID).HasCard(req.Card) {
			return nil, fmt.Errorf("%s is not in the confuter's hand: %w", req.Card, game.ErrForbidden)
		}
		if !contains(last.Cards(), req.Card) {
			return nil, fmt.Errorf("%s does not match the assumption: %w", req.Card, game.ErrInvalidArgument)
		}
	}
	eff := effectOf(Confutation, g, req.GamerID)
	// nothing is written, so the event gets an id of its own
	eff.Event = uuid.New()
	if req.Event != uuid.Nil {
		eff.Event = req.Event
	}
	eff.Card = req.Card
	eff.Shown = boolPtr(req.Card != "")
	eff.RoundGamer = g.RoundGamer
	eff.Suggestion = &last
	return eff, nil
}

func makeAccusation(ctx context.Context, m *game.Manager, req Request) (*Effect, error) {
	solution, g, err := m.MakeAccusation(ctx, req.GameID, req.GamerID, req.Suggestion)
	if err != nil {
		return nil, err
	}
	eff := effectOf(MakeAccusation, g, req.GamerID)
	eff.Suggestion = req.Suggestion
	eff.Solution = &solution
	eff.Win = boolPtr(solution == *req.Suggestion)
	return eff, nil
}

func useSecretPassage(ctx context.Context, m *game.Manager, req Request) (*Effect, error) {
	dest, g, err := m.UseSecretPassage(ctx, req.GameID, req.GamerID)
	if err != nil {
		return nil, err
	}
	eff := effectOf(UseSecretPassage, g, req.GamerID)
	eff.Destination = dest
	return eff, nil
}

func stay(ctx context.Context, m *game.Manager, req Request) (*Effect, error) {
	role, g, _, err := m.SilentGamerInRound(ctx, req.GameID, req.GamerID)
	if err != nil {
		return nil, err
	}
	eff := effectOf(Stay, g, req.GamerID)
	eff.Roles = &role
	eff.PreviousRoundGamer = req.GamerID
	eff.RoundGamer = g.RoundGamer
	return eff, nil
}

func leave(ctx context.Context, m *game.Manager, req Request) (*Effect, error) {
	d, err := m.Leave(ctx, req.GameID, req.GamerID)
	if err != nil {
		return nil, err
	}
	return departureEffect(d.Game, d.Gamer, d.PreviousRoundGamer), nil
}

func departureEffect(g *models.Game, gone *models.Gamer, previous uuid.UUID) *Effect {
	eff := effectOf(Leave, g, gone.ID)
	eff.Gamer = gone
	eff.PreviousRoundGamer = previous
	eff.RoundGamer = g.RoundGamer
	if g.Status == models.StatusStarted {
		eff.Hands = game.Hands(g)
	}
	return eff
}

func endRound(ctx context.Context, m *game.Manager, req Request) (*Effect, error) {
	g, _, err := m.PassRoundToNext(ctx, req.GameID, req.GamerID)
	if err != nil {
		return nil, err
	}
	eff := effectOf(EndRound, g, req.GamerID)
	eff.PreviousRoundGamer = req.GamerID
	eff.RoundGamer = g.RoundGamer
	return eff, nil
}

func stopGame(ctx context.Context, m *game.Manager, req Request) (*Effect, error) {
	stopped, g, err := m.StopGame(ctx, req.GameID)
	if err != nil {
		return nil, err
	}
	eff := effectOf(StopGame, g, req.GamerID)
	eff.Stopped = boolPtr(stopped)
	eff.Solution = g.Solution
	return eff, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
