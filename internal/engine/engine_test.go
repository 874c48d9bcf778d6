// internal/engine/engine_test.go
package engine

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cluedo/internal/auth"
	"github.com/jason-s-yu/cluedo/internal/catalog"
	"github.com/jason-s-yu/cluedo/internal/game"
	"github.com/jason-s-yu/cluedo/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, seed int64) (*Engine, *auth.Service) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	tokens, err := auth.NewService(0)
	require.NoError(t, err)
	m := game.NewManager(game.NewMemoryStore(), logger, game.WithRand(rand.New(rand.NewSource(seed))))
	return New(m, tokens, logger, 3), tokens
}

// startedGame creates a game with n gamers and starts it, returning the START effect.
func startedGame(t *testing.T, e *Engine, n int) *Effect {
	t.Helper()
	ctx := context.Background()
	created, err := e.Do(ctx, Request{Action: NewGame, Gamer: &models.Gamer{Username: "g0", CharacterToken: catalog.Characters[0]}})
	require.NoError(t, err)
	for i := 1; i < n; i++ {
		_, err := e.Do(ctx, Request{
			Action: NewGamer,
			GameID: created.GameID,
			Gamer:  &models.Gamer{Username: "g", CharacterToken: catalog.Characters[i]},
		})
		require.NoError(t, err)
	}
	started, err := e.Do(ctx, Request{Action: Start, GameID: created.GameID, GamerID: created.GamerID})
	require.NoError(t, err)
	return started
}

func TestNewGameIssuesToken(t *testing.T) {
	e, tokens := newTestEngine(t, 1)
	eff, err := e.Do(context.Background(), Request{Action: NewGame, Gamer: &models.Gamer{Username: "a", CharacterToken: "MRS_WHITE"}})
	require.NoError(t, err)

	assert.Equal(t, NewGame, eff.Action)
	require.NotNil(t, eff.Gamer)
	assert.True(t, eff.Gamer.Role.Has(models.RoleCreator))
	require.NotEmpty(t, eff.Token)
	p, ok := tokens.Decode(eff.Gamer.ID, eff.Token)
	require.True(t, ok)
	assert.Equal(t, eff.GameID, p.GameID)
}

func TestStartNeedsCreator(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	ctx := context.Background()
	created, err := e.Do(ctx, Request{Action: NewGame, Gamer: &models.Gamer{CharacterToken: catalog.Characters[0]}})
	require.NoError(t, err)
	var joined *Effect
	for i := 1; i < 3; i++ {
		joined, err = e.Do(ctx, Request{Action: NewGamer, GameID: created.GameID, Gamer: &models.Gamer{CharacterToken: catalog.Characters[i]}})
		require.NoError(t, err)
	}

	_, err = e.Do(ctx, Request{Action: Start, GameID: created.GameID, GamerID: joined.GamerID})
	assert.True(t, errors.Is(err, game.ErrForbidden))

	_, err = e.Do(ctx, Request{Action: Start, GameID: created.GameID, GamerID: uuid.New()})
	assert.True(t, errors.Is(err, game.ErrNotFound))

	_, err = e.Do(ctx, Request{Action: Start, GameID: created.GameID, GamerID: created.GamerID})
	assert.NoError(t, err)
}

func TestUnknownAction(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	_, err := e.Do(context.Background(), Request{Action: "DANCE"})
	assert.Equal(t, game.CodeInvalidArgument, game.CodeOf(err))
	assert.False(t, Action("DANCE").Known())
	assert.True(t, RollDie.Known())
}

func TestAssumptionAndConfutation(t *testing.T) {
	e, _ := newTestEngine(t, 3)
	ctx := context.Background()
	started := startedGame(t, e, 3)
	g := started.Game
	round := g.Gamer(g.RoundGamer)

	// suggest a card the next gamer holds so the confuter is known
	next := g.Gamers[1]
	s := models.Suggestion{Character: catalog.Characters[5], Weapon: catalog.Weapons[0], Room: catalog.Rooms[0]}
	for _, c := range next.Cards {
		switch catalog.KindOf(c) {
		case catalog.KindCharacter:
			s.Character = c
		case catalog.KindWeapon:
			s.Weapon = c
		case catalog.KindRoom:
			s.Room = c
		}
	}
	eff, err := e.Do(ctx, Request{Action: MakeAssumption, GameID: g.ID, GamerID: round.ID, Suggestion: &s})
	require.NoError(t, err)
	assert.Equal(t, next.ID, eff.Confuter)
	assert.Equal(t, s.Room, eff.Game.Place(s.Character))

	var card string
	for _, c := range s.Cards() {
		if next.HasCard(c) {
			card = c
		}
	}
	require.NotEmpty(t, card)
	conf, err := e.Do(ctx, Request{Action: Confutation, GameID: g.ID, GamerID: next.ID, Card: card})
	require.NoError(t, err)
	assert.Equal(t, card, conf.Card)
	assert.True(t, *conf.Shown)
	assert.Equal(t, round.ID, conf.RoundGamer)

	var notHeld string
	for _, c := range s.Cards() {
		if !next.HasCard(c) {
			notHeld = c
		}
	}
	if notHeld != "" {
		_, err = e.Do(ctx, Request{Action: Confutation, GameID: g.ID, GamerID: next.ID, Card: notHeld})
		assert.True(t, errors.Is(err, game.ErrForbidden))
	}

	_, err = e.Do(ctx, Request{Action: Confutation, GameID: g.ID, GamerID: round.ID})
	assert.True(t, errors.Is(err, game.ErrForbidden), "the round gamer does not confute")

	_, err = e.Do(ctx, Request{Action: Confutation, GameID: g.ID, GamerID: g.Gamers[2].ID})
	assert.True(t, errors.Is(err, game.ErrForbidden), "only the first gamer holding a match confutes")
	_, err = e.Do(ctx, Request{Action: Confutation, GameID: g.ID, GamerID: next.ID})
	assert.True(t, errors.Is(err, game.ErrInvalidArgument), "a gamer holding a match must show it")

	// nobody but the envelope holds the solution cards
	_, err = e.Do(ctx, Request{Action: MakeAssumption, GameID: g.ID, GamerID: round.ID, Suggestion: g.Solution})
	require.NoError(t, err)
	empty, err := e.Do(ctx, Request{Action: Confutation, GameID: g.ID, GamerID: g.Gamers[2].ID})
	require.NoError(t, err)
	assert.False(t, *empty.Shown)
	_, err = e.Do(ctx, Request{Action: Confutation, GameID: g.ID, GamerID: next.ID, Card: card})
	assert.True(t, errors.Is(err, game.ErrInvalidArgument))
}

func TestAccusationReportsWin(t *testing.T) {
	e, _ := newTestEngine(t, 5)
	ctx := context.Background()
	g := startedGame(t, e, 3).Game

	eff, err := e.Do(ctx, Request{Action: MakeAccusation, GameID: g.ID, GamerID: g.RoundGamer, Suggestion: g.Solution})
	require.NoError(t, err)
	assert.True(t, *eff.Win)
	assert.Equal(t, *g.Solution, *eff.Solution)
}

func TestStayRotatesTokenAndConcludes(t *testing.T) {
	e, tokens := newTestEngine(t, 2)
	ctx := context.Background()
	g := startedGame(t, e, 3).Game

	first, err := e.Do(ctx, Request{Action: Stay, GameID: g.ID, GamerID: g.Gamers[0].ID})
	require.NoError(t, err)
	assert.Equal(t, models.RoleSilent, *first.Roles)
	assert.Equal(t, g.Gamers[1].ID, first.RoundGamer)
	assert.Nil(t, first.Then)
	p, ok := tokens.Decode(g.Gamers[0].ID, first.Token)
	require.True(t, ok)
	assert.Equal(t, models.RoleSilent, p.Roles)

	second, err := e.Do(ctx, Request{Action: Stay, GameID: g.ID, GamerID: g.Gamers[1].ID})
	require.NoError(t, err)
	require.NotNil(t, second.Then, "a single participant left concludes the game")
	assert.Equal(t, StopGame, second.Then.Action)
	assert.True(t, *second.Then.Stopped)
	assert.Equal(t, g.Solution, second.Then.Solution)

	again, err := e.Do(ctx, Request{Action: StopGame, GameID: g.ID, GamerID: g.Gamers[2].ID})
	require.NoError(t, err)
	assert.False(t, *again.Stopped)
	assert.False(t, again.Broadcast())
}

func TestLeaveRemovesToken(t *testing.T) {
	e, tokens := newTestEngine(t, 2)
	ctx := context.Background()
	created, err := e.Do(ctx, Request{Action: NewGame, Gamer: &models.Gamer{CharacterToken: catalog.Characters[0]}})
	require.NoError(t, err)
	joined, err := e.Do(ctx, Request{Action: NewGamer, GameID: created.GameID, Gamer: &models.Gamer{CharacterToken: catalog.Characters[1]}})
	require.NoError(t, err)

	eff, err := e.Do(ctx, Request{Action: Leave, GameID: created.GameID, GamerID: joined.GamerID})
	require.NoError(t, err)
	assert.Equal(t, joined.GamerID, eff.Gamer.ID)
	assert.Nil(t, eff.Hands, "no hands before the deal")
	assert.False(t, tokens.Validity(joined.GamerID, joined.Token))
	assert.True(t, tokens.Validity(created.GamerID, created.Token))
}

func TestRemoveGamerByCreatorOnly(t *testing.T) {
	e, _ := newTestEngine(t, 2)
	ctx := context.Background()
	created, err := e.Do(ctx, Request{Action: NewGame, Gamer: &models.Gamer{CharacterToken: catalog.Characters[0]}})
	require.NoError(t, err)
	a, err := e.Do(ctx, Request{Action: NewGamer, GameID: created.GameID, Gamer: &models.Gamer{CharacterToken: catalog.Characters[1]}})
	require.NoError(t, err)
	b, err := e.Do(ctx, Request{Action: NewGamer, GameID: created.GameID, Gamer: &models.Gamer{CharacterToken: catalog.Characters[2]}})
	require.NoError(t, err)

	_, err = e.Do(ctx, Request{Action: RemoveGamer, GameID: created.GameID, GamerID: a.GamerID, Gamer: &models.Gamer{ID: b.GamerID}})
	assert.True(t, errors.Is(err, game.ErrForbidden))

	eff, err := e.Do(ctx, Request{Action: RemoveGamer, GameID: created.GameID, GamerID: created.GamerID, Gamer: &models.Gamer{ID: b.GamerID}})
	require.NoError(t, err)
	assert.Equal(t, b.GamerID, eff.Gamer.ID)
	assert.Len(t, eff.Game.Gamers, 2)
}

// TestReplayConverges applies every effect of an origin engine to a replica through
// the replay path and checks both copies end identical, and that a second delivery
// is reported as already applied.
func TestReplayConverges(t *testing.T) {
	origin, _ := newTestEngine(t, 11)
	replica, _ := newTestEngine(t, 99)
	ctx := context.Background()

	var effects []*Effect
	do := func(req Request) *Effect {
		eff, err := origin.Do(ctx, req)
		require.NoError(t, err)
		effects = append(effects, eff)
		return eff
	}

	created := do(Request{Action: NewGame, Gamer: &models.Gamer{CharacterToken: catalog.Characters[0]}})
	for i := 1; i < 3; i++ {
		do(Request{Action: NewGamer, GameID: created.GameID, Gamer: &models.Gamer{CharacterToken: catalog.Characters[i]}})
	}
	started := do(Request{Action: Start, GameID: created.GameID, GamerID: created.GamerID})
	round := started.RoundGamer
	do(Request{Action: RollDie, GameID: created.GameID, GamerID: round})
	text := "hmm"
	do(Request{Action: TakeNotes, GameID: created.GameID, GamerID: round, Note: &models.Note{Text: &text}})
	do(Request{Action: EndRound, GameID: created.GameID, GamerID: round})

	for _, eff := range effects {
		_, err := replica.Replay(ctx, eff.Request())
		require.NoError(t, err, "replaying %s", eff.Action)
	}
	for _, eff := range effects {
		_, err := replica.Replay(ctx, eff.Request())
		assert.True(t, errors.Is(err, game.ErrAlreadyApplied), "second delivery of %s", eff.Action)
	}

	want, err := origin.Manager().Load(ctx, created.GameID)
	require.NoError(t, err)
	got, err := replica.Manager().Load(ctx, created.GameID)
	require.NoError(t, err)
	assert.Equal(t, want.Version, got.Version)
	assert.Equal(t, want.Solution, got.Solution)
	assert.Equal(t, want.RoundGamer, got.RoundGamer)
	assert.Equal(t, want.Characters, got.Characters)
	for i := range want.Gamers {
		assert.Equal(t, want.Gamers[i].Cards, got.Gamers[i].Cards)
		assert.Equal(t, want.Gamers[i].Notes, got.Gamers[i].Notes)
	}
}

func TestReplayNeedsEvent(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	_, err := e.Replay(context.Background(), Request{Action: EndRound, GameID: uuid.New()})
	assert.True(t, errors.Is(err, game.ErrInvalidArgument))
}

func TestRemoveGamersOfProducesLeaveEffects(t *testing.T) {
	e, _ := newTestEngine(t, 4)
	ctx := context.Background()
	created, err := e.Do(ctx, Request{Action: NewGame, Gamer: &models.Gamer{
		CharacterToken: catalog.Characters[0],
		Device:         &models.Device{Peer: "ws://gone:1"},
	}})
	require.NoError(t, err)
	for i := 1; i < 3; i++ {
		_, err := e.Do(ctx, Request{Action: NewGamer, GameID: created.GameID, Gamer: &models.Gamer{
			CharacterToken: catalog.Characters[i],
			Device:         &models.Device{Peer: "ws://here:1"},
		}})
		require.NoError(t, err)
	}
	started, err := e.Do(ctx, Request{Action: Start, GameID: created.GameID, GamerID: created.GamerID})
	require.NoError(t, err)

	effects, err := e.RemoveGamersOf(ctx, "ws://gone:1")
	require.NoError(t, err)
	require.Len(t, effects, 1)
	eff := effects[0]
	assert.Equal(t, Leave, eff.Action)
	assert.Equal(t, created.GamerID, eff.Gamer.ID)
	assert.Equal(t, started.RoundGamer, eff.PreviousRoundGamer)
	assert.Len(t, eff.Hands, 2)
	total := 0
	for _, h := range eff.Hands {
		total += len(h)
	}
	assert.Equal(t, 18, total)
	assert.Nil(t, eff.Then)
}

// mirror replays every effect of the chain on replica.
func mirror(t *testing.T, replica *Engine, effects ...*Effect) {
	t.Helper()
	for _, eff := range effects {
		for ; eff != nil; eff = eff.Then {
			_, err := replica.Replay(context.Background(), eff.Request())
			require.NoError(t, err, "replaying %s", eff.Action)
		}
	}
}

func TestReplayedDeparturesOfLostPeer(t *testing.T) {
	origin, _ := newTestEngine(t, 8)
	replica, _ := newTestEngine(t, 80)
	ctx := context.Background()

	created, err := origin.Do(ctx, Request{Action: NewGame, Gamer: &models.Gamer{
		CharacterToken: catalog.Characters[0],
		Device:         &models.Device{Peer: "ws://here:1"},
	}})
	require.NoError(t, err)
	mirror(t, replica, created)
	for i := 1; i < 4; i++ {
		joined, err := origin.Do(ctx, Request{Action: NewGamer, GameID: created.GameID, Gamer: &models.Gamer{
			CharacterToken: catalog.Characters[i],
			Device:         &models.Device{Peer: "ws://gone:1"},
		}})
		require.NoError(t, err)
		mirror(t, replica, joined)
	}
	started, err := origin.Do(ctx, Request{Action: Start, GameID: created.GameID, GamerID: created.GamerID})
	require.NoError(t, err)
	mirror(t, replica, started)

	effects, err := origin.RemoveGamersOf(ctx, "ws://gone:1")
	require.NoError(t, err)
	require.Len(t, effects, 3, "one LEAVE per hosted gamer")
	versions := map[int]bool{}
	for _, eff := range effects {
		assert.Equal(t, Leave, eff.Action)
		assert.False(t, versions[eff.Version], "each departure is its own write")
		versions[eff.Version] = true
	}
	require.NotNil(t, effects[2].Then, "the last opponent left, so the game stops")
	mirror(t, replica, effects...)

	want, err := origin.Manager().Load(ctx, created.GameID)
	require.NoError(t, err)
	got, err := replica.Manager().Load(ctx, created.GameID)
	require.NoError(t, err)
	assert.Len(t, got.Gamers, 1)
	assert.Equal(t, models.StatusFinished, got.Status)
	assert.Equal(t, want.Version, got.Version)
	assert.Equal(t, want.Gamers[0].Cards, got.Gamers[0].Cards)
	assert.Len(t, got.Gamers[0].Cards, 18)
}

func TestConcurrentActionsOnTwoPeersConverge(t *testing.T) {
	a, _ := newTestEngine(t, 21)
	b, _ := newTestEngine(t, 22)
	ctx := context.Background()

	var setup []*Effect
	created, err := a.Do(ctx, Request{Action: NewGame, Gamer: &models.Gamer{CharacterToken: catalog.Characters[0]}})
	require.NoError(t, err)
	setup = append(setup, created)
	for i := 1; i < 3; i++ {
		joined, err := a.Do(ctx, Request{Action: NewGamer, GameID: created.GameID, Gamer: &models.Gamer{CharacterToken: catalog.Characters[i]}})
		require.NoError(t, err)
		setup = append(setup, joined)
	}
	started, err := a.Do(ctx, Request{Action: Start, GameID: created.GameID, GamerID: created.GamerID})
	require.NoError(t, err)
	setup = append(setup, started)
	mirror(t, b, setup...)

	round := started.RoundGamer
	other := started.Game.Gamers[1].ID
	require.NotEqual(t, round, other)

	rolled, err := a.Do(ctx, Request{Action: RollDie, GameID: created.GameID, GamerID: round})
	require.NoError(t, err)
	text := "plum lies"
	noted, err := b.Do(ctx, Request{Action: TakeNotes, GameID: created.GameID, GamerID: other, Note: &models.Note{Text: &text}})
	require.NoError(t, err)
	require.Equal(t, rolled.Version, noted.Version)

	mirror(t, a, noted)
	mirror(t, b, rolled)

	onA, err := a.Manager().Load(ctx, created.GameID)
	require.NoError(t, err)
	onB, err := b.Manager().Load(ctx, created.GameID)
	require.NoError(t, err)
	assert.Equal(t, onA.Version, onB.Version)
	assert.Equal(t, onA.Characters, onB.Characters)
	assert.Equal(t, rolled.Destination, onB.Place(started.Game.Gamer(round).CharacterToken))
	assert.Equal(t, text, onA.Gamer(other).Notes.Text)

	_, err = a.Replay(ctx, noted.Request())
	assert.True(t, errors.Is(err, game.ErrAlreadyApplied))
}
