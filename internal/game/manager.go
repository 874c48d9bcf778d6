// internal/game/manager.go
package game

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cluedo/internal/catalog"
	"github.com/jason-s-yu/cluedo/internal/models"
	"github.com/sirupsen/logrus"
)

// ActionLogger receives every committed action, typically to feed the historian queue.
type ActionLogger interface {
	LogAction(ctx context.Context, action models.GameAction)
}

// Manager applies the game rules to records held in a Store. Every mutation is a
// read-modify-write conditioned on the version that was read, so concurrent writers
// on the same game lose with ErrVersionConflict instead of blocking each other.
type Manager struct {
	store   Store
	logger  *logrus.Logger
	history ActionLogger
	rnd     *lockedRand

	// event is the id of a replicated event being applied; uuid.Nil for direct actions,
	// which get a fresh id per write.
	event uuid.UUID
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) with(fn func(r *rand.Rand)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l.r)
}

// Option configures a Manager.
type Option func(*Manager)

// WithRand replaces the time-seeded random source, mostly for tests.
func WithRand(r *rand.Rand) Option {
	return func(m *Manager) { m.rnd = &lockedRand{r: r} }
}

// WithHistory sends committed actions to h.
func WithHistory(h ActionLogger) Option {
	return func(m *Manager) { m.history = h }
}

func NewManager(store Store, logger *logrus.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		logger: logger,
		rnd:    &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Replay returns a view of m that applies the event with the given id, committed on
// another peer. Operations through the view fail with ErrAlreadyApplied when the local
// record already holds that event. Versions stay local: a replayed write is one more
// write on top of whatever this peer has, so concurrent events from different peers
// are both applied instead of mistaken for each other.
func (m *Manager) Replay(event uuid.UUID) *Manager {
	c := *m
	c.event = event
	return &c
}

func (m *Manager) nextEvent() uuid.UUID {
	if m.event != uuid.Nil {
		return m.event
	}
	return uuid.New()
}

// Requirement is a filter predicate checked against a loaded record.
type Requirement func(g *models.Game) error

// InStatus fails with ErrGone unless the game is in one of statuses.
func InStatus(statuses ...models.Status) Requirement {
	return func(g *models.Game) error {
		if !hasStatus(g, statuses) {
			return newError(CodeGone, "game %s is %s", g.ID, g.Status)
		}
		return nil
	}
}

// HasGamer fails with ErrNotFound unless id is a member of the game.
func HasGamer(id uuid.UUID) Requirement {
	return func(g *models.Game) error {
		if g.Gamer(id) == nil {
			return newError(CodeNotFound, "gamer %s in game %s", id, g.ID)
		}
		return nil
	}
}

// InRound fails with ErrNotInRound unless id holds the current round.
func InRound(id uuid.UUID) Requirement {
	return func(g *models.Game) error {
		if !g.IsInRound(id) {
			return newError(CodeNotInRound, "gamer %s is not in round", id)
		}
		return nil
	}
}

func check(g *models.Game, reqs []Requirement) error {
	for _, req := range reqs {
		if err := req(g); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a game and checks reqs against it.
func (m *Manager) Load(ctx context.Context, id uuid.UUID, reqs ...Requirement) (*models.Game, error) {
	g, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := check(g, reqs); err != nil {
		return nil, err
	}
	return g, nil
}

// List returns the games in any of statuses, or all games when none are given.
func (m *Manager) List(ctx context.Context, statuses ...models.Status) ([]*models.Game, error) {
	return m.store.List(ctx, statuses...)
}

// mutate loads a game, checks reqs, applies fn and writes the result conditioned on the
// version that was read.
func (m *Manager) mutate(ctx context.Context, id uuid.UUID, reqs []Requirement, fn func(g *models.Game) error) (*models.Game, error) {
	g, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.event != uuid.Nil && g.Applied(m.event) {
		return nil, newError(CodeAlreadyApplied, "game %s already holds event %s", id, m.event)
	}
	if err := check(g, reqs); err != nil {
		return nil, err
	}
	expected := g.Version
	if err := fn(g); err != nil {
		return nil, err
	}
	g.Version = expected + 1
	g.Record(m.nextEvent())
	if err := m.store.Update(ctx, g, expected); err != nil {
		return nil, err
	}
	return g, nil
}

// CreateGame stores a new waiting game with creator as its first gamer.
func (m *Manager) CreateGame(ctx context.Context, creator *models.Gamer) (*models.Game, error) {
	if creator == nil || !catalog.IsCharacter(creator.CharacterToken) {
		return nil, newError(CodeInvalidArgument, "creator needs a catalog character")
	}
	if creator.ID == uuid.Nil {
		creator.ID = uuid.New()
	}
	creator.Role = models.RoleCreator | models.RoleParticipant
	g := &models.Game{
		ID:        uuid.New(),
		Version:   1,
		Status:    models.StatusWaiting,
		Gamers:    []*models.Gamer{creator},
		CreatedAt: time.Now().UTC(),
	}
	g.Record(m.nextEvent())
	if err := m.store.Create(ctx, g); err != nil {
		return nil, err
	}
	m.logAction(ctx, g, creator.ID, "NEW_GAME", nil)
	return g, nil
}

// Insert stores a game created on another peer.
func (m *Manager) Insert(ctx context.Context, g *models.Game) error {
	err := m.store.Create(ctx, g)
	if errors.Is(err, ErrVersionConflict) {
		return newError(CodeAlreadyApplied, "game %s already known", g.ID)
	}
	return err
}

// Sync upserts a peer's copy of a game when it is newer than the local one and carries
// an event the local copy has not seen.
func (m *Manager) Sync(ctx context.Context, g *models.Game) error {
	cur, err := m.store.Get(ctx, g.ID)
	if errors.Is(err, ErrNotFound) {
		return m.Insert(ctx, g)
	}
	if err != nil {
		return err
	}
	if cur.Version >= g.Version || (g.LastEvent() != uuid.Nil && cur.Applied(g.LastEvent())) {
		return newError(CodeAlreadyApplied, "game %s local version %d >= %d", g.ID, cur.Version, g.Version)
	}
	err = m.store.Update(ctx, g, cur.Version)
	if errors.Is(err, ErrVersionConflict) {
		return newError(CodeAlreadyApplied, "game %s changed during sync", g.ID)
	}
	return err
}

// AddGamer joins gamer to a waiting game.
func (m *Manager) AddGamer(ctx context.Context, id uuid.UUID, gamer *models.Gamer) (*models.Game, error) {
	if gamer == nil || !catalog.IsCharacter(gamer.CharacterToken) {
		return nil, newError(CodeInvalidArgument, "gamer needs a catalog character")
	}
	if gamer.ID == uuid.Nil {
		gamer.ID = uuid.New()
	}
	g, err := m.mutate(ctx, id, []Requirement{InStatus(models.StatusWaiting)}, func(g *models.Game) error {
		if g.GamerByCharacter(gamer.CharacterToken) != nil {
			return newError(CodeCharacterTaken, "%s is taken", gamer.CharacterToken)
		}
		if len(g.Gamers) >= catalog.MaxGamers {
			return newError(CodeWrongGamerCount, "game %s is full", g.ID)
		}
		gamer.Role = models.RoleParticipant
		if len(g.Gamers) == 0 {
			gamer.Role |= models.RoleCreator
		}
		g.Gamers = append(g.Gamers, gamer)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logAction(ctx, g, gamer.ID, "NEW_GAMER", map[string]interface{}{"character": gamer.CharacterToken})
	return g, nil
}

// RemoveGamer deletes a gamer from a game that has not started yet and returns them.
func (m *Manager) RemoveGamer(ctx context.Context, id, gamerID uuid.UUID) (*models.Gamer, *models.Game, error) {
	var gone *models.Gamer
	g, err := m.mutate(ctx, id, []Requirement{InStatus(models.StatusWaiting), HasGamer(gamerID)}, func(g *models.Game) error {
		var err error
		gone, err = leaveGamer(g, gamerID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	m.logAction(ctx, g, gamerID, "REMOVE_GAMER", nil)
	return gone, g, nil
}

// StartGame deals the cards and hands the first round to the first participant.
func (m *Manager) StartGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	g, err := m.mutate(ctx, id, []Requirement{InStatus(models.StatusWaiting)}, func(g *models.Game) error {
		if n := len(g.Gamers); n < catalog.MinGamers || n > catalog.MaxGamers {
			return newError(CodeWrongGamerCount, "%d gamers, need %d to %d", n, catalog.MinGamers, catalog.MaxGamers)
		}
		m.rnd.with(func(r *rand.Rand) { deal(g, r) })
		setBoard(g)
		g.Status = models.StatusStarted
		g.RoundGamer = firstParticipant(g).ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.WithFields(logrus.Fields{"game": id, "gamers": len(g.Gamers)}).Info("game started")
	m.logAction(ctx, g, uuid.Nil, "START", nil)
	return g, nil
}

// ApplyStart adopts the dealt record of a game started on another peer.
func (m *Manager) ApplyStart(ctx context.Context, started *models.Game) (*models.Game, error) {
	if started == nil || started.Status != models.StatusStarted || started.Solution == nil {
		return nil, newError(CodeInvalidArgument, "not a started record")
	}
	return m.mutate(ctx, started.ID, []Requirement{InStatus(models.StatusWaiting)}, func(g *models.Game) error {
		g.Status = started.Status
		g.Gamers = started.Clone().Gamers
		g.RoundGamer = started.RoundGamer
		g.Solution = started.Solution
		g.Characters = started.Characters
		g.Weapons = started.Weapons
		g.Rooms = started.Rooms
		return nil
	})
}

func inRound(gamerID uuid.UUID) []Requirement {
	return []Requirement{InStatus(models.StatusStarted), HasGamer(gamerID), InRound(gamerID)}
}

// RollDie moves the round gamer's character to a random room or lobby.
func (m *Manager) RollDie(ctx context.Context, id, gamerID uuid.UUID) (string, *models.Game, error) {
	parts := catalog.HouseParts()
	var dest string
	m.rnd.with(func(r *rand.Rand) { dest = parts[r.Intn(len(parts))] })
	g, err := m.MoveCharacter(ctx, id, gamerID, dest)
	if err != nil {
		return "", nil, err
	}
	return dest, g, nil
}

// MoveCharacter moves the round gamer's character to dest. Replicated die rolls use it
// to land where the origin peer's roll landed.
func (m *Manager) MoveCharacter(ctx context.Context, id, gamerID uuid.UUID, dest string) (*models.Game, error) {
	if !catalog.IsHousePart(dest) {
		return nil, newError(CodeInvalidArgument, "unknown house part %q", dest)
	}
	g, err := m.mutate(ctx, id, inRound(gamerID), func(g *models.Game) error {
		g.Move(g.Gamer(gamerID).CharacterToken, dest)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logAction(ctx, g, gamerID, "ROLL_DIE", map[string]interface{}{"housePart": dest})
	return g, nil
}

// UseSecretPassage moves the round gamer's character through the passage of its room.
func (m *Manager) UseSecretPassage(ctx context.Context, id, gamerID uuid.UUID) (string, *models.Game, error) {
	var dest string
	g, err := m.mutate(ctx, id, inRound(gamerID), func(g *models.Game) error {
		token := g.Gamer(gamerID).CharacterToken
		from := g.Place(token)
		to, ok := g.Passage(from)
		if !ok {
			return newError(CodeNotInRoomWithPassage, "%s has no secret passage", from)
		}
		g.Move(token, to)
		dest = to
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	m.logAction(ctx, g, gamerID, "USE_SECRET_PASSAGE", map[string]interface{}{"room": dest})
	return dest, g, nil
}

// MakeAssumption records a suggestion of the round gamer and moves the named character
// and weapon into the named room.
func (m *Manager) MakeAssumption(ctx context.Context, id, gamerID uuid.UUID, s *models.Suggestion) (*models.Game, error) {
	if err := validSuggestion(s); err != nil {
		return nil, err
	}
	g, err := m.mutate(ctx, id, inRound(gamerID), func(g *models.Game) error {
		gm := g.Gamer(gamerID)
		gm.Assumptions = append(gm.Assumptions, models.Assumption{Suggestion: *s, Confutations: []models.Confutation{}})
		g.Move(s.Character, s.Room)
		g.Move(s.Weapon, s.Room)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logAction(ctx, g, gamerID, "MAKE_ASSUMPTION", map[string]interface{}{"suggestion": s})
	return g, nil
}

// MakeAccusation records the round gamer's accusation and returns the true solution.
// Callers decide the outcome by comparing it with s.
func (m *Manager) MakeAccusation(ctx context.Context, id, gamerID uuid.UUID, s *models.Suggestion) (models.Suggestion, *models.Game, error) {
	if err := validSuggestion(s); err != nil {
		return models.Suggestion{}, nil, err
	}
	g, err := m.mutate(ctx, id, inRound(gamerID), func(g *models.Game) error {
		acc := *s
		g.Gamer(gamerID).Accusation = &acc
		return nil
	})
	if err != nil {
		return models.Suggestion{}, nil, err
	}
	m.logAction(ctx, g, gamerID, "MAKE_ACCUSATION", map[string]interface{}{"suggestion": s, "win": *s == *g.Solution})
	return *g.Solution, g, nil
}

// TakeNote replaces the free text or upserts one structured note of a gamer.
func (m *Manager) TakeNote(ctx context.Context, id, gamerID uuid.UUID, note *models.Note) (*models.Game, error) {
	if note == nil || (note.Text == nil && note.Structured == nil) {
		return nil, newError(CodeInvalidArgument, "empty note")
	}
	reqs := []Requirement{InStatus(models.StatusWaiting, models.StatusStarted), HasGamer(gamerID)}
	g, err := m.mutate(ctx, id, reqs, func(g *models.Game) error {
		gm := g.Gamer(gamerID)
		if gm.Notes == nil {
			gm.Notes = &models.Notes{}
		}
		if note.Text != nil {
			gm.Notes.Text = *note.Text
		}
		if sn := note.Structured; sn != nil {
			for i := range gm.Notes.StructuredNotes {
				if gm.Notes.StructuredNotes[i].Name == sn.Name {
					gm.Notes.StructuredNotes[i] = *sn
					return nil
				}
			}
			gm.Notes.StructuredNotes = append(gm.Notes.StructuredNotes, *sn)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logAction(ctx, g, gamerID, "TAKE_NOTES", nil)
	return g, nil
}

// SilentGamerInRound turns the round gamer into a silent spectator and passes the round on.
// concluded is true when at most one participant is left.
func (m *Manager) SilentGamerInRound(ctx context.Context, id, gamerID uuid.UUID) (role models.Role, g *models.Game, isConcluded bool, err error) {
	g, err = m.mutate(ctx, id, inRound(gamerID), func(g *models.Game) error {
		g.Gamer(gamerID).Role = models.RoleSilent
		if next := nextParticipant(g, g.GamerIndex(gamerID)+1); next != nil {
			g.RoundGamer = next.ID
		} else {
			g.RoundGamer = uuid.Nil
		}
		return nil
	})
	if err != nil {
		return 0, nil, false, err
	}
	m.logAction(ctx, g, gamerID, "STAY", nil)
	return models.RoleSilent, g, concluded(g), nil
}

// Departure is the outcome of a leave.
type Departure struct {
	Game               *models.Game
	Gamer              *models.Gamer
	PreviousRoundGamer uuid.UUID
	Concluded          bool
}

// Hands returns the card disposition of every remaining gamer.
func (d *Departure) Hands() map[uuid.UUID][]string {
	return Hands(d.Game)
}

// Hands maps every gamer of g to their current cards.
func Hands(g *models.Game) map[uuid.UUID][]string {
	out := make(map[uuid.UUID][]string, len(g.Gamers))
	for _, gm := range g.Gamers {
		out[gm.ID] = gm.Cards
	}
	return out
}

// Leave removes a gamer. A waiting game just drops them; a started game hands their
// cards round-robin to the others and moves the round on when they held it.
func (m *Manager) Leave(ctx context.Context, id, gamerID uuid.UUID) (*Departure, error) {
	d, err := m.depart(ctx, id, gamerID)
	if err != nil {
		return nil, err
	}
	m.logAction(ctx, d.Game, gamerID, "LEAVE", nil)
	return d, nil
}

func (m *Manager) depart(ctx context.Context, id, gamerID uuid.UUID) (*Departure, error) {
	d := &Departure{}
	reqs := []Requirement{InStatus(models.StatusWaiting, models.StatusStarted), HasGamer(gamerID)}
	g, err := m.mutate(ctx, id, reqs, func(g *models.Game) error {
		d.PreviousRoundGamer = g.RoundGamer
		gone, err := leaveGamer(g, gamerID)
		d.Gamer = gone
		return err
	})
	if err != nil {
		return nil, err
	}
	d.Game = g
	d.Concluded = concluded(g)
	return d, nil
}

// PassRoundToNext hands the round to the next participant after currentGamerID.
// concluded is true when at most one participant is left.
func (m *Manager) PassRoundToNext(ctx context.Context, id, currentGamerID uuid.UUID) (*models.Game, bool, error) {
	g, err := m.mutate(ctx, id, inRound(currentGamerID), func(g *models.Game) error {
		if next := nextParticipant(g, g.GamerIndex(currentGamerID)+1); next != nil {
			g.RoundGamer = next.ID
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	m.logAction(ctx, g, currentGamerID, "END_ROUND", map[string]interface{}{"roundGamer": g.RoundGamer})
	return g, concluded(g), nil
}

// StopGame finishes a game. It reports false when the game was already finished.
func (m *Manager) StopGame(ctx context.Context, id uuid.UUID) (bool, *models.Game, error) {
	g, err := m.mutate(ctx, id, nil, func(g *models.Game) error {
		if g.Status == models.StatusFinished {
			return errFinished
		}
		g.Status = models.StatusFinished
		return nil
	})
	if errors.Is(err, errFinished) {
		g, err = m.store.Get(ctx, id)
		return false, g, err
	}
	if err != nil {
		return false, nil, err
	}
	m.logger.WithField("game", id).Info("game stopped")
	m.logAction(ctx, g, uuid.Nil, "STOP_GAME", nil)
	return true, g, nil
}

var errFinished = errors.New("game already finished")

// IsInRound reports whether gamerID holds the current round.
func (m *Manager) IsInRound(ctx context.Context, id, gamerID uuid.UUID) (bool, error) {
	g, err := m.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return g.IsInRound(gamerID), nil
}

// FindGamer looks up one gamer of a game.
func (m *Manager) FindGamer(ctx context.Context, id, gamerID uuid.UUID) (*models.Gamer, error) {
	g, err := m.Load(ctx, id, HasGamer(gamerID))
	if err != nil {
		return nil, err
	}
	return g.Gamer(gamerID), nil
}

// RemovedFunc is invoked once per game touched by RemoveGamersOf, with the game after the
// last departure and every departure in the order it was written.
type RemovedFunc func(g *models.Game, departures []*Departure)

// RemoveGamersOf makes every gamer hosted by peer leave their waiting or started games,
// using the same rules as Leave. Each departure is its own write, so peers replaying the
// resulting events see one event per gamer. Conflicting writes are retried against the
// fresh record.
func (m *Manager) RemoveGamersOf(ctx context.Context, peer string, onRemoved RemovedFunc) error {
	games, err := m.store.List(ctx, models.StatusWaiting, models.StatusStarted)
	if err != nil {
		return err
	}
	var errs []error
	for _, listed := range games {
		var departures []*Departure
		for _, hosted := range listed.Gamers {
			if !hosted.HostedBy(peer) {
				continue
			}
			d, err := m.departOffline(ctx, listed.ID, hosted.ID)
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrGone) {
				continue
			}
			if err != nil {
				errs = append(errs, err)
				continue
			}
			m.logAction(ctx, d.Game, d.Gamer.ID, "LEAVE", map[string]interface{}{"peer": peer})
			departures = append(departures, d)
		}
		if len(departures) == 0 {
			continue
		}
		last := departures[len(departures)-1].Game
		m.logger.WithFields(logrus.Fields{"game": last.ID, "peer": peer, "removed": len(departures)}).Info("removed gamers of offline peer")
		if onRemoved != nil {
			onRemoved(last, departures)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) departOffline(ctx context.Context, id, gamerID uuid.UUID) (*Departure, error) {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		var d *Departure
		d, err = m.depart(ctx, id, gamerID)
		if !errors.Is(err, ErrVersionConflict) {
			return d, err
		}
	}
	return nil, err
}

// logAction forwards a committed action to the history sink without blocking the caller.
func (m *Manager) logAction(ctx context.Context, g *models.Game, actor uuid.UUID, action string, payload map[string]interface{}) {
	if m.history == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}
	m.history.LogAction(context.WithoutCancel(ctx), models.GameAction{
		GameID:     g.ID,
		Version:    g.Version,
		ActorID:    actor,
		ActionType: action,
		Payload:    payload,
		Timestamp:  time.Now().UnixMilli(),
	})
}
