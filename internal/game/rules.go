// internal/game/rules.go
package game

import (
	"math/rand"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cluedo/internal/catalog"
	"github.com/jason-s-yu/cluedo/internal/models"
)

// nextParticipant returns the first participant at or after index start in rotation order.
func nextParticipant(g *models.Game, start int) *models.Gamer {
	n := len(g.Gamers)
	for i := 0; i < n; i++ {
		gm := g.Gamers[((start+i)%n+n)%n]
		if gm.IsParticipant() {
			return gm
		}
	}
	return nil
}

// firstParticipant returns the first participant in list order.
func firstParticipant(g *models.Game) *models.Gamer {
	return nextParticipant(g, 0)
}

// concluded reports whether a started game has at most one participant left.
func concluded(g *models.Game) bool {
	return g.Status == models.StatusStarted && g.Participants() <= 1
}

// deal draws the solution and deals the remaining cards round-robin over every gamer.
func deal(g *models.Game, r *rand.Rand) {
	characters, weapons, rooms := catalog.Deck()
	pick := func(list []string) (string, []string) {
		i := r.Intn(len(list))
		card := list[i]
		return card, append(list[:i:i], list[i+1:]...)
	}

	var s models.Suggestion
	s.Character, characters = pick(characters)
	s.Weapon, weapons = pick(weapons)
	s.Room, rooms = pick(rooms)
	g.Solution = &s

	deck := make([]string, 0, len(characters)+len(weapons)+len(rooms))
	deck = append(deck, characters...)
	deck = append(deck, weapons...)
	deck = append(deck, rooms...)
	r.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })

	for _, gm := range g.Gamers {
		gm.Cards = []string{}
	}
	for i, card := range deck {
		gm := g.Gamers[i%len(g.Gamers)]
		gm.Cards = append(gm.Cards, card)
	}
}

// setBoard puts every token on the start lobby and lays out the rooms.
func setBoard(g *models.Game) {
	g.Characters = make([]models.Placement, 0, len(catalog.Characters))
	for _, c := range catalog.Characters {
		g.Characters = append(g.Characters, models.Placement{Name: c, Place: catalog.StartLobby})
	}
	g.Weapons = make([]models.Placement, 0, len(catalog.Weapons))
	for _, w := range catalog.Weapons {
		g.Weapons = append(g.Weapons, models.Placement{Name: w, Place: catalog.StartLobby})
	}
	g.Rooms = make([]models.Room, 0, len(catalog.Rooms))
	for _, room := range catalog.Rooms {
		to, _ := catalog.PassageFrom(room)
		g.Rooms = append(g.Rooms, models.Room{Name: room, SecretPassage: to})
	}
}

// leaveGamer removes a gamer from g. While started, the hand goes round-robin to the
// remaining gamers starting from the next in rotation, and the round moves on if needed.
func leaveGamer(g *models.Game, id uuid.UUID) (*models.Gamer, error) {
	idx := g.GamerIndex(id)
	if idx < 0 {
		return nil, newError(CodeNotFound, "gamer %s", id)
	}
	gone := g.Gamers[idx]
	g.Gamers = append(g.Gamers[:idx:idx], g.Gamers[idx+1:]...)

	if len(g.Gamers) == 0 {
		g.Status = models.StatusFinished
		g.RoundGamer = uuid.Nil
		return gone, nil
	}
	if g.Status != models.StatusStarted {
		return gone, nil
	}

	n := len(g.Gamers)
	for i, card := range gone.Cards {
		heir := g.Gamers[(idx+i)%n]
		heir.Cards = append(heir.Cards, card)
	}
	if g.RoundGamer == id {
		if next := nextParticipant(g, idx); next != nil {
			g.RoundGamer = next.ID
		} else {
			g.RoundGamer = uuid.Nil
		}
	}
	return gone, nil
}

// Confuter finds the first gamer after the round gamer, in rotation order, holding a card
// of the suggestion, and the matching cards in that gamer's hand.
func Confuter(g *models.Game, roundGamer uuid.UUID, s models.Suggestion) (*models.Gamer, []string) {
	idx := g.GamerIndex(roundGamer)
	if idx < 0 {
		return nil, nil
	}
	n := len(g.Gamers)
	for i := 1; i < n; i++ {
		gm := g.Gamers[(idx+i)%n]
		var matches []string
		for _, card := range s.Cards() {
			if gm.HasCard(card) {
				matches = append(matches, card)
			}
		}
		if len(matches) > 0 {
			return gm, matches
		}
	}
	return nil, nil
}

func validSuggestion(s *models.Suggestion) error {
	if s == nil {
		return newError(CodeInvalidArgument, "missing suggestion")
	}
	if !catalog.IsCharacter(s.Character) || !catalog.IsWeapon(s.Weapon) || !catalog.IsRoom(s.Room) {
		return newError(CodeInvalidArgument, "unknown suggestion %s/%s/%s", s.Character, s.Weapon, s.Room)
	}
	return nil
}
