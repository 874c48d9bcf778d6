// internal/realtime/router.go
package realtime

import (
	"github.com/google/uuid"
	"github.com/jason-s-yu/cluedo/internal/engine"
	"github.com/jason-s-yu/cluedo/internal/models"
	"github.com/sirupsen/logrus"
)

// Delivery is one projected effect bound for one channel.
type Delivery struct {
	Channel *Channel
	Kind    Kind
	Event   *engine.Effect
}

// Router fans committed effects out to the channels of the hub.
type Router struct {
	hub    *Hub
	logger *logrus.Logger
}

func NewRouter(hub *Hub, logger *logrus.Logger) *Router {
	return &Router{hub: hub, logger: logger}
}

// Route computes the recipients of eff and what each may see:
//   - gamer channels of the game, without the actor unless it is a START or STOP_GAME;
//   - peer channels following the game, for effects committed here;
//   - anonymous channels, for lobby lifecycle effects only.
//
// Notes travel to peers only.
func (r *Router) Route(eff *engine.Effect) []Delivery {
	var out []Delivery
	for _, c := range r.hub.Channels() {
		kind := r.hub.Kind(c)
		creds := c.Credentials()
		switch kind {
		case KindPeer:
			if eff.FromPeer != "" {
				continue
			}
			if !eff.Action.Lifecycle() && !c.Interested(eff.GameID) {
				continue
			}
		case KindGamer:
			if creds.GameID != eff.GameID || eff.Action == engine.TakeNotes {
				continue
			}
			if creds.GamerID == eff.GamerID && eff.Action != engine.Start && eff.Action != engine.StopGame {
				continue
			}
		default:
			if !eff.Action.Lifecycle() {
				continue
			}
		}
		out = append(out, Delivery{Channel: c, Kind: kind, Event: Project(eff, kind, creds.GamerID)})
	}
	return out
}

// Broadcast sends eff and its follow-ups to their recipients and returns how many
// frames were queued.
func (r *Router) Broadcast(eff *engine.Effect) int {
	sent := 0
	for ; eff != nil; eff = eff.Then {
		if !eff.Broadcast() {
			continue
		}
		for _, d := range r.Route(eff) {
			if !d.Channel.Send(eventEnvelope(d.Event)) {
				r.logger.WithFields(logrus.Fields{
					"remote": d.Channel.Remote,
					"game":   eff.GameID,
					"action": eff.Action,
				}).Warn("dropped event for slow or closed channel")
				continue
			}
			if d.Kind == KindPeer {
				d.Channel.Subscribe(eff.GameID)
			}
			sent++
		}
	}
	return sent
}

// Project returns what a recipient of the given kind, playing as viewer, may see of eff.
// Peers see everything. Everyone else loses the solution until the game is over, every
// hand and notebook but their own, and the identity of a confutation card unless they
// are the round gamer it was shown to. An accuser alone learns the solution and the
// outcome of their accusation.
func Project(eff *engine.Effect, kind Kind, viewer uuid.UUID) *engine.Effect {
	out := *eff
	out.Then = nil
	if kind == KindPeer {
		return &out
	}

	if eff.Game != nil {
		out.Game = projectGame(eff.Game, viewer)
	}
	if eff.Gamer != nil {
		out.Gamer = projectGamer(eff.Gamer, viewer)
	}
	accuser := eff.Action == engine.MakeAccusation && viewer == eff.GamerID
	if eff.Action != engine.StopGame && !accuser {
		out.Solution = nil
	}
	if eff.Action == engine.MakeAccusation && !accuser {
		out.Win = nil
	}
	if eff.Action == engine.Confutation && viewer != eff.RoundGamer {
		out.Card = ""
	}
	if eff.Note != nil && viewer != eff.GamerID {
		out.Note = nil
	}
	if eff.Hands != nil {
		out.Hands = nil
		if hand, ok := eff.Hands[viewer]; ok {
			out.Hands = map[uuid.UUID][]string{viewer: hand}
		}
	}
	return &out
}

// ProjectGame is Project for a bare game record, as served to a reconnecting gamer or
// an HTTP reader.
func ProjectGame(g *models.Game, kind Kind, viewer uuid.UUID) *models.Game {
	if kind == KindPeer {
		return g.Clone()
	}
	return projectGame(g, viewer)
}

func projectGame(g *models.Game, viewer uuid.UUID) *models.Game {
	p := g.Clone()
	if p.Status != models.StatusFinished {
		p.Solution = nil
	}
	for i, gm := range p.Gamers {
		p.Gamers[i] = projectGamer(gm, viewer)
	}
	return p
}

func projectGamer(gm *models.Gamer, viewer uuid.UUID) *models.Gamer {
	p := *gm
	p.Device = nil
	if gm.ID != viewer {
		p.Cards = nil
		p.Notes = nil
	}
	return &p
}
