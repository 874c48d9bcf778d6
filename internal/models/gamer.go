// internal/models/gamer.go
package models

import "github.com/google/uuid"

// Suggestion is a (character, weapon, room) triple used by assumptions and accusations.
type Suggestion struct {
	Character string `json:"character"`
	Weapon    string `json:"weapon"`
	Room      string `json:"room"`
}

// Cards lists the three suggested names.
func (s Suggestion) Cards() []string { return []string{s.Character, s.Weapon, s.Room} }

// Confutation is one response to an assumption. Card is empty when redacted.
type Confutation struct {
	GamerID uuid.UUID `json:"gamer"`
	Card    string    `json:"card,omitempty"`
	Shown   bool      `json:"shown"`
}

// Assumption is a suggestion made while in round.
type Assumption struct {
	Suggestion
	Confutations []Confutation `json:"confutation"`
}

// StructuredNote is the suspicion state a gamer keeps about one catalog item.
type StructuredNote struct {
	Name    string `json:"name"`
	Suspect string `json:"suspect"`
}

type Notes struct {
	Text            string           `json:"text,omitempty"`
	StructuredNotes []StructuredNote `json:"structuredNotes,omitempty"`
}

// Note is one notes update: either free text or one structured item.
type Note struct {
	Text       *string         `json:"text,omitempty"`
	Structured *StructuredNote `json:"structured,omitempty"`
}

// Device links a gamer to the peer and the session that hosts it.
type Device struct {
	Peer    string `json:"peer"`
	Session string `json:"session,omitempty"`
}

// Gamer is a participant of one game.
type Gamer struct {
	ID             uuid.UUID    `json:"id"`
	Username       string       `json:"username"`
	CharacterToken string       `json:"characterToken"`
	Role           Role         `json:"role"`
	Device         *Device      `json:"device,omitempty"`
	Assumptions    []Assumption `json:"assumptions,omitempty"`
	Accusation     *Suggestion  `json:"accusation,omitempty"`
	Cards          []string     `json:"cards,omitempty"`
	Notes          *Notes       `json:"notes,omitempty"`
}

// IsParticipant reports whether the gamer still takes turns.
func (g *Gamer) IsParticipant() bool { return g.Role.Has(RoleParticipant) }

// HasCard reports whether name is in the gamer's hand.
func (g *Gamer) HasCard(name string) bool {
	for _, c := range g.Cards {
		if c == name {
			return true
		}
	}
	return false
}

// HostedBy reports whether the gamer's session lives on the given peer.
func (g *Gamer) HostedBy(peer string) bool {
	return g.Device != nil && g.Device.Peer == peer
}
