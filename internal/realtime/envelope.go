// internal/realtime/envelope.go
package realtime

import (
	"github.com/google/uuid"
	"github.com/jason-s-yu/cluedo/internal/engine"
	"github.com/jason-s-yu/cluedo/internal/models"
)

// MessageType tags every frame exchanged over a realtime channel.
type MessageType string

const (
	// TypeHello declares the sender's credentials when a channel opens.
	TypeHello MessageType = "hello"
	// TypeAuth replaces the credentials of an open channel, e.g. after a token rotation.
	TypeAuth MessageType = "auth"
	// TypeEvent carries one committed effect.
	TypeEvent MessageType = "event"
	// TypeAction carries a gamer's request; the reply is a TypeResult or TypeError.
	TypeAction MessageType = "action"
	TypeResult MessageType = "result"
	// TypeSync carries full records of the active games a peer holds.
	TypeSync  MessageType = "sync"
	TypeError MessageType = "error"
	TypePing  MessageType = "ping"
	TypePong  MessageType = "pong"
)

// Credentials are what a channel claims to be. Peers fill Address, Port and Protocol;
// gamers fill GameID, GamerID and Token.
type Credentials struct {
	Address  string `json:"address,omitempty"`
	Port     int    `json:"port,omitempty"`
	Protocol string `json:"protocol,omitempty"`

	GameID  uuid.UUID `json:"gameId,omitempty"`
	GamerID uuid.UUID `json:"gamerId,omitempty"`
	Token   string    `json:"token,omitempty"`
}

// ErrorBody is the payload of a TypeError frame.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Envelope is one frame on the wire.
type Envelope struct {
	Type        MessageType     `json:"type"`
	Credentials *Credentials    `json:"credentials,omitempty"`
	Event       *engine.Effect  `json:"event,omitempty"`
	Action      *engine.Request `json:"action,omitempty"`
	Games       []*models.Game  `json:"games,omitempty"`
	Token       string          `json:"token,omitempty"`
	Error       *ErrorBody      `json:"error,omitempty"`
}

func eventEnvelope(eff *engine.Effect) Envelope {
	return Envelope{Type: TypeEvent, Event: eff}
}

// ErrorEnvelope wraps an error for the wire.
func ErrorEnvelope(code, message string) Envelope {
	return Envelope{Type: TypeError, Error: &ErrorBody{Code: code, Message: message}}
}
