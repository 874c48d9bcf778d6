// internal/realtime/classifier.go
package realtime

import (
	"net"
	"strconv"

	"github.com/google/uuid"
)

// Kind is what a channel is, as derived from its current credentials.
type Kind int

const (
	KindAnonymous Kind = iota
	KindGamer
	KindPeer
)

func (k Kind) String() string {
	switch k {
	case KindGamer:
		return "gamer"
	case KindPeer:
		return "peer"
	default:
		return "anonymous"
	}
}

// Verifier checks that token is the gamer's current token.
type Verifier interface {
	Validity(gamerID uuid.UUID, token string) bool
}

// Classify derives the kind of a channel. A nil verifier trusts gamer credentials
// without a token check.
func Classify(c Credentials, v Verifier) Kind {
	if c.Address != "" && c.Port > 0 && c.Protocol != "" {
		return KindPeer
	}
	if c.GameID != uuid.Nil && c.GamerID != uuid.Nil {
		if v == nil || v.Validity(c.GamerID, c.Token) {
			return KindGamer
		}
	}
	return KindAnonymous
}

// Locator is the "protocol://host:port" identity of peer credentials, as recorded in
// the registry and in gamer devices.
func (c Credentials) Locator() string {
	return c.Protocol + "://" + net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}
