// internal/realtime/hub.go
package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Handler processes the frames a channel receives that the hub does not answer itself.
type Handler interface {
	Handle(ctx context.Context, ch *Channel, env Envelope)
	// Closed runs once the channel is gone; kind is what it was when it closed.
	Closed(ctx context.Context, ch *Channel, kind Kind)
}

// Hub is the registry of open channels of this peer.
type Hub struct {
	mu       sync.RWMutex
	channels map[uuid.UUID]*Channel

	verifier Verifier
	logger   *logrus.Logger
}

func NewHub(verifier Verifier, logger *logrus.Logger) *Hub {
	return &Hub{
		channels: make(map[uuid.UUID]*Channel),
		verifier: verifier,
		logger:   logger,
	}
}

func (h *Hub) Add(c *Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channels[c.ID] = c
}

func (h *Hub) Remove(c *Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channels, c.ID)
}

// Count is the number of open channels, reported to the registry as load.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

// Channels returns a snapshot of the open channels.
func (h *Hub) Channels() []*Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Channel, 0, len(h.channels))
	for _, c := range h.channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// Kind classifies c from its current credentials.
func (h *Hub) Kind(c *Channel) Kind {
	return Classify(c.Credentials(), h.verifier)
}

// Peer returns the open channel of the peer at locator, if any.
func (h *Hub) Peer(locator string) *Channel {
	for _, c := range h.Channels() {
		if h.Kind(c) == KindPeer && c.Credentials().Locator() == locator {
			return c
		}
	}
	return nil
}

// Serve runs a websocket connection as channel c until either side closes it, then
// removes c from the hub. The caller adds c first, so the channel is counted before
// Serve starts. Hello and auth frames update the credentials before they reach handler;
// pings are answered here.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, c *Channel, handler Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.WritePump(ctx, conn, h.logger)

	var err error
	for {
		var env Envelope
		if err = wsjson.Read(ctx, conn, &env); err != nil {
			break
		}
		switch env.Type {
		case TypePing:
			c.Send(Envelope{Type: TypePong})
			continue
		case TypeHello, TypeAuth:
			if env.Credentials != nil {
				c.SetCredentials(*env.Credentials)
			}
		}
		handler.Handle(ctx, c, env)
	}

	kind := h.Kind(c)
	h.Remove(c)
	c.Close()
	handler.Closed(context.WithoutCancel(ctx), c, kind)

	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
