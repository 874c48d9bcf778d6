// internal/realtime/channel.go
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const writeTimeout = 5 * time.Second

// Channel is one realtime connection: a client browser, a gamer, or another peer.
// Outbound frames are queued and written by WritePump; credentials may change at any
// time, so the kind of a channel is never cached.
type Channel struct {
	ID     uuid.UUID
	Remote string

	out       chan Envelope
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	creds    Credentials
	interest map[uuid.UUID]struct{}
}

func NewChannel(remote string, buffer int) *Channel {
	return &Channel{
		ID:       uuid.New(),
		Remote:   remote,
		out:      make(chan Envelope, buffer),
		done:     make(chan struct{}),
		interest: make(map[uuid.UUID]struct{}),
	}
}

// Send queues env without blocking. It reports false when the channel is closed or its
// queue is full; a slow consumer loses frames rather than stalling the router.
func (c *Channel) Send(env Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- env:
		return true
	default:
		return false
	}
}

// Outbound exposes the queue, for WritePump and tests.
func (c *Channel) Outbound() <-chan Envelope { return c.out }

// Done is closed once the channel is closed.
func (c *Channel) Done() <-chan struct{} { return c.done }

func (c *Channel) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Channel) Credentials() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

func (c *Channel) SetCredentials(creds Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = creds
}

// Subscribe records that the remote peer follows the given games.
func (c *Channel) Subscribe(ids ...uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.interest[id] = struct{}{}
	}
}

// Interested reports whether the remote peer follows game id.
func (c *Channel) Interested(id uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.interest[id]
	return ok
}

// WritePump drains the queue into conn until ctx ends or the channel closes.
func (c *Channel) WritePump(ctx context.Context, conn *websocket.Conn, logger *logrus.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case env := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, env)
			cancel()
			if err != nil {
				logger.WithError(err).WithField("remote", c.Remote).Warn("failed to write to channel")
				c.Close()
				return
			}
		}
	}
}
