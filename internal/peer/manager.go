// internal/peer/manager.go
package peer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/cluedo/internal/engine"
	"github.com/jason-s-yu/cluedo/internal/game"
	"github.com/jason-s-yu/cluedo/internal/models"
	"github.com/jason-s-yu/cluedo/internal/realtime"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Subprotocol is spoken on every realtime connection of the cluster.
const Subprotocol = "cluedo"

// Manager keeps this peer linked to every other registered peer, replays their events
// into the local engine and cleans up after peers that go away.
type Manager struct {
	self     Info
	registry Registry
	hub      *realtime.Hub
	router   *realtime.Router
	engine   *engine.Engine
	logger   *logrus.Logger

	dialTimeout time.Duration
	dialLimit   int

	base    context.Context
	handler realtime.Handler
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialTimeout bounds each outbound handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(m *Manager) { m.dialTimeout = d }
}

// WithDialLimit caps how many peers are dialed at once on start.
func WithDialLimit(n int) Option {
	return func(m *Manager) { m.dialLimit = n }
}

func NewManager(self Info, registry Registry, hub *realtime.Hub, router *realtime.Router, eng *engine.Engine, logger *logrus.Logger, opts ...Option) *Manager {
	m := &Manager{
		self:        self,
		registry:    registry,
		hub:         hub,
		router:      router,
		engine:      eng,
		logger:      logger,
		dialTimeout: 5 * time.Second,
		dialLimit:   8,
		base:        context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Self is this peer's registration.
func (m *Manager) Self() Info { return m.self }

// Credentials are what this peer presents on its links.
func (m *Manager) Credentials() realtime.Credentials {
	return realtime.Credentials{Address: m.self.Address, Port: m.self.Port, Protocol: m.self.Protocol}
}

// Start registers this peer and links to every peer already registered. Frames read on
// outbound links go to handler. A peer that cannot be reached is skipped; it links to us
// when it comes back.
func (m *Manager) Start(ctx context.Context, handler realtime.Handler) error {
	m.base = ctx
	m.handler = handler

	if err := m.registry.AddPeer(ctx, m.self); err != nil {
		return fmt.Errorf("register peer: %w", err)
	}
	peers, err := m.registry.Peers(ctx)
	if err != nil {
		return fmt.Errorf("list peers: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(m.dialLimit)
	for _, info := range peers {
		if info.Locator() == m.self.Locator() {
			continue
		}
		g.Go(func() error {
			if err := m.Dial(ctx, info); err != nil {
				m.logger.WithError(err).WithField("peer", info.Locator()).Warn("peer unreachable")
			}
			return nil
		})
	}
	return g.Wait()
}

// Dial opens an outbound link to info, says hello and sends the active games.
func (m *Manager) Dial(ctx context.Context, info Info) error {
	if m.hub.Peer(info.Locator()) != nil {
		return nil
	}
	dctx, cancel := context.WithTimeout(ctx, m.dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, info.URL(), &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		return fmt.Errorf("dial %s: %w", info.URL(), err)
	}

	ch := realtime.NewChannel(info.Locator(), 64)
	ch.SetCredentials(realtime.Credentials{Address: info.Address, Port: info.Port, Protocol: info.Protocol})
	creds := m.Credentials()
	ch.Send(realtime.Envelope{Type: realtime.TypeHello, Credentials: &creds})
	if err := m.sendSync(ctx, ch); err != nil {
		m.logger.WithError(err).WithField("peer", info.Locator()).Warn("failed to sync games")
	}

	m.logger.WithField("peer", info.Locator()).Info("linked to peer")
	m.hub.Add(ch)
	go func() {
		if err := m.hub.Serve(m.base, conn, ch, m.handler); err != nil {
			m.logger.WithError(err).WithField("peer", info.Locator()).Info("peer link closed")
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}()
	m.ReportLoad(ctx)
	return nil
}

// Accept completes an inbound link once the remote peer said hello.
func (m *Manager) Accept(ctx context.Context, ch *realtime.Channel) {
	locator := ch.Credentials().Locator()
	m.logger.WithField("peer", locator).Info("peer linked to us")
	if err := m.sendSync(ctx, ch); err != nil {
		m.logger.WithError(err).WithField("peer", locator).Warn("failed to sync games")
	}
	m.ReportLoad(ctx)
}

func (m *Manager) sendSync(ctx context.Context, ch *realtime.Channel) error {
	games, err := m.engine.Manager().List(ctx, models.StatusWaiting, models.StatusStarted)
	if err != nil {
		return err
	}
	for _, g := range games {
		ch.Subscribe(g.ID)
	}
	if !ch.Send(realtime.Envelope{Type: realtime.TypeSync, Games: games}) {
		return errors.New("link queue full")
	}
	return nil
}

// Handle processes a frame received from a peer link.
func (m *Manager) Handle(ctx context.Context, ch *realtime.Channel, env realtime.Envelope) {
	locator := ch.Credentials().Locator()
	log := m.logger.WithField("peer", locator)

	switch env.Type {
	case realtime.TypeHello:
		m.Accept(ctx, ch)

	case realtime.TypeSync:
		for _, g := range env.Games {
			ch.Subscribe(g.ID)
			err := m.engine.Manager().Sync(ctx, g)
			if err != nil && !errors.Is(err, game.ErrAlreadyApplied) {
				log.WithError(err).WithField("game", g.ID).Warn("failed to sync game")
			}
		}
		log.WithField("games", len(env.Games)).Debug("synced games")

	case realtime.TypeEvent:
		if env.Event == nil {
			return
		}
		m.replay(ctx, ch, env.Event)

	default:
		log.WithField("type", env.Type).Debug("ignoring peer frame")
	}
}

// replay applies one peer event locally, exactly once, and tells local channels.
func (m *Manager) replay(ctx context.Context, ch *realtime.Channel, event *engine.Effect) {
	locator := ch.Credentials().Locator()
	log := m.logger.WithFields(logrus.Fields{"peer": locator, "game": event.GameID, "action": event.Action})

	eff, err := m.engine.Replay(ctx, event.Request())
	if errors.Is(err, game.ErrAlreadyApplied) {
		log.Debug("event already applied")
		return
	}
	if err != nil {
		log.WithError(err).Warn("failed to replay peer event")
		return
	}
	eff.FromPeer = locator

	if eff.Action == engine.NewGame {
		// every peer of the mesh hears about a new game, so every link follows it
		for _, c := range m.hub.Channels() {
			if m.hub.Kind(c) == realtime.KindPeer {
				c.Subscribe(eff.GameID)
			}
		}
	}
	ch.Subscribe(eff.GameID)
	m.router.Broadcast(eff)
}

// Closed cleans up after a link that went away: the peer is deregistered and every gamer
// whose session lived there leaves their games.
func (m *Manager) Closed(ctx context.Context, ch *realtime.Channel) {
	locator := ch.Credentials().Locator()
	log := m.logger.WithField("peer", locator)
	log.Info("peer link lost")

	if err := m.registry.RemovePeer(ctx, locator); err != nil && !errors.Is(err, ErrUnknownPeer) {
		log.WithError(err).Warn("failed to deregister peer")
	}
	effects, err := m.engine.RemoveGamersOf(ctx, locator)
	if err != nil {
		log.WithError(err).Error("failed to remove gamers of lost peer")
	}
	for _, eff := range effects {
		m.router.Broadcast(eff)
	}
	m.ReportLoad(ctx)
}

// ReportLoad publishes the number of open channels as this peer's load.
func (m *Manager) ReportLoad(ctx context.Context) {
	m.self.Load = m.hub.Count()
	if err := m.registry.UpdatePeer(ctx, m.self); err != nil {
		m.logger.WithError(err).Debug("failed to report load")
	}
}

// Stop deregisters this peer.
func (m *Manager) Stop(ctx context.Context) error {
	return m.registry.RemovePeer(ctx, m.self.Locator())
}
