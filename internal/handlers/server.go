// internal/handlers/server.go
package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/jason-s-yu/cluedo/internal/auth"
	"github.com/jason-s-yu/cluedo/internal/engine"
	"github.com/jason-s-yu/cluedo/internal/middleware"
	"github.com/jason-s-yu/cluedo/internal/models"
	"github.com/jason-s-yu/cluedo/internal/peer"
	"github.com/jason-s-yu/cluedo/internal/realtime"
	"github.com/sirupsen/logrus"
)

// Decoder verifies gamer tokens.
type Decoder interface {
	Decode(gamerID uuid.UUID, token string) (*auth.Payload, bool)
}

// History reads the recorded actions of a game.
type History interface {
	Actions(ctx context.Context, gameID uuid.UUID) ([]models.GameAction, error)
}

// Server is the HTTP and websocket boundary of one peer.
type Server struct {
	engine   *engine.Engine
	hub      *realtime.Hub
	router   *realtime.Router
	peers    *peer.Manager
	registry peer.Registry
	tokens   Decoder
	logger   *logrus.Logger

	history        History
	allowedOrigins []string
}

// Option configures a Server.
type Option func(*Server)

// WithHistory serves GET /games/{gameID}/actions from h.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithAllowedOrigins restricts CORS and websocket origins. The default allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.allowedOrigins = origins
		}
	}
}

func NewServer(eng *engine.Engine, hub *realtime.Hub, router *realtime.Router, peers *peer.Manager, registry peer.Registry, tokens Decoder, logger *logrus.Logger, opts ...Option) *Server {
	s := &Server{
		engine:         eng,
		hub:            hub,
		router:         router,
		peers:          peers,
		registry:       registry,
		tokens:         tokens,
		logger:         logger,
		allowedOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the chi router of the peer.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// the websocket endpoint logs connect/disconnect itself
	r.Get("/ws", s.WSHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.LogMiddleware(s.logger))

		r.Get("/peers", s.ListPeersHandler)

		r.Route("/games", func(r chi.Router) {
			r.Post("/", s.CreateGameHandler)
			r.Get("/", s.ListGamesHandler)
			r.Route("/{gameID}", func(r chi.Router) {
				r.Get("/", s.GetGameHandler)
				r.Get("/actions", s.ListActionsHandler)
				r.Post("/gamers", s.JoinGameHandler)
				r.Post("/gamers/{gamerID}/actions/{action}", s.ActionHandler)
			})
		})
	})
	return r
}

// apply runs a local request. Gamers created here are attached to this peer so they
// leave their games if it goes away.
func (s *Server) apply(ctx context.Context, req engine.Request, session string) (*engine.Effect, error) {
	req.Game = nil
	req.Event = uuid.Nil
	if (req.Action == engine.NewGame || req.Action == engine.NewGamer) && req.Gamer != nil {
		req.Gamer = &models.Gamer{
			Username:       req.Gamer.Username,
			CharacterToken: req.Gamer.CharacterToken,
			Device:         &models.Device{Peer: s.peers.Self().Locator(), Session: session},
		}
	}
	eff, err := s.engine.Do(ctx, req)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"game":   req.GameID,
			"gamer":  req.GamerID,
			"action": req.Action,
		}).Debug("action rejected")
		return nil, err
	}
	return eff, nil
}
