// internal/handlers/ws.go
package handlers

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/cluedo/internal/engine"
	"github.com/jason-s-yu/cluedo/internal/game"
	"github.com/jason-s-yu/cluedo/internal/middleware"
	"github.com/jason-s-yu/cluedo/internal/models"
	"github.com/jason-s-yu/cluedo/internal/peer"
	"github.com/jason-s-yu/cluedo/internal/realtime"
	"github.com/sirupsen/logrus"
)

const channelBuffer = 64

var _ realtime.Handler = (*Server)(nil)

// WSHandler upgrades browsers, gamers and peers alike. Gamers may declare themselves
// up front with ?gameId=&gamerId= and their token; anyone may do it later with a hello or
// auth frame.
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{peer.Subprotocol},
		OriginPatterns: s.allowedOrigins,
	})
	if err != nil {
		s.logger.Warnf("websocket accept error: %v", err)
		return
	}
	if c.Subprotocol() != peer.Subprotocol {
		c.Close(BadSubprotocolError, "client must speak the cluedo subprotocol")
		return
	}

	ch := realtime.NewChannel(r.RemoteAddr, channelBuffer)
	if code, reason := s.initialCredentials(r, ch); code != 0 {
		c.Close(code, reason)
		return
	}

	middleware.LogWebSocketConnect(s.logger, r.RemoteAddr, r.URL.Path, ch.ID.String())
	s.hub.Add(ch)
	s.peers.ReportLoad(r.Context())

	err = s.hub.Serve(r.Context(), c, ch, s)
	middleware.LogWebSocketDisconnect(s.logger, r.RemoteAddr, r.URL.Path, ch.ID.String(), err)
	c.Close(websocket.StatusNormalClosure, "")
}

// initialCredentials applies gamer credentials declared in the query string. A non-zero
// close code rejects the connection.
func (s *Server) initialCredentials(r *http.Request, ch *realtime.Channel) (websocket.StatusCode, string) {
	q := r.URL.Query()
	if q.Get("gameId") == "" && q.Get("gamerId") == "" {
		return 0, ""
	}
	gameID, err := uuid.Parse(q.Get("gameId"))
	if err != nil {
		return InvalidGameIDError, "invalid gameId"
	}
	gamerID, err := uuid.Parse(q.Get("gamerId"))
	if err != nil {
		return InvalidGamerIDError, "invalid gamerId"
	}
	if _, err := s.engine.Manager().Load(r.Context(), gameID, game.HasGamer(gamerID)); err != nil {
		return InvalidGameIDError, "game does not exist"
	}
	token := requestToken(r)
	if token == "" {
		token = q.Get("token")
	}
	if p, ok := s.tokens.Decode(gamerID, token); !ok || p.GameID != gameID {
		return InvalidAuthTokenError, "invalid token"
	}
	ch.SetCredentials(realtime.Credentials{GameID: gameID, GamerID: gamerID, Token: token})
	return 0, ""
}

// Handle dispatches one frame. Peer links belong to the peer manager; everyone else may
// authenticate and act.
func (s *Server) Handle(ctx context.Context, ch *realtime.Channel, env realtime.Envelope) {
	kind := s.hub.Kind(ch)
	if kind == realtime.KindPeer {
		s.peers.Handle(ctx, ch, env)
		return
	}

	switch env.Type {
	case realtime.TypeHello, realtime.TypeAuth:
		s.handleAuth(ctx, ch, kind)
	case realtime.TypeAction:
		s.handleAction(ctx, ch, kind, env.Action)
	default:
		ch.Send(realtime.ErrorEnvelope(string(game.CodeInvalidArgument), "unsupported message type "+string(env.Type)))
	}
}

// handleAuth answers a credentials change. A gamer gets its view of the game back.
func (s *Server) handleAuth(ctx context.Context, ch *realtime.Channel, kind realtime.Kind) {
	creds := ch.Credentials()
	if kind != realtime.KindGamer {
		if creds.GameID != uuid.Nil || creds.GamerID != uuid.Nil {
			ch.Send(realtime.ErrorEnvelope(string(game.CodeForbidden), "invalid token"))
			return
		}
		ch.Send(realtime.Envelope{Type: realtime.TypeResult})
		return
	}
	g, err := s.engine.Manager().Load(ctx, creds.GameID, game.HasGamer(creds.GamerID))
	if err != nil {
		ch.Send(realtime.ErrorEnvelope(codeOf(err), err.Error()))
		return
	}
	ch.Send(realtime.Envelope{
		Type:  realtime.TypeResult,
		Games: []*models.Game{realtime.ProjectGame(g, kind, creds.GamerID)},
	})
}

func (s *Server) handleAction(ctx context.Context, ch *realtime.Channel, kind realtime.Kind, action *engine.Request) {
	if action == nil {
		ch.Send(realtime.ErrorEnvelope(string(game.CodeInvalidArgument), "missing action"))
		return
	}
	req := *action
	switch req.Action {
	case engine.NewGame, engine.NewGamer:
	default:
		if kind != realtime.KindGamer {
			ch.Send(realtime.ErrorEnvelope(string(game.CodeForbidden), "authenticate before acting"))
			return
		}
		creds := ch.Credentials()
		req.GameID = creds.GameID
		req.GamerID = creds.GamerID
	}

	eff, err := s.apply(ctx, req, ch.ID.String())
	if err != nil {
		ch.Send(realtime.ErrorEnvelope(codeOf(err), err.Error()))
		return
	}
	// a fresh or rotated token becomes the channel's identity before anyone is told
	if eff.Token != "" {
		ch.SetCredentials(realtime.Credentials{GameID: eff.GameID, GamerID: eff.GamerID, Token: eff.Token})
	}
	ch.Send(realtime.Envelope{
		Type:  realtime.TypeResult,
		Event: realtime.Project(eff, realtime.KindGamer, eff.GamerID),
		Token: eff.Token,
	})
	s.router.Broadcast(eff)
}

// Closed cleans up after a channel. A gamer keeps its seat when its connection drops;
// it leaves only when asked to or when its peer goes away.
func (s *Server) Closed(ctx context.Context, ch *realtime.Channel, kind realtime.Kind) {
	s.logger.WithFields(logrus.Fields{"channel": ch.ID, "kind": kind}).Debug("channel closed")
	if kind == realtime.KindPeer {
		s.peers.Closed(ctx, ch)
		return
	}
	s.peers.ReportLoad(ctx)
}
