// internal/handlers/games.go
package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jason-s-yu/cluedo/internal/engine"
	"github.com/jason-s-yu/cluedo/internal/game"
	"github.com/jason-s-yu/cluedo/internal/models"
	"github.com/jason-s-yu/cluedo/internal/realtime"
)

type gamerRequest struct {
	Username       string `json:"username"`
	CharacterToken string `json:"characterToken"`
}

// actionResponse is what the actor sees of its own action.
type actionResponse struct {
	Event *engine.Effect `json:"event"`
	Token string         `json:"token,omitempty"`
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), game.ErrInvalidArgument)
}

func urlID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, invalid("invalid %s", name)
	}
	return id, nil
}

// CreateGameHandler opens a new waiting game with the caller as its creator.
func (s *Server) CreateGameHandler(w http.ResponseWriter, r *http.Request) {
	var body gamerRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, invalid("bad game request payload"))
		return
	}
	s.commit(w, r, engine.Request{
		Action: engine.NewGame,
		Gamer:  &models.Gamer{Username: body.Username, CharacterToken: body.CharacterToken},
	}, http.StatusCreated)
}

// JoinGameHandler adds the caller to a waiting game.
func (s *Server) JoinGameHandler(w http.ResponseWriter, r *http.Request) {
	gameID, err := urlID(r, "gameID")
	if err != nil {
		writeError(w, err)
		return
	}
	var body gamerRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, invalid("bad gamer request payload"))
		return
	}
	s.commit(w, r, engine.Request{
		Action: engine.NewGamer,
		GameID: gameID,
		Gamer:  &models.Gamer{Username: body.Username, CharacterToken: body.CharacterToken},
	}, http.StatusCreated)
}

// ActionHandler applies one in-game action on behalf of the gamer holding the token.
// The action is named by the path, e.g. /games/{id}/gamers/{gamerID}/actions/roll_die.
func (s *Server) ActionHandler(w http.ResponseWriter, r *http.Request) {
	gameID, err := urlID(r, "gameID")
	if err != nil {
		writeError(w, err)
		return
	}
	gamerID, err := urlID(r, "gamerID")
	if err != nil {
		writeError(w, err)
		return
	}
	action := engine.Action(strings.ToUpper(strings.ReplaceAll(chi.URLParam(r, "action"), "-", "_")))
	if !action.Known() || action == engine.NewGame || action == engine.NewGamer {
		writeError(w, invalid("unsupported action %q", action))
		return
	}

	payload, ok := s.tokens.Decode(gamerID, requestToken(r))
	if !ok {
		writeJSON(w, http.StatusUnauthorized, realtime.ErrorBody{Code: "UNAUTHORIZED", Message: "missing or invalid token"})
		return
	}
	if payload.GameID != gameID {
		writeError(w, fmt.Errorf("token is for another game: %w", game.ErrForbidden))
		return
	}

	var req engine.Request
	if err := decodeBody(r, &req); err != nil {
		writeError(w, invalid("bad action payload"))
		return
	}
	req.Action = action
	req.GameID = gameID
	req.GamerID = gamerID
	s.commit(w, r, req, http.StatusOK)
}

// commit applies req, answers the actor and fans the effect out.
func (s *Server) commit(w http.ResponseWriter, r *http.Request, req engine.Request, status int) {
	eff, err := s.apply(r.Context(), req, "")
	if err != nil {
		writeError(w, err)
		return
	}
	if eff.Token != "" {
		setTokenCookie(w, eff.Token)
	}
	writeJSON(w, status, actionResponse{
		Event: realtime.Project(eff, realtime.KindGamer, eff.GamerID),
		Token: eff.Token,
	})
	s.router.Broadcast(eff)
}

// ListGamesHandler lists games as any visitor sees them, by default the joinable and
// running ones. Filter with ?status=WAITING&status=STARTED or ?status=WAITING,STARTED.
func (s *Server) ListGamesHandler(w http.ResponseWriter, r *http.Request) {
	var statuses []models.Status
	for _, v := range r.URL.Query()["status"] {
		for _, part := range strings.Split(v, ",") {
			st := models.Status(strings.ToUpper(strings.TrimSpace(part)))
			switch st {
			case models.StatusWaiting, models.StatusStarted, models.StatusFinished:
				statuses = append(statuses, st)
			default:
				writeError(w, invalid("unknown status %q", part))
				return
			}
		}
	}
	if len(statuses) == 0 {
		statuses = []models.Status{models.StatusWaiting, models.StatusStarted}
	}

	games, err := s.engine.Manager().List(r.Context(), statuses...)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]*models.Game, 0, len(games))
	for _, g := range games {
		out = append(out, realtime.ProjectGame(g, realtime.KindAnonymous, uuid.Nil))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetGameHandler returns one game. A gamer of the game passing ?gamerId= and its token
// also sees its own hand and notes.
func (s *Server) GetGameHandler(w http.ResponseWriter, r *http.Request) {
	gameID, err := urlID(r, "gameID")
	if err != nil {
		writeError(w, err)
		return
	}
	g, err := s.engine.Manager().Load(r.Context(), gameID)
	if err != nil {
		writeError(w, err)
		return
	}

	kind, viewer := realtime.KindAnonymous, uuid.Nil
	if gamerID, err := uuid.Parse(r.URL.Query().Get("gamerId")); err == nil {
		if p, ok := s.tokens.Decode(gamerID, requestToken(r)); ok && p.GameID == gameID {
			kind, viewer = realtime.KindGamer, gamerID
		}
	}
	writeJSON(w, http.StatusOK, realtime.ProjectGame(g, kind, viewer))
}

// ListActionsHandler returns the recorded history of a finished game.
func (s *Server) ListActionsHandler(w http.ResponseWriter, r *http.Request) {
	gameID, err := urlID(r, "gameID")
	if err != nil {
		writeError(w, err)
		return
	}
	if s.history == nil {
		writeError(w, fmt.Errorf("action history is not recorded here: %w", game.ErrNotFound))
		return
	}
	if _, err := s.engine.Manager().Load(r.Context(), gameID, game.InStatus(models.StatusFinished)); err != nil {
		if game.CodeOf(err) != game.CodeNotFound {
			err = fmt.Errorf("history is available once the game is over: %w", game.ErrForbidden)
		}
		writeError(w, err)
		return
	}
	actions, err := s.history.Actions(r.Context(), gameID)
	if err != nil {
		writeError(w, err)
		return
	}
	if actions == nil {
		actions = []models.GameAction{}
	}
	writeJSON(w, http.StatusOK, actions)
}

// ListPeersHandler lists the registered peers, least loaded first.
func (s *Server) ListPeersHandler(w http.ResponseWriter, r *http.Request) {
	peers, err := s.registry.Peers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	sort.SliceStable(peers, func(i, j int) bool { return peers[i].Load < peers[j].Load })
	writeJSON(w, http.StatusOK, peers)
}
