// internal/handlers/server_test.go
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cluedo/internal/auth"
	"github.com/jason-s-yu/cluedo/internal/catalog"
	"github.com/jason-s-yu/cluedo/internal/engine"
	"github.com/jason-s-yu/cluedo/internal/game"
	"github.com/jason-s-yu/cluedo/internal/models"
	"github.com/jason-s-yu/cluedo/internal/peer"
	"github.com/jason-s-yu/cluedo/internal/realtime"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	actions map[uuid.UUID][]models.GameAction
}

func (f *fakeHistory) Actions(_ context.Context, gameID uuid.UUID) ([]models.GameAction, error) {
	return f.actions[gameID], nil
}

type testServer struct {
	*Server
	http    http.Handler
	tokens  *auth.Service
	history *fakeHistory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	tokens, err := auth.NewService(0)
	require.NoError(t, err)
	m := game.NewManager(game.NewMemoryStore(), logger, game.WithRand(rand.New(rand.NewSource(5))))
	eng := engine.New(m, tokens, logger, 3)
	hub := realtime.NewHub(tokens, logger)
	router := realtime.NewRouter(hub, logger)
	registry := peer.NewMemoryRegistry()
	self := peer.Info{Address: "localhost", Port: 8080, Protocol: "ws"}
	require.NoError(t, registry.AddPeer(context.Background(), self))
	peers := peer.NewManager(self, registry, hub, router, eng, logger)

	history := &fakeHistory{actions: map[uuid.UUID][]models.GameAction{}}
	s := NewServer(eng, hub, router, peers, registry, tokens, logger, WithHistory(history))
	return &testServer{Server: s, http: s.Routes(), tokens: tokens, history: history}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.http.ServeHTTP(w, req)
	return w
}

type seat struct {
	id    uuid.UUID
	token string
}

func decodeAction(t *testing.T, w *httptest.ResponseRecorder) actionResponse {
	t.Helper()
	var resp actionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	require.NotNil(t, resp.Event)
	return resp
}

// openGame creates a game and joins n-1 more gamers.
func (ts *testServer) openGame(t *testing.T, n int) (uuid.UUID, []seat) {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/games", "", gamerRequest{Username: "host", CharacterToken: catalog.Characters[0]})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeAction(t, w)
	seats := []seat{{id: created.Event.GamerID, token: created.Token}}

	for i := 1; i < n; i++ {
		w := ts.do(t, http.MethodPost, "/games/"+created.Event.GameID.String()+"/gamers", "",
			gamerRequest{Username: fmt.Sprintf("guest%d", i), CharacterToken: catalog.Characters[i]})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		joined := decodeAction(t, w)
		seats = append(seats, seat{id: joined.Event.GamerID, token: joined.Token})
	}
	return created.Event.GameID, seats
}

func actionPath(gameID, gamerID uuid.UUID, action string) string {
	return fmt.Sprintf("/games/%s/gamers/%s/actions/%s", gameID, gamerID, action)
}

func TestCreateGame(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/games", "", gamerRequest{Username: "host", CharacterToken: "MRS_WHITE"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decodeAction(t, w)
	require.NotEmpty(t, resp.Token)
	require.NotNil(t, resp.Event.Gamer)
	assert.True(t, resp.Event.Gamer.Role.Has(models.RoleCreator))
	assert.Nil(t, resp.Event.Gamer.Device, "devices are never shown")

	p, ok := ts.tokens.Decode(resp.Event.GamerID, resp.Token)
	require.True(t, ok)
	assert.Equal(t, resp.Event.GameID, p.GameID)

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == tokenCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, resp.Token, cookie.Value)

	g, err := ts.engine.Manager().Load(context.Background(), resp.Event.GameID)
	require.NoError(t, err)
	require.NotNil(t, g.Gamers[0].Device)
	assert.Equal(t, "ws://localhost:8080", g.Gamers[0].Device.Peer)
}

func TestCreateGameRejectsUnknownCharacter(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/games", "", gamerRequest{Username: "host", CharacterToken: "BATMAN"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body realtime.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(game.CodeInvalidArgument), body.Code)
}

func TestJoinTakenCharacter(t *testing.T) {
	ts := newTestServer(t)
	gameID, _ := ts.openGame(t, 1)
	w := ts.do(t, http.MethodPost, "/games/"+gameID.String()+"/gamers", "", gamerRequest{CharacterToken: catalog.Characters[0]})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = ts.do(t, http.MethodPost, "/games/"+uuid.NewString()+"/gamers", "", gamerRequest{CharacterToken: catalog.Characters[1]})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/games/not-a-uuid/gamers", "", gamerRequest{CharacterToken: catalog.Characters[1]})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartRedactsForActor(t *testing.T) {
	ts := newTestServer(t)
	gameID, seats := ts.openGame(t, 3)

	w := ts.do(t, http.MethodPost, actionPath(gameID, seats[0].id, "start"), seats[0].token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeAction(t, w)

	require.NotNil(t, resp.Event.Game)
	assert.Equal(t, models.StatusStarted, resp.Event.Game.Status)
	assert.Nil(t, resp.Event.Game.Solution)
	for _, gm := range resp.Event.Game.Gamers {
		if gm.ID == seats[0].id {
			assert.NotEmpty(t, gm.Cards)
		} else {
			assert.Empty(t, gm.Cards)
		}
	}
}

func TestActionAuthorization(t *testing.T) {
	ts := newTestServer(t)
	gameID, seats := ts.openGame(t, 3)
	_, others := ts.openGame(t, 1)

	w := ts.do(t, http.MethodPost, actionPath(gameID, seats[0].id, "start"), "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, actionPath(gameID, seats[0].id, "start"), seats[1].token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "a token only vouches for its own gamer")

	w = ts.do(t, http.MethodPost, actionPath(gameID, others[0].id, "start"), others[0].token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, actionPath(gameID, seats[1].id, "start"), seats[1].token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "only the creator starts")

	w = ts.do(t, http.MethodPost, actionPath(gameID, seats[0].id, "dance"), seats[0].token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, actionPath(gameID, seats[0].id, "new_game"), seats[0].token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTurnErrors(t *testing.T) {
	ts := newTestServer(t)
	gameID, seats := ts.openGame(t, 3)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, actionPath(gameID, seats[0].id, "start"), seats[0].token, nil).Code)

	g, err := ts.engine.Manager().Load(context.Background(), gameID)
	require.NoError(t, err)
	var idle seat
	for _, s := range seats {
		if s.id != g.RoundGamer {
			idle = s
			break
		}
	}
	w := ts.do(t, http.MethodPost, actionPath(gameID, idle.id, "roll-die"), idle.token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, actionPath(gameID, idle.id, "new_gamer"), idle.token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/games/"+gameID.String()+"/gamers", "", gamerRequest{CharacterToken: catalog.Characters[4]})
	assert.Equal(t, http.StatusGone, w.Code, "a started game takes no more gamers")
}

func TestAccusationRepliesWithSolution(t *testing.T) {
	ts := newTestServer(t)
	gameID, seats := ts.openGame(t, 3)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, actionPath(gameID, seats[0].id, "start"), seats[0].token, nil).Code)

	g, err := ts.engine.Manager().Load(context.Background(), gameID)
	require.NoError(t, err)
	require.Equal(t, seats[0].id, g.RoundGamer)
	wrong := *g.Solution
	for _, w := range catalog.Weapons {
		if w != wrong.Weapon {
			wrong.Weapon = w
			break
		}
	}

	w := ts.do(t, http.MethodPost, actionPath(gameID, seats[0].id, "make-accusation"), seats[0].token,
		map[string]interface{}{"suggestion": wrong})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeAction(t, w)
	require.NotNil(t, resp.Event.Solution, "the accuser learns the solution")
	assert.Equal(t, *g.Solution, *resp.Event.Solution)
	require.NotNil(t, resp.Event.Win)
	assert.False(t, *resp.Event.Win)
	assert.Nil(t, resp.Event.Game.Solution, "the game record stays redacted")
}

func TestListAndGetGames(t *testing.T) {
	ts := newTestServer(t)
	waiting, _ := ts.openGame(t, 1)
	started, seats := ts.openGame(t, 3)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, actionPath(started, seats[0].id, "start"), seats[0].token, nil).Code)

	w := ts.do(t, http.MethodGet, "/games", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var games []*models.Game
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &games))
	assert.Len(t, games, 2)
	for _, g := range games {
		assert.Nil(t, g.Solution)
		for _, gm := range g.Gamers {
			assert.Empty(t, gm.Cards)
		}
	}

	w = ts.do(t, http.MethodGet, "/games?status=waiting", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	games = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &games))
	require.Len(t, games, 1)
	assert.Equal(t, waiting, games[0].ID)

	w = ts.do(t, http.MethodGet, "/games?status=LOST", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// a gamer sees its own hand
	w = ts.do(t, http.MethodGet, fmt.Sprintf("/games/%s?gamerId=%s", started, seats[1].id), seats[1].token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var g models.Game
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &g))
	assert.NotEmpty(t, g.Gamer(seats[1].id).Cards)
	assert.Empty(t, g.Gamer(seats[0].id).Cards)

	w = ts.do(t, http.MethodGet, "/games/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListActions(t *testing.T) {
	ts := newTestServer(t)
	gameID, seats := ts.openGame(t, 3)
	ts.history.actions[gameID] = []models.GameAction{{GameID: gameID, Version: 1, ActionType: "NEW_GAME"}}

	w := ts.do(t, http.MethodGet, "/games/"+gameID.String()+"/actions", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "history stays hidden while the game runs")

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, actionPath(gameID, seats[0].id, "start"), seats[0].token, nil).Code)
	w = ts.do(t, http.MethodPost, actionPath(gameID, seats[1].id, "stop_game"), seats[1].token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stopped := decodeAction(t, w)
	assert.NotNil(t, stopped.Event.Solution, "the solution is revealed on stop")

	w = ts.do(t, http.MethodGet, "/games/"+gameID.String()+"/actions", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var actions []models.GameAction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &actions))
	assert.Len(t, actions, 1)

	w = ts.do(t, http.MethodGet, "/games/"+uuid.NewString()+"/actions", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPeersAndHeartbeat(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.registry.AddPeer(context.Background(), peer.Info{Address: "other", Port: 9000, Protocol: "ws", Load: 5}))
	require.NoError(t, ts.registry.UpdatePeer(context.Background(), peer.Info{Address: "other", Port: 9000, Protocol: "ws", Load: 5}))

	w := ts.do(t, http.MethodGet, "/peers", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var peers []peer.Info
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &peers))
	require.Len(t, peers, 2)
	assert.Equal(t, "localhost", peers[0].Address, "least loaded first")

	w = ts.do(t, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{game.ErrNotFound, http.StatusNotFound},
		{game.ErrGone, http.StatusGone},
		{game.ErrForbidden, http.StatusForbidden},
		{game.ErrNotInRound, http.StatusForbidden},
		{game.ErrVersionConflict, http.StatusConflict},
		{game.ErrCharacterTaken, http.StatusUnprocessableEntity},
		{game.ErrWrongGamerCount, http.StatusUnprocessableEntity},
		{game.ErrNotInRoomWithPassage, http.StatusUnprocessableEntity},
		{fmt.Errorf("wrapped: %w", game.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("bad: %w", game.ErrInvalidArgument), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusOf(tc.err), tc.err.Error())
	}
	assert.Equal(t, "INTERNAL", codeOf(errors.New("boom")))
}

func TestExtractCookieToken(t *testing.T) {
	assert.Equal(t, "abc", extractCookieToken("a=1; auth_token=abc; b=2", tokenCookie))
	assert.Equal(t, "abc", extractCookieToken("auth_token=abc", tokenCookie))
	assert.Empty(t, extractCookieToken("a=1", tokenCookie))
}
