package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/phototheology/palace/internal/auth"
	"github.com/phototheology/palace/internal/cache"
	"github.com/phototheology/palace/internal/config"
	"github.com/phototheology/palace/internal/feed"
	"github.com/phototheology/palace/internal/judge"
	"github.com/phototheology/palace/internal/llm"
	"github.com/phototheology/palace/internal/models"
	"github.com/phototheology/palace/internal/rubric"
	"github.com/phototheology/palace/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serviceKey = "test-service-role-key"

type stubLLM struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (s *stubLLM) Model() string { return "stub" }

func (s *stubLLM) Complete(_ context.Context, req llm.ChatRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if !req.JSON {
		return "Abraham's offering points to the Lamb God provides.", nil
	}
	return s.reply, nil
}

type server struct {
	t        *testing.T
	srv      *httptest.Server
	store    *store.Memory
	llm      *stubLLM
	sessions *auth.Sessions
	hub      *feed.Hub
	game     *models.Game
	players  []*models.Player
}

func newServer(t *testing.T, owners ...*uuid.UUID) *server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	st := store.NewMemory()
	var players []*models.Player
	for i, owner := range owners {
		players = append(players, &models.Player{
			ID: uuid.New(), UserID: owner, DisplayName: []string{"Ruth", "Boaz", "Naomi"}[i%3],
			JoinOrder: i, CardsRemaining: 3,
		})
	}
	g := &models.Game{ID: uuid.New(), Topic: "Genesis 22", Mode: models.ModeHuman, Status: models.GameActive}
	require.NoError(t, st.SeedGame(context.Background(), g, players, nil))

	sessions, err := auth.NewSessions(config.AuthConfig{})
	require.NoError(t, err)
	stub := &stubLLM{reply: `{"verdict":"approved","feedback":"Sound.","points":6,"bonuses":{"christ_centered":true}}`}
	hub := feed.NewHub(logger)
	j := judge.New(st, stub, rubric.NewHolder(rubric.Default()), judge.Options{
		MaxAITurns: 8,
		Publishers: []judge.Publisher{hub},
		Logger:     logger,
	})

	router := NewRouter(Deps{
		Logger:   logger,
		Store:    st,
		Judge:    j,
		Resolver: &auth.Resolver{Sessions: sessions, ServiceKey: serviceKey},
		Sessions: sessions,
		Hasher:   auth.Hasher{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16},
		Deduper:  cache.NewMemoryDeduper(time.Minute),
		Hub:      hub,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &server{t: t, srv: srv, store: st, llm: stub, sessions: sessions, hub: hub, game: g, players: players}
}

func (s *server) do(method, path, token string, body any) (*http.Response, map[string]any) {
	s.t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rdr)
	require.NoError(s.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out)
	return resp, out
}

func (s *server) play(token string, player uuid.UUID, extra map[string]any) (*http.Response, map[string]any) {
	body := map[string]any{
		"gameId":      s.game.ID,
		"playerId":    player,
		"cardType":    "principle",
		"cardData":    "Story Room",
		"explanation": "The ram in the thicket is a substitute, pointing to Christ.",
		"studyTopic":  "Genesis 22",
	}
	for k, v := range extra {
		body[k] = v
	}
	return s.play0(token, body)
}

func (s *server) play0(token string, body map[string]any) (*http.Response, map[string]any) {
	return s.do(http.MethodPost, "/api/judge", token, body)
}

func (s *server) moves() []*models.Move {
	moves, err := s.store.ListMoves(context.Background(), s.game.ID)
	require.NoError(s.t, err)
	return moves
}

func TestJudgeServiceCaller(t *testing.T) {
	s := newServer(t, nil, nil)

	resp, out := s.play(serviceKey, s.players[0].ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, out)
	assert.Equal(t, "approved", out["verdict"])
	assert.EqualValues(t, 6, out["points"])
	assert.EqualValues(t, 9, out["totalPoints"])
	assert.EqualValues(t, 1, out["moveNumber"])
	assert.Equal(t, s.players[1].ID.String(), out["nextPlayerId"])
	assert.Equal(t, "active", out["gameStatus"])
	assert.Empty(t, out["aiMoves"])
	assert.Len(t, s.moves(), 1)
}

func TestJudgeUserAuthorization(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	s := newServer(t, &alice, &bob)
	bobToken, err := s.sessions.Issue(bob)
	require.NoError(t, err)
	aliceToken, err := s.sessions.Issue(alice)
	require.NoError(t, err)

	resp, _ := s.play("", s.players[0].ID, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.play("not-a-token", s.players[0].ID, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.play(bobToken, s.players[0].ID, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, s.moves(), "rejected callers never mutate state")
	assert.Zero(t, s.llm.calls)

	resp, out := s.play(aliceToken, s.players[0].ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, out)

	// bob's turn now, but alice cannot act for him
	resp, _ = s.play(aliceToken, s.players[1].ID, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestJudgeValidation(t *testing.T) {
	s := newServer(t, nil, nil)
	cases := []map[string]any{
		{"gameId": "nope", "playerId": s.players[0].ID, "cardType": "principle", "explanation": "x"},
		{"gameId": s.game.ID, "playerId": "nope", "cardType": "principle", "explanation": "x"},
		{"gameId": s.game.ID, "playerId": s.players[0].ID, "cardType": " ", "explanation": "x"},
		{"gameId": s.game.ID, "playerId": s.players[0].ID, "cardType": "principle", "explanation": ""},
		{"gameId": s.game.ID, "playerId": s.players[0].ID, "cardType": "principle", "explanation": "x", "isCombo": true},
		{"gameId": s.game.ID, "autoPlayForPlayer": "nope"},
	}
	for _, body := range cases {
		resp, out := s.play0(serviceKey, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.NotEmpty(t, out["error"])
	}

	resp, _ := s.play(serviceKey, uuid.New(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "unknown player")
}

func TestJudgeDuplicateRequestID(t *testing.T) {
	s := newServer(t, nil, nil)
	extra := map[string]any{"requestId": "req-1"}

	resp, out := s.play(serviceKey, s.players[0].ID, extra)
	require.Equal(t, http.StatusOK, resp.StatusCode, out)
	resp, out = s.play(serviceKey, s.players[0].ID, extra)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, out["error"], "Duplicate")
	assert.Len(t, s.moves(), 1)
}

func TestJudgeRetryAfterRateLimit(t *testing.T) {
	s := newServer(t, nil, nil)
	extra := map[string]any{"requestId": "req-retry"}

	s.llm.err = llm.ErrRateLimited
	resp, _ := s.play(serviceKey, s.players[0].ID, extra)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Empty(t, s.moves())

	s.llm.err = nil
	resp, out := s.play(serviceKey, s.players[0].ID, extra)
	require.Equal(t, http.StatusOK, resp.StatusCode, out)
	assert.Len(t, s.moves(), 1)

	resp, _ = s.play(serviceKey, s.players[0].ID, extra)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "the committed request stays claimed")
	assert.Len(t, s.moves(), 1)
}

func TestJudgeTurnConflict(t *testing.T) {
	s := newServer(t, nil, nil)
	resp, out := s.play(serviceKey, s.players[1].ID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, judge.ErrNotYourTurn.Error(), out["error"])

	resp, _ = s.play0(serviceKey, map[string]any{"gameId": s.game.ID, "autoPlayForPlayer": s.players[0].ID})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "auto-play needs an AI player")
}

func TestJudgeGatewayErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{llm.ErrRateLimited, http.StatusTooManyRequests, "Rate limit exceeded, please try again later."},
		{llm.ErrPaymentRequired, http.StatusPaymentRequired, "AI credits exhausted, please add funds."},
		{llm.ErrMissingAPIKey, http.StatusInternalServerError, "AI gateway API key is not configured"},
		{&llm.StatusError{Code: 503, Body: "upstream down"}, http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		s := newServer(t, nil, nil)
		s.llm.err = tc.err
		resp, out := s.play(serviceKey, s.players[0].ID, nil)
		assert.Equal(t, tc.status, resp.StatusCode, tc.err.Error())
		if tc.msg != "" {
			assert.Equal(t, tc.msg, out["error"])
		} else {
			assert.NotEmpty(t, out["error"])
		}
		assert.Empty(t, s.moves())
	}
}

func TestGameStateAndLedger(t *testing.T) {
	s := newServer(t, nil, nil)
	resp, _ := s.play(serviceKey, s.players[0].ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, out := s.do(http.MethodGet, "/api/games/"+s.game.ID.String(), serviceKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	players := out["players"].([]any)
	require.Len(t, players, 2)
	first := players[0].(map[string]any)
	assert.EqualValues(t, 2, first["cards_remaining"])
	assert.EqualValues(t, 9, first["score"])

	req, _ := http.NewRequest(http.MethodGet, s.srv.URL+"/api/games/"+s.game.ID.String()+"/moves", nil)
	req.Header.Set("Authorization", "Bearer "+serviceKey)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	var moves []models.Move
	require.NoError(t, json.NewDecoder(raw.Body).Decode(&moves))
	require.Len(t, moves, 1)
	assert.Equal(t, 1, moves[0].MoveNumber)
	assert.True(t, moves[0].Bonuses.ChristCentered)

	resp, _ = s.do(http.MethodGet, "/api/games/"+uuid.NewString(), serviceKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = s.do(http.MethodGet, "/api/games/not-a-uuid/moves", serviceKey, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = s.do(http.MethodGet, "/api/games/"+s.game.ID.String(), "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPass(t *testing.T) {
	s := newServer(t, nil, nil)
	path := "/api/games/" + s.game.ID.String() + "/pass"

	resp, _ := s.do(http.MethodPost, path, serviceKey, map[string]any{"playerId": s.players[0].ID})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "nothing to pass")

	require.NoError(t, s.store.InGameTx(context.Background(), s.game.ID, func(tx store.GameTx) error {
		p := tx.Players()[0]
		p.SkipNextTurn = true
		return tx.UpdatePlayer(context.Background(), p)
	}))

	resp, out := s.play(serviceKey, s.players[0].ID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, judge.ErrSkipPending.Error(), out["error"])

	resp, out = s.do(http.MethodPost, path, serviceKey, map[string]any{"playerId": s.players[0].ID})
	require.Equal(t, http.StatusOK, resp.StatusCode, out)
	assert.Equal(t, s.players[1].ID.String(), out["nextPlayerId"])
	assert.Empty(t, s.moves(), "a pass is not a move")
}

func TestCreateUserAndLogin(t *testing.T) {
	s := newServer(t, nil)
	creds := map[string]any{"email": "ruth@example.com", "password": "gleaning-fields", "username": "ruth"}

	resp, out := s.do(http.MethodPost, "/user/create", "", creds)
	require.Equal(t, http.StatusCreated, resp.StatusCode, out)
	assert.Nil(t, out["password"], "hash is never returned")
	userID := out["id"].(string)

	resp, _ = s.do(http.MethodPost, "/user/create", "", creds)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = s.do(http.MethodPost, "/user/create", "", map[string]any{"email": "bad", "password": "long-enough"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(http.MethodPost, "/user/login", "", map[string]any{"email": "RUTH@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, out = s.do(http.MethodPost, "/user/login", "", map[string]any{"email": "RUTH@example.com", "password": "gleaning-fields"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := out["token"].(string)
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == auth.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, token, cookie.Value)

	got, err := s.sessions.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, userID, got.String())
}

func TestFeedRequiresSubprotocol(t *testing.T) {
	s := newServer(t, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + s.srv.URL[len("http"):] + "/api/games/" + s.game.ID.String() + "/ws"
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	_, _, err = c.Read(ctx)
	assert.Equal(t, BadSubprotocolError, websocket.CloseStatus(err))

	c, _, err = websocket.Dial(ctx, url, &websocket.DialOptions{Subprotocols: []string{feed.Subprotocol}})
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return s.hub.Subscribers(s.game.ID) == 1 }, 2*time.Second, 10*time.Millisecond)
	resp, _ := s.play(serviceKey, s.players[0].ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ev models.MoveEvent
	require.NoError(t, wsjson.Read(ctx, c, &ev))
	assert.Equal(t, 1, ev.MoveNumber)
	assert.Equal(t, models.VerdictApproved, ev.Verdict)
	assert.Nil(t, ev.Transcript)

	_, _, err = websocket.Dial(ctx, "ws"+s.srv.URL[len("http"):]+"/api/games/"+uuid.NewString()+"/ws", nil)
	assert.Error(t, err, "unknown games are refused before the upgrade")
}
