package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Pranay-ai/tic-tac-toe-be/internal/game"
	"github.com/Pranay-ai/tic-tac-toe-be/internal/matchmaking"
	"github.com/Pranay-ai/tic-tac-toe-be/internal/room"
)

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *Controller) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ctrl := NewController(matchmaking.NewQueue(matchmaking.DuplicateReject), room.NewRegistry(), zap.NewNop(), opts)
	srv := httptest.NewServer(NewServer(ctx, ctrl, DefaultPumpConfig(), zap.NewNop()).Routes())
	t.Cleanup(func() {
		ctrl.Shutdown()
		cancel()
		srv.Close()
	})
	return srv, ctrl
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// expect reads the next frame, checks its type and decodes it into v.
func expect(t *testing.T, ws *websocket.Conn, msgType string, v any) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)

	var env struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, msgType, env.Type, string(raw))
	if v != nil {
		require.NoError(t, json.Unmarshal(raw, v))
	}
}

func TestServer_MatchAndPlay(t *testing.T) {
	srv, _ := newTestServer(t, Options{ReconnectGrace: 50 * time.Millisecond})

	alice := dial(t, srv, "/ws/matchmaking/alice")
	expect(t, alice, typeWaiting, nil)
	bob := dial(t, srv, "/ws/matchmaking/bob")

	var mf MatchFound
	var start Start
	for _, ws := range []*websocket.Conn{alice, bob} {
		expect(t, ws, typeMatchFound, &mf)
		expect(t, ws, typeStart, &start)
		expect(t, ws, typeGameState, nil)
	}
	assert.Equal(t, "alice", mf.Opponent)
	assert.Equal(t, game.O, start.Symbol)

	require.NoError(t, alice.WriteJSON(map[string]any{"type": "move", "index": 4}))
	var st GameState
	expect(t, alice, typeMove, &st)
	expect(t, bob, typeMove, &st)
	assert.Equal(t, game.X, st.Board[4])
	assert.Equal(t, game.O, st.CurrentTurn)

	require.NoError(t, alice.WriteJSON(map[string]any{"type": "move", "index": 0}))
	var rejection ErrorMessage
	expect(t, alice, typeError, &rejection)
	assert.Equal(t, "not_your_turn", rejection.Code)

	// The seat outlives the matchmaking socket for the grace period only.
	require.NoError(t, alice.Close())
	expect(t, bob, typeOpponentLeft, nil)
}

// Browser clients use trailing slashes and move from the matchmaking socket
// to the game channel once matched.
func TestServer_TrailingSlashRoutes(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	alice := dial(t, srv, "/ws/matchmaking/alice/")
	expect(t, alice, typeWaiting, nil)
	bob := dial(t, srv, "/ws/matchmaking/bob/")

	var mf MatchFound
	for _, ws := range []*websocket.Conn{alice, bob} {
		expect(t, ws, typeMatchFound, &mf)
		expect(t, ws, typeStart, nil)
		expect(t, ws, typeGameState, nil)
	}
	require.NoError(t, alice.Close())
	require.NoError(t, bob.Close())

	var start Start
	aliceGame := dial(t, srv, "/ws/tictactoe/"+mf.Room+"/?player=alice")
	expect(t, aliceGame, typeStart, &start)
	assert.Equal(t, game.X, start.Symbol)
	assert.Equal(t, "bob", start.Opponent)
	expect(t, aliceGame, typeGameState, nil)

	bobGame := dial(t, srv, "/ws/tictactoe/"+mf.Room+"/?player=bob")
	expect(t, bobGame, typeStart, &start)
	assert.Equal(t, game.O, start.Symbol)
	expect(t, bobGame, typeGameState, nil)

	require.NoError(t, aliceGame.WriteJSON(map[string]any{"type": "move", "index": 4}))
	var st GameState
	expect(t, aliceGame, typeMove, &st)
	expect(t, bobGame, typeMove, &st)
	assert.Equal(t, game.X, st.Board[4])
}

func TestServer_RoomChannel(t *testing.T) {
	srv, ctrl := newTestServer(t, Options{AllowRoomCreate: true})

	carol := dial(t, srv, "/ws/tictactoe/lobby/?player=carol")
	expect(t, carol, typeWaiting, nil)
	guest := dial(t, srv, "/ws/tictactoe/lobby")

	var start Start
	expect(t, carol, typeStart, &start)
	assert.Equal(t, game.X, start.Symbol)
	assert.True(t, strings.HasPrefix(start.Opponent, "guest-"), start.Opponent)
	expect(t, guest, typeStart, &start)
	assert.Equal(t, game.O, start.Symbol)

	late := dial(t, srv, "/ws/tictactoe/lobby?player=dave")
	var rejection ErrorMessage
	expect(t, late, typeError, &rejection)
	assert.Equal(t, "session_full", rejection.Code)

	sessions, _, _ := ctrl.Stats()
	assert.Equal(t, 1, sessions)
}

func TestServer_RejectsInvalidNames(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	for _, path := range []string{"/ws/matchmaking/bad.name", "/ws/tictactoe/lobby?player=a.b", "/ws/tictactoe/no.room"} {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.ErrorIs(t, err, websocket.ErrBadHandshake, path)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		_ = resp.Body.Close()
	}
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	alice := dial(t, srv, "/ws/matchmaking/alice")
	expect(t, alice, typeWaiting, nil)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status      string `json:"status"`
		Queued      int    `json:"queued"`
		Connections int    `json:"connections"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Queued)
	assert.Equal(t, 1, body.Connections)
}
