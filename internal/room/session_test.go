package room_test

import (
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/Pranay-ai/tic-tac-toe-be/internal/conn/conntest"
	"github.com/Pranay-ai/tic-tac-toe-be/internal/game"
	"github.com/Pranay-ai/tic-tac-toe-be/internal/room"
)

func startedSession(t *testing.T, opts ...room.Option) *room.Session {
	t.Helper()
	s := room.NewSession("room_1", opts...)
	_, err := s.Join("alice", conntest.NewNamed("c-alice"))
	require.NoError(t, err)
	res, err := s.Join("bob", conntest.NewNamed("c-bob"))
	require.NoError(t, err)
	require.True(t, res.Started)
	return s
}

func play(t *testing.T, s *room.Session, moves ...int) room.State {
	t.Helper()
	var st room.State
	for i, idx := range moves {
		who := "alice"
		if i%2 == 1 {
			who = "bob"
		}
		var err error
		st, err = s.ApplyMove(who, idx)
		require.NoError(t, err, "move %d by %s", idx, who)
	}
	return st
}

func TestSession_Join(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(s *room.Session)
		identity string
		wantErr  error
		validate func(t *testing.T, res room.JoinResult)
	}{
		{
			name:     "first joiner plays X and waits",
			setup:    func(s *room.Session) {},
			identity: "alice",
			validate: func(t *testing.T, res room.JoinResult) {
				assert.Equal(t, game.X, res.Symbol)
				assert.False(t, res.Started)
				assert.Equal(t, room.StatusReady, res.State.Status)
			},
		},
		{
			name: "second joiner plays O and starts the game",
			setup: func(s *room.Session) {
				_, _ = s.Join("alice", conntest.NewRecorder())
			},
			identity: "bob",
			validate: func(t *testing.T, res room.JoinResult) {
				assert.Equal(t, game.O, res.Symbol)
				assert.True(t, res.Started)
				assert.Equal(t, room.StatusInProgress, res.State.Status)
				assert.Equal(t, game.X, res.State.Turn)
				assert.Equal(t, 1, res.State.Game)
				assert.Equal(t, "bob", res.State.Opponent("alice"))
			},
		},
		{
			name: "third joiner is rejected",
			setup: func(s *room.Session) {
				_, _ = s.Join("alice", conntest.NewRecorder())
				_, _ = s.Join("bob", conntest.NewRecorder())
			},
			identity: "carol",
			wantErr:  room.ErrSessionFull,
		},
		{
			name:     "empty identity is rejected",
			setup:    func(s *room.Session) {},
			identity: "",
			wantErr:  room.ErrEmptyIdentity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := room.NewSession("room_1")
			tt.setup(s)
			res, err := s.Join(tt.identity, conntest.NewRecorder())
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.validate(t, res)
		})
	}
}

func TestSession_JoinRebindsSeatedIdentity(t *testing.T) {
	s := startedSession(t)
	old := s.Handles()[0]

	fresh := conntest.NewNamed("c-alice-2")
	res, err := s.Join("alice", fresh)
	require.NoError(t, err)
	assert.Equal(t, game.X, res.Symbol)
	assert.False(t, res.Started)
	require.NotNil(t, res.Replaced)
	assert.Equal(t, old.ID(), res.Replaced.ID())
	assert.Len(t, s.Participants(), 2)
	assert.Equal(t, "c-alice-2", s.Participants()[0].Handle.ID())
}

func TestSession_ApplyMove(t *testing.T) {
	s := startedSession(t)

	st, err := s.ApplyMove("alice", 4)
	require.NoError(t, err)
	assert.Equal(t, game.X, st.Board[4])
	assert.Equal(t, game.O, st.Turn)
	assert.Equal(t, game.OutcomeNone, st.Outcome.Kind)

	tests := []struct {
		name     string
		identity string
		index    int
		wantErr  error
	}{
		{"wrong turn", "alice", 0, room.ErrNotYourTurn},
		{"occupied cell", "bob", 4, room.ErrCellOccupied},
		{"negative index", "bob", -1, room.ErrOutOfRange},
		{"index past board", "bob", 9, room.ErrOutOfRange},
		{"stranger", "mallory", 0, room.ErrNotParticipant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := s.Snapshot()
			_, err := s.ApplyMove(tt.identity, tt.index)
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, room.IsInvalidMove(err))
			assert.Equal(t, before, s.Snapshot())
		})
	}
}

func TestSession_Win(t *testing.T) {
	s := startedSession(t)
	st := play(t, s, 0, 3, 1, 4, 2)

	assert.Equal(t, game.Win(game.X), st.Outcome)
	assert.Equal(t, room.StatusFinished, st.Status)

	before := s.Snapshot()
	_, err := s.ApplyMove("bob", 8)
	require.ErrorIs(t, err, room.ErrInvalidState)
	assert.Equal(t, before, s.Snapshot())
}

func TestSession_Draw(t *testing.T) {
	s := startedSession(t)
	// X O X / X O O / O X X
	st := play(t, s, 0, 1, 2, 4, 3, 5, 7, 6, 8)

	assert.Equal(t, game.Draw(), st.Outcome)
	assert.Equal(t, room.StatusFinished, st.Status)
	assert.True(t, st.Board.Full())
}

func TestSession_Reset(t *testing.T) {
	t.Run("keep policy restarts with X", func(t *testing.T) {
		s := startedSession(t)
		play(t, s, 0, 3, 1, 4, 2)

		st := s.Reset()
		assert.Equal(t, room.StatusInProgress, st.Status)
		assert.Equal(t, game.Board{}, st.Board)
		assert.Equal(t, game.None(), st.Outcome)
		assert.Equal(t, game.X, st.Turn)
		assert.Equal(t, 2, st.Game)
		sym, _ := st.SymbolOf("alice")
		assert.Equal(t, game.X, sym)
	})

	t.Run("swap policy exchanges symbols", func(t *testing.T) {
		s := startedSession(t, room.WithRematchPolicy(room.RematchSwap))
		play(t, s, 0, 3, 1, 4, 2)

		st := s.Reset()
		sym, _ := st.SymbolOf("bob")
		assert.Equal(t, game.X, sym)
		assert.Equal(t, game.X, st.Turn)
		assert.Equal(t, "bob", s.Participants()[0].Identity)

		_, err := s.ApplyMove("bob", 0)
		require.NoError(t, err)
	})

	t.Run("single participant falls back to ready", func(t *testing.T) {
		s := startedSession(t)
		play(t, s, 0)
		_, err := s.Leave("bob")
		require.NoError(t, err)

		st := s.Reset()
		assert.Equal(t, room.StatusReady, st.Status)
		assert.Equal(t, game.Board{}, st.Board)
	})
}

func TestSession_Leave(t *testing.T) {
	s := startedSession(t)
	play(t, s, 0)

	res, err := s.Leave("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Remaining)
	require.NotNil(t, res.Peer)
	assert.Equal(t, "bob", res.Peer.Identity)
	assert.Equal(t, room.StatusReady, res.State.Status)

	_, err = s.ApplyMove("bob", 1)
	require.ErrorIs(t, err, room.ErrInvalidState)

	// The free X seat goes to the next joiner and the board starts over.
	join, err := s.Join("carol", conntest.NewRecorder())
	require.NoError(t, err)
	assert.Equal(t, game.X, join.Symbol)
	assert.True(t, join.Started)
	assert.Equal(t, game.Board{}, join.State.Board)
	assert.Equal(t, "carol", s.Participants()[0].Identity)

	_, err = s.Leave("carol")
	require.NoError(t, err)
	res, err = s.Leave("bob")
	require.NoError(t, err)
	assert.Zero(t, res.Remaining)
	assert.Nil(t, res.Peer)
	assert.Empty(t, s.Participants())

	_, err = s.Leave("bob")
	require.ErrorIs(t, err, room.ErrNotParticipant)
}

func TestSession_ConcurrentMovesSameTurn(t *testing.T) {
	for i := 0; i < 50; i++ {
		s := startedSession(t)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for j, cell := range []int{0, 8} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[j] = s.ApplyMove("alice", cell)
			}()
		}
		wg.Wait()

		accepted := 0
		for _, err := range errs {
			if err == nil {
				accepted++
				continue
			}
			assert.ErrorIs(t, err, room.ErrNotYourTurn)
		}
		assert.Equal(t, 1, accepted)
		st := s.Snapshot()
		assert.Equal(t, 1, count(st.Board, game.X))
		assert.Equal(t, game.O, st.Turn)
	}
}

// Any sequence of move attempts keeps the board consistent: cells are never
// overwritten, X leads O by at most one mark, and rejected moves change
// nothing.
func TestSession_PropertyMoveLegality(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := room.NewSession("prop")
		_, _ = s.Join("alice", conntest.NewRecorder())
		_, _ = s.Join("bob", conntest.NewRecorder())

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			who := rapid.SampledFrom([]string{"alice", "bob"}).Draw(t, "who")
			idx := rapid.IntRange(-2, 10).Draw(t, "index")
			before := s.Snapshot()
			mover, _ := before.SymbolOf(who)

			after, err := s.ApplyMove(who, idx)
			if err != nil {
				if !reflect.DeepEqual(s.Snapshot(), before) {
					t.Fatalf("rejected move changed state")
				}
				continue
			}
			for c := range before.Board {
				if before.Board[c] != game.Empty && after.Board[c] != before.Board[c] {
					t.Fatalf("cell %d overwritten", c)
				}
			}
			if !after.Outcome.Decided() && after.Turn == mover {
				t.Fatalf("turn stayed with mover %s", mover)
			}
			x, o := count(after.Board, game.X), count(after.Board, game.O)
			if x-o < 0 || x-o > 1 {
				t.Fatalf("mark counts out of balance: X=%d O=%d", x, o)
			}
			if rapid.Bool().Draw(t, "reset") && after.Outcome.Decided() {
				s.Reset()
			}
		}
	})
}

func count(b game.Board, s game.Symbol) int {
	n := 0
	for _, cell := range b {
		if cell == s {
			n++
		}
	}
	return n
}
