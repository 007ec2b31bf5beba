package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Pranay-ai/tic-tac-toe-be/internal/game"
)

func TestFeed_PushesLeaderboardAfterWins(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := Connect(ctx, mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	rec := NewRedisRecorder(rdb)

	var (
		mu   sync.Mutex
		last []LeaderboardEntry
	)
	done := make(chan error, 1)
	go func() {
		done <- NewFeed(rdb, rec, 5, zap.NewNop()).Run(ctx, func(entries []LeaderboardEntry) {
			mu.Lock()
			last = entries
			mu.Unlock()
		})
	}()

	// Wins published before the subscription is live are missed, so keep
	// reporting until one arrives.
	require.Eventually(t, func() bool {
		assert.NoError(t, rec.Report(ctx, Report{Username: "alice", Result: game.ResultWin, RoomID: "r"}))
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 1
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "alice", last[0].Name)
	assert.GreaterOrEqual(t, last[0].Score, float64(1))
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}
}

func TestFeed_LossesAreNotPublished(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := Connect(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	sub := rdb.Subscribe(context.Background(), leaderboardChannel)
	defer sub.Close()
	_, err = sub.Receive(context.Background())
	require.NoError(t, err)

	rec := NewRedisRecorder(rdb)
	require.NoError(t, rec.Report(context.Background(), Report{Username: "bob", Result: game.ResultLose}))
	require.NoError(t, rec.Report(context.Background(), Report{Username: "carol", Result: game.ResultWin}))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "carol", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no leaderboard update published")
	}
}
