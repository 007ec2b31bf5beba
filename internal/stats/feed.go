package stats

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Feed follows leaderboard changes published by any server instance sharing
// the Redis database.
type Feed struct {
	rdb    *redis.Client
	board  Leaderboard
	size   int
	logger *zap.Logger
}

func NewFeed(rdb *redis.Client, board Leaderboard, size int, logger *zap.Logger) *Feed {
	if size <= 0 {
		size = defaultTopCount
	}
	return &Feed{rdb: rdb, board: board, size: size, logger: logger.Named("feed")}
}

// Run calls fn with the current top entries after every recorded win until
// ctx is cancelled.
func (f *Feed) Run(ctx context.Context, fn func([]LeaderboardEntry)) error {
	sub := f.rdb.Subscribe(ctx, leaderboardChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("error subscribing to %s: %w", leaderboardChannel, err)
	}
	f.logger.Info("subscribed to leaderboard updates")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			entries, err := f.board.Top(ctx, f.size)
			if err != nil {
				f.logger.Error("error getting leaderboard", zap.String("winner", msg.Payload), zap.Error(err))
				continue
			}
			fn(entries)
		}
	}
}
