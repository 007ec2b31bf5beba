package stats

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/Pranay-ai/tic-tac-toe-be/internal/game"
)

const (
	leaderboardKey  = "leaderboard:wins"
	playerStatsKey  = "stats:"
	defaultTopCount = 10

	// leaderboardChannel carries the winner's name after every recorded win.
	leaderboardChannel = "leaderboard:updates"
)

type LeaderboardEntry struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Record is a player's lifetime tally.
type Record struct {
	Wins   int64 `json:"wins"`
	Losses int64 `json:"losses"`
	Draws  int64 `json:"draws"`
}

// Leaderboard answers leaderboard queries.
type Leaderboard interface {
	Top(ctx context.Context, n int) ([]LeaderboardEntry, error)
}

// RedisRecorder keeps per-player win/lose/draw counters in a hash and the
// win leaderboard in a sorted set.
type RedisRecorder struct {
	rdb *redis.Client
}

func NewRedisRecorder(rdb *redis.Client) *RedisRecorder {
	return &RedisRecorder{rdb: rdb}
}

func (r *RedisRecorder) Report(ctx context.Context, rep Report) error {
	if err := rep.Validate(); err != nil {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.HIncrBy(ctx, playerStatsKey+rep.Username, string(rep.Result), 1)
	if rep.Result == game.ResultWin {
		pipe.ZIncrBy(ctx, leaderboardKey, 1, rep.Username)
		pipe.Publish(ctx, leaderboardChannel, rep.Username)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("error updating stats for %s: %w", rep.Username, err)
	}
	return nil
}

// Top returns the n players with the most wins, best first.
func (r *RedisRecorder) Top(ctx context.Context, n int) ([]LeaderboardEntry, error) {
	if n <= 0 {
		n = defaultTopCount
	}
	scores, err := r.rdb.ZRevRangeWithScores(ctx, leaderboardKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("error reading leaderboard: %w", err)
	}

	leaderboard := make([]LeaderboardEntry, 0, len(scores))
	for _, z := range scores {
		name, _ := z.Member.(string)
		leaderboard = append(leaderboard, LeaderboardEntry{Name: name, Score: z.Score})
	}
	return leaderboard, nil
}

func (r *RedisRecorder) Record(ctx context.Context, username string) (Record, error) {
	fields, err := r.rdb.HGetAll(ctx, playerStatsKey+username).Result()
	if err != nil {
		return Record{}, fmt.Errorf("error reading stats for %s: %w", username, err)
	}
	var rec Record
	for field, dst := range map[string]*int64{
		string(game.ResultWin):  &rec.Wins,
		string(game.ResultLose): &rec.Losses,
		string(game.ResultDraw): &rec.Draws,
	} {
		v, ok := fields[field]
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Record{}, fmt.Errorf("error parsing %s count for %s: %w", field, username, err)
		}
		*dst = n
	}
	return rec, nil
}
