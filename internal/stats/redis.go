package stats

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

// Connect parses redisURL, opens a client and pings it. A bare "host:port"
// is accepted for local development.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	if !strings.Contains(redisURL, "://") {
		redisURL = "redis://" + redisURL
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("could not parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", opt.Addr, err)
	}
	return rdb, nil
}
