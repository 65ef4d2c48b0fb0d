package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect builds a Redis client from a redis:// URL or a host:port address
// and verifies it with a PING.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	trimmed := strings.TrimSpace(redisURL)
	if trimmed == "" {
		return nil, fmt.Errorf("cache: empty redis url")
	}
	var client *redis.Client
	if strings.HasPrefix(trimmed, "redis://") || strings.HasPrefix(trimmed, "rediss://") {
		opt, errParse := redis.ParseURL(trimmed)
		if errParse != nil {
			return nil, fmt.Errorf("cache: parse redis url: %w", errParse)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: trimmed})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping redis: %w", errPing)
	}
	return client, nil
}
