package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/planner-api/pkg/config"
)

// Addr returns the host:port of the configured Redis server.
func Addr(cfg config.RedisConfig) string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

// NewRedis returns a configured Redis client.
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     Addr(cfg),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

// BlocksKey is the cache key of a user's block listing for one window.
func BlocksKey(userID string, from, to time.Time) string {
	return fmt.Sprintf("planner:blocks:%s:%d:%d", userID, from.UTC().Unix(), to.UTC().Unix())
}

// BlocksPattern matches every cached block listing of a user.
func BlocksPattern(userID string) string {
	return fmt.Sprintf("planner:blocks:%s:*", userID)
}
