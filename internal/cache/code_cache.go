package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CodeCache is the secondary index resolving join codes to session ids.
// Codes are stored uppercase; callers normalize before lookup.
type CodeCache interface {
	// Claim reserves code for sessionID. Returns false when the code is
	// already taken by a live session (generation collision).
	Claim(ctx context.Context, code, sessionID string, ttl time.Duration) (bool, error)
	Resolve(ctx context.Context, code string) (string, error)
	Release(ctx context.Context, code string) error
}

type codeCache struct {
	client *redis.Client
}

func NewCodeCache(client *redis.Client) CodeCache {
	return &codeCache{client: client}
}

func (c *codeCache) key(code string) string {
	return fmt.Sprintf("code:%s", code)
}

func (c *codeCache) Claim(ctx context.Context, code, sessionID string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, c.key(code), sessionID, ttl).Result()
}

func (c *codeCache) Resolve(ctx context.Context, code string) (string, error) {
	sessionID, err := c.client.Get(ctx, c.key(code)).Result()
	if err == redis.Nil {
		return "", nil // Code not claimed
	}
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

func (c *codeCache) Release(ctx context.Context, code string) error {
	return c.client.Del(ctx, c.key(code)).Err()
}
