package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/slotworks/vendo/internal/config"
)

const keyWebhook = "ratelimit:webhook:%s"

// WebhookLimiter throttles the public payment webhook per source address. The
// gateway retries aggressively on slow responses; the bucket absorbs bursts
// without letting a misbehaving sender starve the handler.
type WebhookLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewWebhookLimiter(cfg config.Config, client *redis.Client) *WebhookLimiter {
	if cfg.WebhookRate <= 0 || cfg.WebhookBurst <= 0 {
		return nil
	}
	return &WebhookLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.WebhookRate,
		burst:  cfg.WebhookBurst,
	}
}

func (l *WebhookLimiter) Allow(ctx context.Context, clientIP string) (bool, error) {
	if l == nil {
		return true, nil
	}
	clientIP = strings.TrimSpace(clientIP)
	if clientIP == "" {
		clientIP = "unknown"
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyWebhook, clientIP), l.rate, l.burst)
}
