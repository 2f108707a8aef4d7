package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/invoicing/internal/config"
)

const keyOrgWrites = "invoicing:ratelimit:writes:org:%s"

// WriteLimiter throttles mutating API calls per organization.
type WriteLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewWriteLimiter returns nil unless rate limiting is enabled and redis is
// available. A nil limiter allows everything.
func NewWriteLimiter(cfg config.Config, client *redis.Client) (*WriteLimiter, error) {
	if !cfg.RateLimit.Enabled || client == nil {
		return nil, nil
	}
	if cfg.RateLimit.Rate <= 0 || cfg.RateLimit.Burst <= 0 {
		return nil, ErrInvalidRate
	}
	return newWriteLimiter(client, cfg.RateLimit.Rate, cfg.RateLimit.Burst), nil
}

func newWriteLimiter(client redis.Scripter, rate float64, burst int) *WriteLimiter {
	return &WriteLimiter{
		bucket: NewTokenBucket(client),
		rate:   rate,
		burst:  burst,
	}
}

func (l *WriteLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *WriteLimiter) AllowOrg(ctx context.Context, orgID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyOrgWrites, strings.TrimSpace(orgID)), l.rate, l.burst)
}
