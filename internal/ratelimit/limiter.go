// ABOUTME: Redis fixed-window limiter for message sends
// ABOUTME: One counter per user per window slot, shared by every gateway process

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces limiter keys in Redis
const DefaultPrefix = "microbe:ratelimit"

// redisTimeout bounds a single limiter round trip
const redisTimeout = 2 * time.Second

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Limiter decides whether a user may send another message.
type Limiter interface {
	Allow(ctx context.Context, userID int64) bool
}

// FixedWindow limits sends per user in fixed time windows.
type FixedWindow struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
	logger *slog.Logger
}

var _ Limiter = (*FixedWindow)(nil)

// NewFixedWindow creates a limiter allowing limit sends per window.
// An empty prefix uses DefaultPrefix.
func NewFixedWindow(client redis.UniversalClient, prefix string, limit int, window time.Duration, logger *slog.Logger) (*FixedWindow, error) {
	if client == nil {
		return nil, errors.New("rate limiter requires a redis client")
	}
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FixedWindow{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
		logger: logger.With("component", "ratelimit"),
	}, nil
}

// Allow returns true when userID is within quota for the current window.
// On Redis failures it fails closed and returns false.
func (l *FixedWindow) Allow(ctx context.Context, userID int64) bool {
	windowMs := l.window.Milliseconds()
	if windowMs <= 0 {
		return true
	}
	slot := l.now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:user:%d:%d", l.prefix, userID, slot)

	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	count, err := fixedWindowScript.Run(ctx, l.client, []string{key}, windowMs).Int64()
	if err != nil {
		l.logger.Warn("rate limit check failed, denying", "user_id", userID, "error", err)
		return false
	}
	if count > int64(l.limit) {
		l.logger.Debug("rate limited", "user_id", userID, "count", count, "limit", l.limit)
		return false
	}
	return true
}
