// Package ratelimit throttles user actions per (user, action) pair.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/reelcast/reelcast/internal/domain"
	"golang.org/x/time/rate"
)

// Defaults used when the configuration leaves the limits unset
const (
	DefaultPerMinute = 10
	DefaultBurst     = 5
)

type key struct {
	user   string
	action string
}

// Limiter is a local token bucket per (user, action), optionally backed by
// the backend's check_rate_limit procedure.
type Limiter struct {
	perMinute int
	burst     int
	remote    domain.Procedures
	logger    *slog.Logger

	mu      sync.Mutex
	buckets map[key]*rate.Limiter
}

// New creates a Limiter. remote may be nil to rely on local buckets only.
func New(perMinute, burst int, remote domain.Procedures, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	if perMinute <= 0 {
		perMinute = DefaultPerMinute
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &Limiter{
		perMinute: perMinute,
		burst:     burst,
		remote:    remote,
		logger:    logger,
		buckets:   make(map[key]*rate.Limiter),
	}
}

func (l *Limiter) bucket(k key) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[k]
	if !ok {
		b = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.burst)
		l.buckets[k] = b
	}
	return b
}

// Allow consumes one token for the action and returns domain.ErrRateLimited
// when none is left. The remote check fails open on transport errors.
func (l *Limiter) Allow(ctx context.Context, userID, action string) error {
	if !l.bucket(key{user: userID, action: action}).Allow() {
		l.logger.Debug("rate limited locally", "userID", userID, "action", action)
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, action)
	}
	if l.remote == nil {
		return nil
	}

	var allowed bool
	err := l.remote.Call(ctx, domain.ProcCheckRateLimit, map[string]any{
		"p_user_id": userID,
		"p_action":  action,
	}, &allowed)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case err != nil:
		l.logger.Warn("remote rate limit check failed, allowing", "action", action, "error", err)
		return nil
	case !allowed:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, action)
	}
	return nil
}

// Reset forgets all buckets of a user (after sign-out)
func (l *Limiter) Reset(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.buckets {
		if k.user == userID {
			delete(l.buckets, k)
		}
	}
}
