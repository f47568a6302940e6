package rate

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	loginMinuteWindow = time.Minute
	login10SecWindow  = 10 * time.Second
)

type WindowStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	WindowState(ctx context.Context, key string) (int64, time.Duration, error)
}

// LoginLimiter throttles credential guessing against /auth/login. Windows are
// keyed per username so a burst against one account never locks out the rest.
type LoginLimiter struct {
	store     WindowStore
	perMinute int
	per10Sec  int
}

func NewLoginLimiter(store WindowStore, perMinute, per10Sec int) *LoginLimiter {
	if perMinute < 0 {
		perMinute = 0
	}
	if per10Sec < 0 {
		per10Sec = 0
	}

	return &LoginLimiter{
		store:     store,
		perMinute: perMinute,
		per10Sec:  per10Sec,
	}
}

// AllowLogin counts one attempt and reports whether it may proceed. A zero
// limit disables the corresponding window.
func (l *LoginLimiter) AllowLogin(ctx context.Context, username string) (int64, bool, error) {
	username = normalizeUsername(username)
	if username == "" {
		return 0, false, fmt.Errorf("username is required")
	}
	if l.store == nil {
		return 0, false, fmt.Errorf("login limiter store is nil")
	}

	retryAfterSec := int64(0)

	if l.perMinute > 0 {
		count, ttl, err := l.store.IncrementWindow(ctx, minuteKey(username), loginMinuteWindow)
		if err != nil {
			return 0, false, err
		}
		if count > int64(l.perMinute) {
			retryAfterSec = maxRetry(retryAfterSec, ceilSeconds(ttl))
		}
	}

	if l.per10Sec > 0 {
		count, ttl, err := l.store.IncrementWindow(ctx, tenSecKey(username), login10SecWindow)
		if err != nil {
			return 0, false, err
		}
		if count > int64(l.per10Sec) {
			retryAfterSec = maxRetry(retryAfterSec, ceilSeconds(ttl))
		}
	}

	if retryAfterSec > 0 {
		return retryAfterSec, false, nil
	}

	return 0, true, nil
}

// RetryAfter reports the current wait without consuming an attempt.
func (l *LoginLimiter) RetryAfter(ctx context.Context, username string) (int64, error) {
	username = normalizeUsername(username)
	if username == "" {
		return 0, fmt.Errorf("username is required")
	}
	if l.store == nil {
		return 0, fmt.Errorf("login limiter store is nil")
	}

	retryAfterSec := int64(0)

	if l.perMinute > 0 {
		count, ttl, err := l.store.WindowState(ctx, minuteKey(username))
		if err != nil {
			return 0, err
		}
		if count >= int64(l.perMinute) {
			retryAfterSec = maxRetry(retryAfterSec, ceilSeconds(ttl))
		}
	}

	if l.per10Sec > 0 {
		count, ttl, err := l.store.WindowState(ctx, tenSecKey(username))
		if err != nil {
			return 0, err
		}
		if count >= int64(l.per10Sec) {
			retryAfterSec = maxRetry(retryAfterSec, ceilSeconds(ttl))
		}
	}

	return retryAfterSec, nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func minuteKey(username string) string {
	return "rate:login:min:" + username
}

func tenSecKey(username string) string {
	return "rate:login:10s:" + username
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	sec := int64(d / time.Second)
	if d%time.Second != 0 {
		sec++
	}
	if sec <= 0 {
		sec = 1
	}
	return sec
}

func maxRetry(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
