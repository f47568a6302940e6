package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// LockRepo guards one fulfillment invocation per payment. The lock is
// advisory: the terminal payment write is still a compare-and-swap, so a lock
// lost to TTL expiry cannot double-credit.
type LockRepo struct {
	client *goredis.Client
}

func NewLockRepo(client *goredis.Client) *LockRepo {
	return &LockRepo{client: client}
}

func (r *LockRepo) Acquire(ctx context.Context, paymentID int64, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if paymentID <= 0 || ttl <= 0 {
		return false, fmt.Errorf("invalid lock payload")
	}

	ok, err := r.client.SetNX(ctx, lockKey(paymentID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire fulfillment lock: %w", err)
	}

	return ok, nil
}

func (r *LockRepo) Release(ctx context.Context, paymentID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if paymentID <= 0 {
		return fmt.Errorf("invalid payment id")
	}

	if err := r.client.Del(ctx, lockKey(paymentID)).Err(); err != nil {
		return fmt.Errorf("release fulfillment lock: %w", err)
	}

	return nil
}

func lockKey(paymentID int64) string {
	return fmt.Sprintf("fulfill:lock:%d", paymentID)
}
