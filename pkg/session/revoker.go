package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revoker remembers logged-out token ids until the token would have expired
// anyway. Without redis it falls back to process memory.
type Revoker struct {
	rdb *redis.Client

	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewRevoker(rdb *redis.Client) *Revoker {
	return &Revoker{rdb: rdb, revoked: make(map[string]time.Time), now: time.Now}
}

func key(jti string) string {
	return fmt.Sprintf("session:revoked:%s", jti)
}

func (r *Revoker) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if r.rdb != nil {
		return r.rdb.SetEx(ctx, key(jti), "1", ttl).Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for id, exp := range r.revoked {
		if !exp.After(now) {
			delete(r.revoked, id)
		}
	}
	r.revoked[jti] = now.Add(ttl)
	return nil
}

func (r *Revoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if r.rdb != nil {
		n, err := r.rdb.Exists(ctx, key(jti)).Result()
		if err != nil {
			return false, fmt.Errorf("check revoked token: %w", err)
		}
		return n > 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.revoked[jti]
	return ok && exp.After(r.now()), nil
}
