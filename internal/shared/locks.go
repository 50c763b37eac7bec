package shared

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ReconcileLockKey guards every reconciliation write. A property-scoped pass
// and an all-properties pass touch the same units, so all scopes share it.
const ReconcileLockKey = "turnover:reconcile:lock"

// ReconcileScopeKey names a property scope; an empty property means all.
func ReconcileScopeKey(property string) string {
	scope := strings.TrimSpace(property)
	if scope == "" {
		scope = "*"
	}
	return fmt.Sprintf("turnover:reconcile:%s", scope)
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker hands out short-lived, token-guarded locks.
type RedisLocker struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisLocker constructs a locker whose locks expire after ttl.
func NewRedisLocker(client redis.Cmdable, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

// TryLock attempts to take key without waiting. When acquired, release must be
// called to free it before the TTL elapses.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (release func(context.Context), acquired bool, err error) {
	if l == nil || l.client == nil {
		return func(context.Context) {}, true, nil
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("shared: lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func(ctx context.Context) {
		_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}, true, nil
}
