// Package throttle locks out repeated failed logins using Redis counters.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"securecms.org/internal/config"
)

// ErrRedisUnavailable wraps any Redis failure. Callers fail closed on it.
var ErrRedisUnavailable = errors.New("throttle: redis unavailable")

// Lockout counts failures per key inside a window. Once the count reaches
// the configured maximum the key stays locked until the window expires.
type Lockout struct {
	redis  redis.Cmdable
	max    int64
	window time.Duration
	prefix string
}

// New builds a Lockout from the login configuration. MaxAttempts 0 disables
// locking; failures are still counted.
func New(client redis.Cmdable, cfg config.LoginConfig) (*Lockout, error) {
	if client == nil {
		return nil, errors.New("throttle: redis client is required")
	}
	if cfg.MaxAttempts < 0 || cfg.Lockout <= 0 {
		return nil, fmt.Errorf("throttle: invalid limits %d/%s", cfg.MaxAttempts, cfg.Lockout)
	}
	return &Lockout{redis: client, max: int64(cfg.MaxAttempts), window: cfg.Lockout, prefix: "throttle:"}, nil
}

// Allowed reports whether key may attempt again.
func (l *Lockout) Allowed(ctx context.Context, key string) (bool, error) {
	if l.max == 0 {
		return true, nil
	}
	count, err := l.redis.Get(ctx, l.prefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return count < l.max, nil
}

// failureScript increments the counter and arms its expiry in one step. A
// counter left without a TTL is re-armed so it cannot lock a key forever.
var failureScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 or redis.call("PTTL", KEYS[1]) == -1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Failure counts one failed attempt. The window starts at the first failure.
func (l *Lockout) Failure(ctx context.Context, key string) error {
	if err := failureScript.Run(ctx, l.redis, []string{l.prefix + key}, l.window.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Reset clears the counter after a successful login.
func (l *Lockout) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Remaining returns how long key stays locked, or zero when it is not locked.
func (l *Lockout) Remaining(ctx context.Context, key string) (time.Duration, error) {
	ok, err := l.Allowed(ctx, key)
	if err != nil || ok {
		return 0, err
	}
	ttl, err := l.redis.TTL(ctx, l.prefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
