// Package cache keeps short-lived account snapshots in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/ayo6706/ledger-transfer/internal/observability"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix  = "account"
	DefaultTTL = 5 * time.Minute
)

// setScript writes a snapshot unless an invalidation already recorded a
// newer version for the account.
var setScript = redis.NewScript(`
local floor = redis.call('GET', KEYS[2])
if floor and tonumber(floor) > tonumber(ARGV[2]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// invalidateScript raises the version floor and drops the snapshot.
var invalidateScript = redis.NewScript(`
local floor = redis.call('GET', KEYS[2])
if not floor or tonumber(floor) < tonumber(ARGV[1]) then
	redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
end
redis.call('DEL', KEYS[1])
return 1
`)

// AccountCache stores accounts keyed by account number. Redis failures
// degrade to cache misses and are only logged. Invalidation leaves a version
// floor behind so a reader that loaded the row before the change cannot put
// the older snapshot back.
type AccountCache struct {
	redis redis.Cmdable
	ttl   time.Duration
}

func NewAccountCache(rdb redis.Cmdable, ttl time.Duration) *AccountCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &AccountCache{redis: rdb, ttl: ttl}
}

func (c *AccountCache) Get(ctx context.Context, number string) (*models.Account, bool) {
	val, err := c.redis.Get(ctx, key(number)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("account cache get failed", zap.String("account_number", number), zap.Error(err))
			observability.IncrementAccountCache("error")
			return nil, false
		}
		observability.IncrementAccountCache("miss")
		return nil, false
	}

	var a models.Account
	if err := json.Unmarshal(val, &a); err != nil {
		zap.L().Warn("discarding corrupt account snapshot", zap.String("account_number", number), zap.Error(err))
		if err := c.redis.Del(context.WithoutCancel(ctx), key(number)).Err(); err != nil {
			zap.L().Warn("account cache delete failed", zap.String("account_number", number), zap.Error(err))
		}
		observability.IncrementAccountCache("error")
		return nil, false
	}
	observability.IncrementAccountCache("hit")
	return &a, true
}

func (c *AccountCache) Set(ctx context.Context, a *models.Account) {
	if a == nil {
		return
	}
	payload, err := json.Marshal(a)
	if err != nil {
		zap.L().Warn("marshal account snapshot", zap.Error(err))
		return
	}
	keys := []string{key(a.AccountNumber), versionKey(a.AccountNumber)}
	written, err := setScript.Run(ctx, c.redis, keys, payload, a.Version, c.ttl.Milliseconds()).Int()
	if err != nil {
		zap.L().Warn("account cache set failed", zap.String("account_number", a.AccountNumber), zap.Error(err))
		return
	}
	if written == 0 {
		observability.IncrementAccountCache("stale")
	}
}

// Invalidate drops the snapshots of accounts whose committed state is given.
func (c *AccountCache) Invalidate(ctx context.Context, accounts ...*models.Account) {
	ctx = context.WithoutCancel(ctx)
	for _, a := range accounts {
		if a == nil {
			continue
		}
		keys := []string{key(a.AccountNumber), versionKey(a.AccountNumber)}
		if err := invalidateScript.Run(ctx, c.redis, keys, a.Version, c.ttl.Milliseconds()).Err(); err != nil {
			zap.L().Warn("account cache invalidate failed", zap.String("account_number", a.AccountNumber), zap.Error(err))
			continue
		}
		observability.IncrementAccountCache("invalidated")
	}
}

func key(number string) string {
	return fmt.Sprintf("%s:%s", keyPrefix, number)
}

func versionKey(number string) string {
	return fmt.Sprintf("%s:%s:version", keyPrefix, number)
}
