package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// advanceScript sets HSET key field ts only when ts is newer than the stored
// value. Timestamps are unix microseconds.
var advanceScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur and tonumber(cur) >= tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// LastSeenIndex keeps the newest telemetry timestamp per asset in a Redis hash.
type LastSeenIndex struct {
	rdb         *redis.Client
	key         string
	cachePrefix string
	logger      *zap.Logger
}

// NewLastSeenIndex creates an index stored under key. When cachePrefix is set,
// <cachePrefix><assetID> is deleted whenever the asset's last-seen advances.
func NewLastSeenIndex(rdb *redis.Client, key, cachePrefix string, logger *zap.Logger) *LastSeenIndex {
	return &LastSeenIndex{
		rdb:         rdb,
		key:         key,
		cachePrefix: cachePrefix,
		logger:      logger,
	}
}

// Advance records ts for assetID unless a newer or equal value is stored. It
// reports whether the value moved forward.
func (i *LastSeenIndex) Advance(ctx context.Context, assetID string, ts time.Time) (bool, error) {
	n, err := advanceScript.Run(ctx, i.rdb, []string{i.key}, assetID, ts.UnixMicro()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to advance last_seen for %s: %w", assetID, err)
	}
	if n == 0 {
		return false, nil
	}
	if i.cachePrefix != "" {
		if err := i.rdb.Del(ctx, i.cachePrefix+assetID).Err(); err != nil {
			i.logger.Warn("Failed to invalidate asset cache",
				zap.String("asset_id", assetID),
				zap.Error(err),
			)
		}
	}
	return true, nil
}

// Get returns the last-seen time of assetID or ErrNotFound.
func (i *LastSeenIndex) Get(ctx context.Context, assetID string) (time.Time, error) {
	s, err := i.rdb.HGet(ctx, i.key, assetID).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last_seen for %s: %w", assetID, err)
	}
	return parseMicros(s)
}

// Count returns the number of assets ever seen.
func (i *LastSeenIndex) Count(ctx context.Context) (int64, error) {
	return i.rdb.HLen(ctx, i.key).Result()
}

// Ping checks Redis connectivity.
func (i *LastSeenIndex) Ping(ctx context.Context) error {
	return i.rdb.Ping(ctx).Err()
}

func parseMicros(s string) (time.Time, error) {
	us, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt last_seen value %q: %w", s, err)
	}
	return time.UnixMicro(us).UTC(), nil
}
