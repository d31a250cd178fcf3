package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"coord-service/internal/client"
	"coord-service/internal/models"
	"coord-service/internal/util"
)

const (
	// memberCachePrefix + decimal user id holds the JSON account document.
	memberCachePrefix = "db:member:"
	// memberFenceSuffix marks a recently invalidated member. While it exists
	// no reader may repopulate the entry.
	memberFenceSuffix = ":fence"

	DefaultAccountTTL = 5 * time.Minute
	// accountFenceTTL bounds how long a store read may take and still be
	// refused as possibly stale.
	accountFenceTTL = 10 * time.Second
)

// fencedSetScript writes KEYS[1] with a PX of ARGV[2] unless the fence
// KEYS[2] is present. Returns 1 when written.
var fencedSetScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// AccountCache is the shared read-through cache in front of the account
// store. Entries expire after ttl; writers invalidate by id and fence the id
// so a read that raced the write cannot put its stale copy back.
type AccountCache struct {
	client *client.RedisClient
	ttl    time.Duration
}

func NewAccountCache(client *client.RedisClient, ttl time.Duration) *AccountCache {
	if ttl <= 0 {
		ttl = DefaultAccountTTL
	}
	return &AccountCache{client: client, ttl: ttl}
}

func memberKey(userID int64) string {
	return memberCachePrefix + strconv.FormatInt(userID, 10)
}

// Get returns the cached account, or found=false on a miss.
func (c *AccountCache) Get(ctx context.Context, userID int64) (*models.Account, bool, error) {
	raw, err := c.client.Get(ctx, memberKey(userID))
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cached account: %w", err)
	}

	var acct models.Account
	if err := json.Unmarshal([]byte(raw), &acct); err != nil {
		util.Warn("Dropping undecodable cached account",
			zap.Int64("user_id", userID),
			zap.Error(err))
		_ = c.client.Del(ctx, memberKey(userID))
		return nil, false, nil
	}
	return &acct, true, nil
}

// Set caches acct unless its id was invalidated within the fence window.
func (c *AccountCache) Set(ctx context.Context, acct *models.Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("failed to encode account: %w", err)
	}
	key := memberKey(acct.UserID)
	res, err := c.client.RunScript(ctx, fencedSetScript, []string{key, key + memberFenceSuffix},
		string(data), c.ttl.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to cache account: %w", err)
	}
	if n, _ := res.(int64); n == 0 {
		util.Debug("Skipped caching recently invalidated account", zap.Int64("user_id", acct.UserID))
	}
	return nil
}

// Invalidate drops cached copies for ids so the next read goes to the store.
func (c *AccountCache) Invalidate(ctx context.Context, userIDs ...int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	pipe := c.client.TxPipeline()
	for _, id := range userIDs {
		key := memberKey(id)
		pipe.Del(ctx, key)
		pipe.Set(ctx, key+memberFenceSuffix, 1, accountFenceTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to invalidate cached accounts",
			zap.Int("count", len(userIDs)),
			zap.Error(err))
		return fmt.Errorf("failed to invalidate cached accounts: %w", err)
	}
	util.Debug("Cached accounts invalidated", zap.Int("count", len(userIDs)))
	return nil
}
