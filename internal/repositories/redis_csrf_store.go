package repositories

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/BradenHooton/authcore/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	csrfKeyPrefix        = "csrf:token:"
	csrfSessionKeyPrefix = "csrf:session:"
)

// consumeScript checks session binding, used flag and expiry, then flips used,
// all inside one script execution.
var consumeScript = redis.NewScript(`
local sid = redis.call('HGET', KEYS[1], 'session')
if not sid or sid ~= ARGV[1] then
	return 0
end
if redis.call('HGET', KEYS[1], 'used') == '1' then
	return 0
end
local exp = tonumber(redis.call('HGET', KEYS[1], 'exp'))
if not exp or exp <= tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], 'used', '1')
return 1
`)

// RedisCSRFStore keeps CSRF tokens in Redis with native key expiry
type RedisCSRFStore struct {
	client redis.UniversalClient
}

func NewRedisCSRFStore(client redis.UniversalClient) *RedisCSRFStore {
	return &RedisCSRFStore{client: client}
}

func (s *RedisCSRFStore) CreateCSRFToken(ctx context.Context, token *models.CSRFToken) error {
	key := csrfKeyPrefix + token.TokenHash
	sessionKey := csrfSessionKeyPrefix + token.SessionID

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"session", token.SessionID,
			"used", "0",
			"exp", strconv.FormatInt(token.ExpiresAt.UnixMilli(), 10),
		)
		pipe.PExpireAt(ctx, key, token.ExpiresAt)
		pipe.SAdd(ctx, sessionKey, token.TokenHash)
		pipe.PExpireAt(ctx, sessionKey, token.ExpiresAt.Add(time.Minute))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: redis csrf create: %v", models.ErrStorage, err)
	}
	return nil
}

func (s *RedisCSRFStore) ConsumeCSRFToken(ctx context.Context, tokenHash, sessionID string, now time.Time) (bool, error) {
	res, err := consumeScript.Run(ctx, s.client,
		[]string{csrfKeyPrefix + tokenHash},
		sessionID, strconv.FormatInt(now.UnixMilli(), 10),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: redis csrf consume: %v", models.ErrStorage, err)
	}
	return res == 1, nil
}

func (s *RedisCSRFStore) DeleteCSRFTokensForSessions(ctx context.Context, sessionIDs []string) error {
	for _, sid := range sessionIDs {
		sessionKey := csrfSessionKeyPrefix + sid
		hashes, err := s.client.SMembers(ctx, sessionKey).Result()
		if err != nil {
			return fmt.Errorf("%w: redis csrf lookup: %v", models.ErrStorage, err)
		}

		keys := make([]string, 0, len(hashes)+1)
		for _, h := range hashes {
			keys = append(keys, csrfKeyPrefix+h)
		}
		keys = append(keys, sessionKey)

		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("%w: redis csrf delete: %v", models.ErrStorage, err)
		}
	}
	return nil
}

// DeleteExpiredCSRFTokens is a no-op; Redis expires keys itself
func (s *RedisCSRFStore) DeleteExpiredCSRFTokens(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}
