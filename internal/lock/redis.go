package lock

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"arrowhead/api/internal/clock"
)

// DefaultKeyPrefix namespaces lock hashes in a shared Redis.
const DefaultKeyPrefix = "objective-lock:"

// Each lock is a hash {user_id, team_member_id, expires_at(us)} whose TTL
// matches expires_at, so Redis performs the expiry sweep for every instance.
// Both scripts also compare expires_at against the caller's clock and drop
// records that are already due, so a lock is never live at expires_at.
var (
	acquireScript = redis.NewScript(`
local expires = redis.call('HGET', KEYS[1], 'expires_at')
if expires and tonumber(expires) <= tonumber(ARGV[5]) then
  redis.call('DEL', KEYS[1])
end
local holder = redis.call('HGET', KEYS[1], 'team_member_id')
if not holder then
  redis.call('HSET', KEYS[1], 'user_id', ARGV[1], 'team_member_id', ARGV[2], 'expires_at', ARGV[3])
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
  return {1, ARGV[1], ARGV[2], ARGV[3]}
end
if holder == ARGV[2] then
  redis.call('HSET', KEYS[1], 'expires_at', ARGV[3])
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
  return {2, redis.call('HGET', KEYS[1], 'user_id'), holder, ARGV[3]}
end
return {3, redis.call('HGET', KEYS[1], 'user_id'), holder, redis.call('HGET', KEYS[1], 'expires_at')}
`)

	releaseScript = redis.NewScript(`
local expires = redis.call('HGET', KEYS[1], 'expires_at')
if expires and tonumber(expires) <= tonumber(ARGV[2]) then
  redis.call('DEL', KEYS[1])
  return 2
end
local owner = redis.call('HGET', KEYS[1], 'user_id')
if not owner then
  return 2
end
if owner ~= ARGV[1] then
  return 3
end
redis.call('DEL', KEYS[1])
return 1
`)
)

// RedisStore shares locks across API instances through Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	clock  clock.Clock
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, prefix, nil), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, clk clock.Clock) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &RedisStore{client: client, prefix: prefix, clock: clk}
}

func (s *RedisStore) key(objectiveID string) string {
	return s.prefix + objectiveID
}

func (s *RedisStore) Acquire(ctx context.Context, objectiveID, userID, teamMemberID string) (AcquireResult, error) {
	now := s.clock.Now()
	values, err := acquireScript.Run(ctx, s.client, []string{s.key(objectiveID)},
		userID,
		teamMemberID,
		strconv.FormatInt(now.Add(Duration).UnixMicro(), 10),
		Duration.Milliseconds(),
		strconv.FormatInt(now.UnixMicro(), 10),
	).Slice()
	if err != nil {
		return AcquireResult{}, fmt.Errorf("acquire lock %s: %w", objectiveID, err)
	}
	if len(values) != 4 {
		return AcquireResult{}, fmt.Errorf("acquire lock %s: unexpected reply %v", objectiveID, values)
	}

	code, _ := values[0].(int64)
	rec, err := recordFromReply(values[1], values[2], values[3])
	if err != nil {
		return AcquireResult{}, fmt.Errorf("acquire lock %s: %w", objectiveID, err)
	}
	switch code {
	case 1:
		return AcquireResult{Outcome: Acquired, Record: rec}, nil
	case 2:
		return AcquireResult{Outcome: Renewed, Record: rec}, nil
	case 3:
		return AcquireResult{Outcome: Locked, Record: rec}, nil
	default:
		return AcquireResult{}, fmt.Errorf("acquire lock %s: unexpected outcome %d", objectiveID, code)
	}
}

func (s *RedisStore) Release(ctx context.Context, objectiveID, userID string) (ReleaseOutcome, error) {
	now := strconv.FormatInt(s.clock.Now().UnixMicro(), 10)
	code, err := releaseScript.Run(ctx, s.client, []string{s.key(objectiveID)}, userID, now).Int()
	if err != nil {
		return 0, fmt.Errorf("release lock %s: %w", objectiveID, err)
	}
	switch code {
	case 1:
		return Released, nil
	case 2:
		return NotFound, nil
	case 3:
		return Forbidden, nil
	default:
		return 0, fmt.Errorf("release lock %s: unexpected outcome %d", objectiveID, code)
	}
}

func (s *RedisStore) Peek(ctx context.Context, objectiveID, callerTeamMemberID string) (Status, error) {
	fields, err := s.client.HGetAll(ctx, s.key(objectiveID)).Result()
	if err != nil {
		return Status{}, fmt.Errorf("peek lock %s: %w", objectiveID, err)
	}
	if len(fields) == 0 {
		return Status{}, nil
	}
	rec, err := recordFromReply(fields["user_id"], fields["team_member_id"], fields["expires_at"])
	if err != nil {
		return Status{}, fmt.Errorf("peek lock %s: %w", objectiveID, err)
	}
	if rec.Expired(s.clock.Now()) {
		return Status{}, nil
	}
	return statusFor(rec, true, callerTeamMemberID), nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func recordFromReply(userID, teamMemberID, expiresAt any) (Record, error) {
	user, _ := userID.(string)
	member, _ := teamMemberID.(string)
	raw, _ := expiresAt.(string)
	micros, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("parse expires_at %q: %w", raw, err)
	}
	return Record{
		UserID:       user,
		TeamMemberID: member,
		ExpiresAt:    time.UnixMicro(micros).UTC(),
	}, nil
}
