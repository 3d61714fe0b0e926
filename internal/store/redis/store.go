package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/shrimpsizemoose/examportal/internal/store"
)

const collectionKeyTpl = "portal:collection:%s" // portal:collection:${name} -> hash{payload, revision}

// saveScript writes the payload only while the stored revision still equals
// ARGV[2]; it returns the new revision or -1.
var saveScript = goredis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[1], 'revision') or '0')
if current ~= tonumber(ARGV[2]) then
	return -1
end
redis.call('HSET', KEYS[1], 'payload', ARGV[1], 'revision', current + 1)
return current + 1
`)

type RedisStore struct {
	client *goredis.Client
}

func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := goredis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *goredis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func key(name string) string {
	return fmt.Sprintf(collectionKeyTpl, name)
}

func (s *RedisStore) Load(ctx context.Context, name string) (store.Snapshot, error) {
	fields, err := s.client.HMGet(ctx, key(name), "payload", "revision").Result()
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("failed to load collection %s: %w", name, err)
	}
	payload, ok := fields[0].(string)
	if !ok {
		return store.Snapshot{}, store.ErrNotFound
	}
	revision, err := parseRevision(fields[1])
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("failed to load collection %s: %w", name, err)
	}
	return store.Snapshot{Payload: []byte(payload), Revision: revision}, nil
}

func (s *RedisStore) Revision(ctx context.Context, name string) (int64, error) {
	raw, err := s.client.HGet(ctx, key(name), "revision").Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read revision of %s: %w", name, err)
	}
	return parseRevision(raw)
}

func (s *RedisStore) Save(ctx context.Context, name string, payload []byte, expected int64) (int64, error) {
	revision, err := saveScript.Run(ctx, s.client, []string{key(name)}, string(payload), expected).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to save collection %s: %w", name, err)
	}
	if revision < 0 {
		return 0, fmt.Errorf("collection %s at revision %d: %w", name, expected, store.ErrConflict)
	}
	return revision, nil
}

func parseRevision(v interface{}) (int64, error) {
	raw, ok := v.(string)
	if !ok {
		return 0, nil
	}
	revision, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad revision %q: %w", raw, err)
	}
	return revision, nil
}

func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
