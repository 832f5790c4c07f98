package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linksmith/linksmith/internal/app/model"
)

const (
	defaultKeyspace  = "linksmith:"
	defaultListLimit = 100
)

// RedisStore is the primary KVStore implementation. Values live at
// <keyspace><key> and the listing sidecar at <keyspace>meta:<key>; both
// share the same expiry. Sidecar and collaborator keys carry a ':' in
// their name, which the slug charset forbids, so listing can exclude them
// with a single rule.
type RedisStore struct {
	rdb      *redis.Client
	keyspace string
}

// NewRedisStore returns a KVStore backed by the given redis client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, keyspace: defaultKeyspace}
}

func (s *RedisStore) valueKey(key string) string { return s.keyspace + key }
func (s *RedisStore) metaKey(key string) string  { return s.keyspace + "meta:" + key }

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.rdb.Get(ctx, s.valueKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("redis: get %q: %w", key, err)
	}
	return val, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte, opts PutOptions) error {
	args := redis.SetArgs{}
	switch {
	case opts.ExpiresAt > 0:
		args.ExpireAt = time.Unix(opts.ExpiresAt, 0)
	case opts.KeepTTL:
		args.KeepTTL = true
	}

	pipe := s.rdb.Pipeline()
	pipe.SetArgs(ctx, s.valueKey(key), value, args)

	if opts.Metadata != nil {
		meta, err := json.Marshal(opts.Metadata)
		if err != nil {
			return fmt.Errorf("redis: marshal metadata for %q: %w", key, err)
		}
		pipe.SetArgs(ctx, s.metaKey(key), meta, args)
	} else {
		pipe.Del(ctx, s.metaKey(key))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	// Deleting an absent key is not an error.
	if err := s.rdb.Del(ctx, s.valueKey(key), s.metaKey(key)).Err(); err != nil {
		return fmt.Errorf("redis: delete %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, opts ListOptions) (*ListPage, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var cursor uint64
	if opts.Cursor != "" {
		parsed, err := strconv.ParseUint(opts.Cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis: invalid cursor %q", opts.Cursor)
		}
		cursor = parsed
	}

	keys, next, err := s.rdb.Scan(ctx, cursor, s.keyspace+"*", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: scan: %w", err)
	}

	names := make([]string, 0, len(keys))
	for _, k := range keys {
		name := strings.TrimPrefix(k, s.keyspace)
		if strings.Contains(name, ":") {
			continue
		}
		names = append(names, name)
	}

	entries := make([]KeyEntry, 0, len(names))
	if len(names) > 0 {
		pipe := s.rdb.Pipeline()
		metaCmds := make([]*redis.StringCmd, len(names))
		ttlCmds := make([]*redis.DurationCmd, len(names))
		for i, name := range names {
			metaCmds[i] = pipe.Get(ctx, s.metaKey(name))
			ttlCmds[i] = pipe.PTTL(ctx, s.valueKey(name))
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("redis: list sidecar reads: %w", err)
		}

		now := time.Now()
		for i, name := range names {
			entry := KeyEntry{Key: name}

			if raw, err := metaCmds[i].Bytes(); err == nil {
				var meta model.LinkMetadata
				if err := json.Unmarshal(raw, &meta); err == nil {
					entry.Metadata = &meta
				}
			}

			if ttl, err := ttlCmds[i].Result(); err == nil && ttl > 0 {
				expires := now.Add(ttl)
				entry.ExpiresAt = &expires
			}

			entries = append(entries, entry)
		}
	}

	page := &ListPage{
		Entries:  entries,
		Complete: next == 0,
	}
	if next != 0 {
		page.Cursor = strconv.FormatUint(next, 10)
	}
	return page, nil
}
