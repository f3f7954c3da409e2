package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis stores each key as prefix+key. Save and Clear run in MULTI so readers
// never see a half-written record.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

func NewRedis(rdb *redis.Client, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix}
}

func (s *Redis) key(k string) string { return s.prefix + k }

func (s *Redis) Load(ctx context.Context) (Record, error) {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	res, err := s.rdb.MGet(ctx, full...).Result()
	if err != nil {
		return Record{}, fmt.Errorf("redis mget: %w", err)
	}
	vals := make(map[string]string, len(keys))
	for i, v := range res {
		if str, ok := v.(string); ok {
			vals[keys[i]] = str
		}
	}
	return decode(vals)
}

func (s *Redis) Save(ctx context.Context, r Record) error {
	vals, err := encode(r)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range keys {
			if v, ok := vals[k]; ok {
				p.Set(ctx, s.key(k), v, 0)
			} else {
				p.Del(ctx, s.key(k))
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	return nil
}

func (s *Redis) Clear(ctx context.Context) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis clear: %w", err)
	}
	return nil
}
