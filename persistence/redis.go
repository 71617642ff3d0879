package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/tcriess/lightspeed-versus/config"
	"github.com/tcriess/lightspeed-versus/globals"
	"github.com/tcriess/lightspeed-versus/types"
)

const (
	redisMatchPrefix = "lsversus:match:"
	redisMatchIndex  = "lsversus:matches" // sorted set, member = match id, score = created (unix ms)
)

type RedisPersist struct {
	client *redis.Client
}

func NewRedisPersister(cfg *config.Config) (Persister, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.PersistenceConfig.DSN)
	if err != nil {
		return nil, err
	}
	return &RedisPersist{client: redis.NewClient(opts)}, nil
}

func (p *RedisPersist) RecordMatch(ctx context.Context, match *types.Match) error {
	m, err := json.Marshal(match)
	if err != nil {
		return err
	}
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisMatchPrefix+match.Id, m, 0)
		pipe.ZAdd(ctx, redisMatchIndex, redis.Z{
			Score:  float64(match.CreatedAt.UnixMilli()),
			Member: match.Id,
		})
		return nil
	})
	return err
}

func (p *RedisPersist) GetMatch(ctx context.Context, id string) (*types.Match, error) {
	m, err := p.client.Get(ctx, redisMatchPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	match := &types.Match{}
	err = json.Unmarshal([]byte(m), match)
	if err != nil {
		return nil, err
	}
	return match, nil
}

func (p *RedisPersist) GetMatches(ctx context.Context, offset, limit int) ([]*types.Match, error) {
	ids, err := p.client.ZRevRange(ctx, redisMatchIndex, int64(offset), int64(offset+clampLimit(limit)-1)).Result()
	if err != nil {
		return nil, err
	}
	matches := make([]*types.Match, 0, len(ids))
	if len(ids) == 0 {
		return matches, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisMatchPrefix + id
	}
	vals, err := p.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, val := range vals {
		s, ok := val.(string)
		if !ok {
			globals.AppLogger.Warn("match index points to a missing match", "id", ids[i])
			continue
		}
		match := &types.Match{}
		if err := json.Unmarshal([]byte(s), match); err != nil {
			globals.AppLogger.Warn("skipping unreadable match", "id", ids[i], "error", err)
			continue
		}
		matches = append(matches, match)
	}
	return matches, nil
}

func (p *RedisPersist) DeleteMatch(ctx context.Context, id string) error {
	var deleted *redis.IntCmd
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, redisMatchPrefix+id)
		pipe.ZRem(ctx, redisMatchIndex, id)
		return nil
	})
	if err != nil {
		return err
	}
	if deleted.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *RedisPersist) Close() error {
	return p.client.Close()
}
