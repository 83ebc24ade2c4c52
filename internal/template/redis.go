package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/clipcraft/api/internal/model"
)

const templateKeyPrefix = "clipcraft:template:"

// RedisStore reads templates stored as JSON under clipcraft:template:<id>.
type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(redisClient *redis.Client) *RedisStore {
	return &RedisStore{redis: redisClient}
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.Template, error) {
	data, err := s.redis.Get(ctx, templateKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	var t model.Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template %s: %w", id, err)
	}
	return &t, nil
}

func (s *RedisStore) List(ctx context.Context) ([]*model.Template, error) {
	var keys []string
	iter := s.redis.Scan(ctx, 0, templateKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan templates: %w", err)
	}

	out := make([]*model.Template, 0, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var t model.Template
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal template %s: %w", keys[i], err)
		}
		out = append(out, &t)
	}

	sortByID(out)
	return out, nil
}

// Put stores t, replacing any previous version. Used to seed the catalogue.
func (s *RedisStore) Put(ctx context.Context, t *model.Template) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}
	return s.redis.Set(ctx, templateKeyPrefix+t.ID, data, 0).Err()
}
