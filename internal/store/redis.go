package store

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/kjstillabower/weather-refresher/internal/models"
)

// RedisStore keeps the key-value set in a hash named after the namespace.
type RedisStore struct {
	client *redis.Client
	opts   Options
}

func NewRedisStore(addr, password string, db int, opts Options) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: client, opts: opts.withDefaults()}
}

// Save replaces the hash inside MULTI/EXEC.
func (r *RedisStore) Save(ctx context.Context, rec models.WeatherRecord) error {
	values := Encode(rec, r.opts.TimeZone)
	fields := make(map[string]interface{}, len(values))
	for k, v := range values {
		fields[k] = v
	}
	key := r.opts.Namespace
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis store: save: %w", err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context) (models.CachedState, bool, error) {
	values, err := r.client.HGetAll(ctx, r.opts.Namespace).Result()
	if err != nil {
		return models.CachedState{}, false, fmt.Errorf("redis store: load: %w", err)
	}
	state, ok := Decode(values)
	return state, ok, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
