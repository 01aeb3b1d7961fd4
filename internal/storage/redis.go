package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rewired-gh/polywatch/internal/models"
)

// RedisConfig holds connection parameters for the Redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string // hash holding one field per contract outcome
}

// Redis persists contract state as JSON fields of a single hash.
type Redis struct {
	rdb *redis.Client
	key string
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &Redis{rdb: rdb, key: cfg.Key}, nil
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) LoadAll(ctx context.Context) (map[models.ContractOutcome]models.RetainedState, error) {
	vals, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load state: %w", err)
	}
	states := make(map[models.ContractOutcome]models.RetainedState, len(vals))
	for field, raw := range vals {
		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("redis: decode state %s: %w", field, err)
		}
		key, st := rec.state()
		if fieldKey, err := models.ParseContractOutcome(field); err != nil || fieldKey != key {
			return nil, fmt.Errorf("redis: state field %q does not match record %s", field, key)
		}
		states[key] = st
	}
	return states, nil
}

// Save writes all entries in one MULTI/EXEC transaction.
func (r *Redis) Save(ctx context.Context, entries map[models.ContractOutcome]models.RetainedState) error {
	fields := make(map[string]interface{}, len(entries))
	for key, st := range entries {
		raw, err := json.Marshal(toRecord(key, st))
		if err != nil {
			return fmt.Errorf("redis: encode state %s: %w", key, err)
		}
		fields[key.String()] = string(raw)
	}
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key, fields)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: save state: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, keys []models.ContractOutcome) error {
	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, k.String())
	}
	if err := r.rdb.HDel(ctx, r.key, fields...).Err(); err != nil {
		return fmt.Errorf("redis: delete state: %w", err)
	}
	return nil
}
