package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/insightminer/internal/model"
)

const redisPrefix = "insightminer:"

// RedisOptions configures the redis store.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
	// TTL expires records; zero keeps them forever.
	TTL time.Duration
}

// RedisStore implements Store on redis keys. Each record lives under its
// exact-hash key as JSON.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedis connects to redis and verifies the connection.
func NewRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Address == "" {
		return nil, eris.New("redis: address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "redis: ping")
	}
	return &RedisStore{client: client, ttl: opts.TTL}, nil
}

func exactKey(hash string) string { return redisPrefix + "fp:exact:" + hash }

// Migrate is a no-op beyond a connectivity check; redis has no schema.
func (s *RedisStore) Migrate(ctx context.Context) error {
	return eris.Wrap(s.client.Ping(ctx).Err(), "redis: migrate")
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// LookupFingerprint implements Store.
func (s *RedisStore) LookupFingerprint(ctx context.Context, fp model.Fingerprint) (bool, error) {
	n, err := s.client.Exists(ctx, exactKey(fp.ExactHash)).Result()
	if err != nil {
		return false, eris.Wrap(err, "redis: lookup fingerprint")
	}
	return n > 0, nil
}

// UpsertRecord implements Store.
func (s *RedisStore) UpsertRecord(ctx context.Context, rec *model.Record) error {
	if rec == nil {
		return eris.New("redis: upsert record: nil record")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "redis: marshal record")
	}

	if err := s.client.Set(ctx, exactKey(rec.Fingerprint.ExactHash), data, s.ttl).Err(); err != nil {
		return eris.Wrapf(err, "redis: upsert record %s", rec.ID)
	}
	return nil
}

// GetRecord returns the record stored under an exact hash, or nil when absent.
func (s *RedisStore) GetRecord(ctx context.Context, exactHash string) (*model.Record, error) {
	data, err := s.client.Get(ctx, exactKey(exactHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "redis: get record")
	}
	var rec model.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, eris.Wrap(err, "redis: unmarshal record")
	}
	return &rec, nil
}
