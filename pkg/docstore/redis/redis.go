// Package redis implements docstore.Store on Redis.
//
// Each document is one Redis hash keyed by prefix+path. Field values are
// JSON-encoded, except that integers encode to their plain decimal form, so
// HINCRBY serves as the store's atomic server-side increment.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentfolio/agentfolio/pkg/docstore"
)

// Config holds Redis connection configuration.
type Config struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all document keys (default: "agentfolio:doc:").
	Prefix string
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// RedisStore implements docstore.Store using Redis hashes.
type RedisStore struct {
	client *redis.Client
	prefix string
	mu     sync.RWMutex
	closed bool
}

// New creates a new Redis document store.
func New(cfg Config) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "agentfolio:doc:"
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
	}, nil
}

// NewFromClient creates a Redis store from an existing client.
// This is useful for testing with miniredis.
func NewFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "agentfolio:doc:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) key(path string) string {
	return s.prefix + path
}

func (s *RedisStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return docstore.ErrStoreClosed
	}
	return nil
}

// Get retrieves the document at path.
func (s *RedisStore) Get(ctx context.Context, path string) (docstore.Document, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	raw, err := s.client.HGetAll(ctx, s.key(path)).Result()
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", path, err)
	}
	// Redis reports a missing hash as an empty map.
	if len(raw) == 0 {
		return nil, docstore.ErrNotFound
	}

	doc := make(docstore.Document, len(raw))
	for field, encoded := range raw {
		doc[field] = decodeValue(encoded)
	}
	return doc, nil
}

// Set writes fields to the document at path.
func (s *RedisStore) Set(ctx context.Context, path string, fields docstore.Document, merge bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	var stamp time.Time
	if containsServerTimestamp(fields) {
		t, err := s.client.Time(ctx).Result()
		if err != nil {
			return fmt.Errorf("server time: %w", err)
		}
		stamp = t.UTC()
	}

	encoded := make(map[string]any, len(fields))
	for field, v := range fields {
		if v == docstore.ServerTimestamp {
			v = stamp
		}
		data, err := encodeValue(v)
		if err != nil {
			return fmt.Errorf("encode field %s: %w", field, err)
		}
		encoded[field] = data
	}

	pipe := s.client.TxPipeline()
	if !merge {
		pipe.Del(ctx, s.key(path))
	}
	pipe.HSet(ctx, s.key(path), encoded)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set document %s: %w", path, err)
	}
	return nil
}

// Increment atomically adds delta to a numeric field via HINCRBY.
func (s *RedisStore) Increment(ctx context.Context, path, field string, delta int64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if err := s.client.HIncrBy(ctx, s.key(path), field, delta).Err(); err != nil {
		return fmt.Errorf("increment %s.%s: %w", path, field, err)
	}
	return nil
}

// Ping checks if the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.client.Ping(ctx).Err()
}

// Close releases resources held by the store.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

func containsServerTimestamp(fields docstore.Document) bool {
	for _, v := range fields {
		if v == docstore.ServerTimestamp {
			return true
		}
	}
	return false
}

// encodeValue JSON-encodes a field value. Integer kinds are normalized to
// int64 first so their encoding stays HINCRBY-compatible.
func encodeValue(v any) (string, error) {
	switch n := v.(type) {
	case int:
		v = int64(n)
	case int32:
		v = int64(n)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeValue reverses encodeValue. Numbers come back as int64 when integral,
// float64 otherwise; timestamps come back as RFC3339 strings and are restored
// to time.Time.
func decodeValue(encoded string) any {
	dec := json.NewDecoder(strings.NewReader(encoded))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		// Bare HINCRBY-created fields are raw decimals, which decode fine;
		// anything else unparseable is surfaced as the raw string.
		return encoded
	}

	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case string:
		if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
			return t
		}
		return val
	default:
		return v
	}
}
