package buffer

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bc-dunia/serversnitch/internal/agent"
)

// DefaultRedisKey is the list holding buffered records.
const DefaultRedisKey = "serversnitch:buffer"

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisStore keeps the queue in a Redis list, one CBOR-encoded record per
// element, head first. Useful when the edge host already runs a local Redis.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       opts.Addr,
		Password:   opts.Password,
		DB:         opts.DB,
		MaxRetries: 3,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	key := opts.Key
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}, nil
}

// Load reads the whole list.
func (s *RedisStore) Load(ctx context.Context) ([]agent.TelemetryRecord, error) {
	vals, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read buffer list: %w", err)
	}

	recs := make([]agent.TelemetryRecord, 0, len(vals))
	for _, v := range vals {
		rec, err := unmarshalRecord([]byte(v))
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Replace swaps the list contents in a single MULTI/EXEC transaction.
func (s *RedisStore) Replace(ctx context.Context, recs []agent.TelemetryRecord) error {
	vals := make([]any, 0, len(recs))
	for _, rec := range recs {
		data, err := marshalRecord(rec)
		if err != nil {
			return err
		}
		vals = append(vals, data)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(vals) > 0 {
			pipe.RPush(ctx, s.key, vals...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write buffer list: %w", err)
	}
	return nil
}

// Close closes the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
