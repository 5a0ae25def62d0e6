package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/workflow"
)

// DefaultKeyPrefix namespaces Redis keys when RedisOptions.KeyPrefix is empty.
const DefaultKeyPrefix = "chatflow:"

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	KeyPrefix string
	// TTL expires record values. Index entries of expired records are pruned lazily by List.
	TTL time.Duration
}

// RedisStore stores each record as a JSON value and indexes run ids in
// sorted sets scored by finish time.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisStore creates a store on client. The caller owns client until Close.
func NewRedisStore(client *redis.Client, opts RedisOptions, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{
		client:    client,
		keyPrefix: prefix + "run:",
		ttl:       opts.TTL,
		logger:    logger.With(zap.String("component", "redis_chat_store")),
	}
}

// recordKey returns the Redis key for a record
func (s *RedisStore) recordKey(runID string) string {
	return s.keyPrefix + "data:" + runID
}

// indexKey returns the sorted set of all run ids
func (s *RedisStore) indexKey() string {
	return s.keyPrefix + "index"
}

// workflowKey returns the sorted set of one workflow's run ids
func (s *RedisStore) workflowKey(name string) string {
	return s.keyPrefix + "workflow:" + name
}

// Ping checks if the store is healthy
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Save implements workflow.Recorder.
func (s *RedisStore) Save(ctx context.Context, runID string, rec *workflow.Record) error {
	if err := validate(runID, rec); err != nil {
		return err
	}
	cp := *rec
	cp.RunID = runID
	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	score := float64(cp.FinishedAt.UnixNano())
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.recordKey(runID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: score, Member: runID})
	if cp.Workflow != "" {
		pipe.ZAdd(ctx, s.workflowKey(cp.Workflow), redis.Z{Score: score, Member: runID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save run %s: %w", runID, err)
	}
	s.logger.Debug("run record saved", zap.String("run_id", runID), zap.Int("bytes", len(data)))
	return nil
}

// Get implements ChatStore.Get.
func (s *RedisStore) Get(ctx context.Context, runID string) (*workflow.Record, error) {
	data, err := s.client.Get(ctx, s.recordKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	var rec workflow.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", runID, err)
	}
	return &rec, nil
}

// List implements ChatStore.List. Records are read from the newest index
// entries until the limit is reached.
func (s *RedisStore) List(ctx context.Context, opts ListOptions) ([]*workflow.Record, error) {
	key := s.indexKey()
	if opts.Workflow != "" {
		key = s.workflowKey(opts.Workflow)
	}

	const page = 100
	out := make([]*workflow.Record, 0, min(opts.limit(), page))
	for start := int64(0); len(out) < opts.limit(); start += page {
		ids, err := s.client.ZRevRange(ctx, key, start, start+page-1).Result()
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = s.recordKey(id)
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}

		var expired []any
		for i, v := range values {
			str, ok := v.(string)
			if !ok {
				expired = append(expired, ids[i])
				continue
			}
			var rec workflow.Record
			if err := json.Unmarshal([]byte(str), &rec); err != nil {
				return nil, fmt.Errorf("failed to unmarshal record %s: %w", ids[i], err)
			}
			if opts.matches(&rec) && len(out) < opts.limit() {
				out = append(out, &rec)
			}
		}
		if len(expired) > 0 {
			// 只有真正删除后才回退游标，否则同一页会被反复读取
			if n, err := s.prune(ctx, key, expired); err == nil {
				start -= n
			}
		}
	}
	return out, nil
}

// prune removes index entries whose record has expired and reports how many were removed.
func (s *RedisStore) prune(ctx context.Context, key string, ids []any) (int64, error) {
	n, err := s.client.ZRem(ctx, key, ids...).Result()
	if err != nil {
		s.logger.Warn("failed to prune expired run ids", zap.Error(err))
		return 0, err
	}
	return n, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
