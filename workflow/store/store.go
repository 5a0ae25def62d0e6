// Package store persists the records of finished workflow runs.
//
// Supported backends:
//   - Memory: for development and testing (default)
//   - Redis: records as JSON values with sorted-set indexes
//   - SQL: gorm-backed table (postgres, mysql, sqlite)
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/chatflow/workflow"
)

// Common errors
var (
	ErrNotFound     = errors.New("run record not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// Type represents the type of storage backend
type Type string

const (
	TypeMemory Type = "memory"
	TypeRedis  Type = "redis"
	TypeSQL    Type = "sql"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 100

// ListOptions filters List results. Zero values match everything.
type ListOptions struct {
	Workflow string
	Status   string
	// Limit caps the number of records; <= 0 means DefaultListLimit.
	Limit int
}

func (o ListOptions) limit() int {
	if o.Limit <= 0 {
		return DefaultListLimit
	}
	return o.Limit
}

func (o ListOptions) matches(rec *workflow.Record) bool {
	return (o.Workflow == "" || rec.Workflow == o.Workflow) &&
		(o.Status == "" || rec.Status == o.Status)
}

// ChatStore persists run records. Implementations are safe for concurrent use.
type ChatStore interface {
	workflow.Recorder

	// Get returns the record of runID or ErrNotFound.
	Get(ctx context.Context, runID string) (*workflow.Record, error)

	// List returns matching records, most recently finished first.
	List(ctx context.Context, opts ListOptions) ([]*workflow.Record, error)

	// Close releases resources held by the store.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Type Type `json:"type" yaml:"type"`
	// KeyPrefix namespaces Redis keys.
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
	// TTL expires Redis records; 0 keeps them forever.
	TTL time.Duration `json:"ttl" yaml:"ttl"`
	// TableName overrides the SQL table name.
	TableName string `json:"table_name" yaml:"table_name"`
}

// Backends carries the connections a store may need.
type Backends struct {
	Redis  *redis.Client
	DB     *gorm.DB
	Logger *zap.Logger
}

// New creates a store of cfg.Type.
func New(ctx context.Context, cfg Config, b Backends) (ChatStore, error) {
	switch cfg.Type {
	case "", TypeMemory:
		return NewMemoryStore(), nil
	case TypeRedis:
		if b.Redis == nil {
			return nil, fmt.Errorf("redis store: %w: client is nil", ErrInvalidInput)
		}
		return NewRedisStore(b.Redis, RedisOptions{KeyPrefix: cfg.KeyPrefix, TTL: cfg.TTL}, b.Logger), nil
	case TypeSQL:
		if b.DB == nil {
			return nil, fmt.Errorf("sql store: %w: db is nil", ErrInvalidInput)
		}
		return NewSQLStore(ctx, b.DB, cfg.TableName, b.Logger)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}

func validate(runID string, rec *workflow.Record) error {
	if rec == nil || runID == "" {
		return ErrInvalidInput
	}
	if rec.RunID != "" && rec.RunID != runID {
		return fmt.Errorf("%w: record run id %s does not match %s", ErrInvalidInput, rec.RunID, runID)
	}
	return nil
}
