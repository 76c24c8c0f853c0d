// Package storage provides durable ledger backends for the RMC relay
// daemon.
//
// # Interface Design
//
// A backend is a [ledger.Ledger] plus lifecycle methods for the
// underlying connection. The state machine itself lives in the ledger
// package and is shared by every backend through
// [ledger.ApplyTransition], so the transition rules cannot drift
// between implementations.
//
// # Implementations
//
//   - memory: process-local, for tests and single-node setups
//   - mongodb: document store with a unique index on the message id
//   - kv: embedded key-value store, no external service required
//   - redis: shared cache store for small clustered deployments
//
// [Open] selects a backend from configuration.
//
// # Concurrency
//
// All backends must make lookup-or-insert a single atomic step: of two
// concurrent inserts for the same message id, exactly one succeeds.
// The memory and kv backends serialize with a mutex, mongodb relies on
// the unique _id index, redis on SETNX.
package storage

import (
	"context"
	"fmt"

	"github.com/relaymesh/go-rmc/internal/config"
	"github.com/relaymesh/go-rmc/internal/storage/kv"
	"github.com/relaymesh/go-rmc/internal/storage/mongodb"
	"github.com/relaymesh/go-rmc/internal/storage/redis"
	"github.com/relaymesh/go-rmc/pkg/ledger"
)

// Store is a ledger with connection lifecycle management.
type Store interface {
	ledger.Ledger

	// Close releases storage resources
	Close(ctx context.Context) error

	// Ping checks backend connectivity
	Ping(ctx context.Context) error
}

// Open creates the ledger backend selected by the configuration.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "mongodb":
		return mongodb.NewStore(ctx, mongodb.Config{
			URI:      cfg.MongoDB.URI,
			Database: cfg.MongoDB.Database,
		})
	case "kv":
		return kv.NewStore(kv.Config{
			Dir:  cfg.KV.Dir,
			Name: cfg.KV.Name,
		})
	case "redis":
		return redis.NewStore(ctx, redis.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// MemoryStore adapts the in-memory ledger to the Store interface.
type MemoryStore struct {
	*ledger.MemoryLedger
}

// NewMemoryStore creates a process-local store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{MemoryLedger: ledger.NewMemoryLedger()}
}

// Close is a no-op for the memory backend.
func (s *MemoryStore) Close(context.Context) error { return nil }

// Ping is a no-op for the memory backend.
func (s *MemoryStore) Ping(context.Context) error { return nil }

var _ Store = (*MemoryStore)(nil)
