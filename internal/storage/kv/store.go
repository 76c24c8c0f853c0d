// Package kv implements the ledger on an embedded key-value store
package kv

import (
	"context"
	"fmt"
	"sync"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/goccy/go-json"

	"github.com/relaymesh/go-rmc/pkg/identity"
	"github.com/relaymesh/go-rmc/pkg/ledger"
)

// keyPrefix namespaces message records within the database.
const keyPrefix = "msg/"

// Store implements the ledger on an embedded key-value database. A
// single mutex serializes writes; the database is process-local so
// there is no cross-process contention to worry about.
type Store struct {
	mu sync.Mutex
	db dbm.DB
}

// Config holds embedded database settings
type Config struct {
	// Dir is the directory the database files live in
	Dir string
	// Name is the database name within Dir
	Name string
}

// messageRecord is the persisted form of a ledger message.
type messageRecord struct {
	ID         string `json:"id"`
	ChannelID  string `json:"channelId"`
	Sequence   uint64 `json:"sequence"`
	Direction  string `json:"direction"`
	Payload    []byte `json:"payload"`
	State      string `json:"state"`
	Ack        []byte `json:"ack,omitempty"`
	AckSuccess bool   `json:"ackSuccess"`
	Reason     string `json:"reason,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
	UpdatedAt  int64  `json:"updatedAt"`
}

// NewStore opens (or creates) the database under cfg.Dir.
func NewStore(cfg Config) (*Store, error) {
	name := cfg.Name
	if name == "" {
		name = "ledger"
	}
	db, err := dbm.NewDB(name, dbm.GoLevelDBBackend, cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("opening kv database: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing database, used by tests with an
// in-memory backend.
func NewStoreWithDB(db dbm.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// Ping reports whether the database is usable.
func (s *Store) Ping(context.Context) error {
	_, err := s.db.Has([]byte(keyPrefix))
	return err
}

func messageKey(id identity.MessageID) []byte {
	return []byte(keyPrefix + id.String())
}

// record stores msg under its id unless the key exists; existsErr is
// the sentinel reported for an occupied key.
func (s *Store) record(msg *ledger.Message, existsErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := messageKey(msg.ID)
	exists, err := s.db.Has(key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", existsErr, msg.ID)
	}

	value, err := json.Marshal(encode(msg))
	if err != nil {
		return err
	}
	return s.db.SetSync(key, value)
}

// RecordSent stores a new outbound message.
func (s *Store) RecordSent(_ context.Context, msg *ledger.Message) error {
	return s.record(msg, ledger.ErrDuplicateID)
}

// RecordReceived stores a new inbound message.
func (s *Store) RecordReceived(_ context.Context, msg *ledger.Message) error {
	return s.record(msg, ledger.ErrAlreadyExists)
}

// Transition applies a lifecycle event under the store mutex.
func (s *Store) Transition(_ context.Context, id identity.MessageID, tr ledger.Transition) (*ledger.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if err := ledger.ApplyTransition(msg, tr); err != nil {
		return nil, err
	}

	value, err := json.Marshal(encode(msg))
	if err != nil {
		return nil, err
	}
	if err := s.db.SetSync(messageKey(id), value); err != nil {
		return nil, err
	}
	return msg, nil
}

// Get returns the message recorded under id.
func (s *Store) Get(_ context.Context, id identity.MessageID) (*ledger.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *Store) get(id identity.MessageID) (*ledger.Message, error) {
	value, err := s.db.Get(messageKey(id))
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
	}

	var rec messageRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return nil, fmt.Errorf("corrupt record for %s: %w", id, err)
	}
	return decode(&rec)
}

func encode(msg *ledger.Message) *messageRecord {
	return &messageRecord{
		ID:         msg.ID.String(),
		ChannelID:  msg.ChannelID,
		Sequence:   msg.Sequence,
		Direction:  string(msg.Direction),
		Payload:    msg.Payload,
		State:      string(msg.State),
		Ack:        msg.Ack,
		AckSuccess: msg.AckSuccess,
		Reason:     msg.Reason,
		CreatedAt:  msg.CreatedAt.UnixMicro(),
		UpdatedAt:  msg.UpdatedAt.UnixMicro(),
	}
}

func decode(rec *messageRecord) (*ledger.Message, error) {
	id, err := identity.ParseMessageID(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("corrupt message id %q: %w", rec.ID, err)
	}
	return &ledger.Message{
		ID:         id,
		ChannelID:  rec.ChannelID,
		Sequence:   rec.Sequence,
		Direction:  identity.Direction(rec.Direction),
		Payload:    rec.Payload,
		State:      ledger.State(rec.State),
		Ack:        rec.Ack,
		AckSuccess: rec.AckSuccess,
		Reason:     rec.Reason,
		CreatedAt:  timeFromMicro(rec.CreatedAt),
		UpdatedAt:  timeFromMicro(rec.UpdatedAt),
	}, nil
}

func timeFromMicro(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

var _ ledger.Ledger = (*Store)(nil)
