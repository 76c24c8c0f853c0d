// Package redis implements the ledger on Redis
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/relaymesh/go-rmc/pkg/identity"
	"github.com/relaymesh/go-rmc/pkg/ledger"
)

// keyPrefix namespaces message records within the Redis keyspace.
const keyPrefix = "rmc:msg:"

// transitionRetries bounds the optimistic-locking retry loop.
const transitionRetries = 5

// Store implements the ledger on Redis. Inserts are first-writer-wins
// through SETNX; transitions use WATCH-based optimistic locking so two
// relays sharing the instance cannot both close the same message.
type Store struct {
	client *redis.Client
}

// Config holds Redis connection settings
type Config struct {
	Address  string
	Password string
	DB       int
}

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

// NewStore connects to Redis and verifies the connection.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &Store{client: client}, nil
}

// NewStoreWithClient wraps an existing client, used by tests.
func NewStoreWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close closes the Redis connection.
func (s *Store) Close(context.Context) error {
	return s.client.Close()
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func messageKey(id identity.MessageID) string {
	return keyPrefix + id.String()
}

func (s *Store) record(ctx context.Context, msg *ledger.Message, existsErr error) error {
	value, err := json.Marshal(encode(msg))
	if err != nil {
		return err
	}

	stored, err := s.client.SetNX(ctx, messageKey(msg.ID), value, 0).Result()
	if err != nil {
		return err
	}
	if !stored {
		return fmt.Errorf("%w: %s", existsErr, msg.ID)
	}
	return nil
}

// RecordSent stores a new outbound message.
func (s *Store) RecordSent(ctx context.Context, msg *ledger.Message) error {
	return s.record(ctx, msg, ledger.ErrDuplicateID)
}

// RecordReceived stores a new inbound message.
func (s *Store) RecordReceived(ctx context.Context, msg *ledger.Message) error {
	return s.record(ctx, msg, ledger.ErrAlreadyExists)
}

// Transition applies a lifecycle event under optimistic locking.
func (s *Store) Transition(ctx context.Context, id identity.MessageID, tr ledger.Transition) (*ledger.Message, error) {
	key := messageKey(id)
	var result *ledger.Message

	apply := func(tx *redis.Tx) error {
		value, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
		}
		if err != nil {
			return err
		}

		var rec messageRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("corrupt record for %s: %w", id, err)
		}
		msg, err := decode(&rec)
		if err != nil {
			return err
		}
		if err := ledger.ApplyTransition(msg, tr); err != nil {
			return err
		}

		updated, err := json.Marshal(encode(msg))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result = msg
		return nil
	}

	for i := 0; i < transitionRetries; i++ {
		err := s.client.Watch(ctx, apply, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s contended", ledger.ErrInvalidTransition, id)
}

// Get returns the message recorded under id.
func (s *Store) Get(ctx context.Context, id identity.MessageID) (*ledger.Message, error) {
	value, err := s.client.Get(ctx, messageKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
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
		CreatedAt:  microTime(rec.CreatedAt),
		UpdatedAt:  microTime(rec.UpdatedAt),
	}, nil
}

func microTime(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

var _ ledger.Ledger = (*Store)(nil)
