// Package mongodb implements the ledger on MongoDB
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/relaymesh/go-rmc/pkg/identity"
	"github.com/relaymesh/go-rmc/pkg/ledger"
)

// Store implements the ledger using MongoDB
type Store struct {
	client   *mongo.Client
	db       *mongo.Database
	messages *mongo.Collection
}

// Config holds MongoDB connection settings
type Config struct {
	URI      string
	Database string
}

// messageDoc is the persisted form of a ledger message. The _id is the
// hex message id, so the unique index makes insertion first-writer-wins.
type messageDoc struct {
	ID         string    `bson:"_id"`
	ChannelID  string    `bson:"channel_id"`
	Sequence   int64     `bson:"sequence"`
	Direction  string    `bson:"direction"`
	Payload    []byte    `bson:"payload"`
	State      string    `bson:"state"`
	Ack        []byte    `bson:"ack,omitempty"`
	AckSuccess bool      `bson:"ack_success"`
	Reason     string    `bson:"reason,omitempty"`
	CreatedAt  time.Time `bson:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func toDoc(msg *ledger.Message) *messageDoc {
	return &messageDoc{
		ID:         msg.ID.String(),
		ChannelID:  msg.ChannelID,
		Sequence:   int64(msg.Sequence),
		Direction:  string(msg.Direction),
		Payload:    msg.Payload,
		State:      string(msg.State),
		Ack:        msg.Ack,
		AckSuccess: msg.AckSuccess,
		Reason:     msg.Reason,
		CreatedAt:  msg.CreatedAt,
		UpdatedAt:  msg.UpdatedAt,
	}
}

func (d *messageDoc) toMessage() (*ledger.Message, error) {
	id, err := identity.ParseMessageID(d.ID)
	if err != nil {
		return nil, fmt.Errorf("corrupt message id %q: %w", d.ID, err)
	}
	return &ledger.Message{
		ID:         id,
		ChannelID:  d.ChannelID,
		Sequence:   uint64(d.Sequence),
		Direction:  identity.Direction(d.Direction),
		Payload:    d.Payload,
		State:      ledger.State(d.State),
		Ack:        d.Ack,
		AckSuccess: d.AckSuccess,
		Reason:     d.Reason,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}, nil
}

// NewStore connects to MongoDB and prepares the message collection
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &Store{
		client:   client,
		db:       db,
		messages: db.Collection("messages"),
	}

	if err := s.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}
	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "channel_id", Value: 1}, {Key: "direction", Value: 1}, {Key: "sequence", Value: 1}}},
		{Keys: bson.D{{Key: "channel_id", Value: 1}, {Key: "state", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("creating message indexes: %w", err)
	}
	return nil
}

// Close closes the MongoDB connection
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping verifies database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// RecordSent stores a new outbound message.
func (s *Store) RecordSent(ctx context.Context, msg *ledger.Message) error {
	_, err := s.messages.InsertOne(ctx, toDoc(msg))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", ledger.ErrDuplicateID, msg.ID)
	}
	return err
}

// RecordReceived stores a new inbound message; a duplicate id reports
// ErrAlreadyExists so the caller can treat redelivery as a no-op.
func (s *Store) RecordReceived(ctx context.Context, msg *ledger.Message) error {
	_, err := s.messages.InsertOne(ctx, toDoc(msg))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", ledger.ErrAlreadyExists, msg.ID)
	}
	return err
}

// Transition applies a lifecycle event with a compare-and-swap on the
// stored state. A concurrent transition leaves the message outside the
// event's source state, which the shared state table reports as an
// invalid transition.
func (s *Store) Transition(ctx context.Context, id identity.MessageID, tr ledger.Transition) (*ledger.Message, error) {
	msg, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := msg.State
	if err := ledger.ApplyTransition(msg, tr); err != nil {
		return nil, err
	}

	res, err := s.messages.ReplaceOne(ctx,
		bson.M{"_id": id.String(), "state": string(from)},
		toDoc(msg))
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		// Lost the race; the message already left its pending state.
		return nil, fmt.Errorf("%w: %s from %s", ledger.ErrInvalidTransition, tr.Event, from)
	}
	return msg, nil
}

// Get returns the message recorded under id.
func (s *Store) Get(ctx context.Context, id identity.MessageID) (*ledger.Message, error) {
	var doc messageDoc
	err := s.messages.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return doc.toMessage()
}

var _ ledger.Ledger = (*Store)(nil)
