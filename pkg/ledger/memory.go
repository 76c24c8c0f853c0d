package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaymesh/go-rmc/pkg/identity"
)

// MemoryLedger is the reference in-memory Ledger implementation. All
// operations are guarded by a single lock; lookup-or-insert is therefore
// atomic and two concurrent inserts for one id cannot both succeed.
type MemoryLedger struct {
	mu       sync.RWMutex
	messages map[identity.MessageID]*Message
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		messages: make(map[identity.MessageID]*Message),
	}
}

// RecordSent stores a new outbound message.
func (l *MemoryLedger) RecordSent(ctx context.Context, msg *Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.messages[msg.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, msg.ID)
	}
	l.messages[msg.ID] = msg.Clone()
	return nil
}

// RecordReceived stores a new inbound message, failing with
// ErrAlreadyExists if the id was recorded before.
func (l *MemoryLedger) RecordReceived(ctx context.Context, msg *Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.messages[msg.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, msg.ID)
	}
	l.messages[msg.ID] = msg.Clone()
	return nil
}

// Transition applies a lifecycle event to the message recorded under id.
func (l *MemoryLedger) Transition(ctx context.Context, id identity.MessageID, tr Transition) (*Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg, exists := l.messages[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := ApplyTransition(msg, tr); err != nil {
		return nil, err
	}
	return msg.Clone(), nil
}

// Get returns a copy of the message recorded under id.
func (l *MemoryLedger) Get(ctx context.Context, id identity.MessageID) (*Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	msg, exists := l.messages[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return msg.Clone(), nil
}

// Len returns the number of recorded messages.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

var _ Ledger = (*MemoryLedger)(nil)
