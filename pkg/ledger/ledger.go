// Package ledger implements the message ledger and lifecycle state machine.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relaymesh/go-rmc/pkg/identity"
)

// Common errors
var (
	// ErrDuplicateID is returned by RecordSent when the id already exists.
	// This indicates an invariant violation upstream, never a benign replay.
	ErrDuplicateID = errors.New("duplicate message id")
	// ErrAlreadyExists is returned by RecordReceived for an already-recorded
	// message; callers must treat it as an idempotent no-op, not a failure
	ErrAlreadyExists = errors.New("message already recorded")
	// ErrNotFound is returned when no message exists for the given id
	ErrNotFound = errors.New("message not found")
	// ErrInvalidTransition is returned for a lifecycle event that is not
	// legal from the message's current state
	ErrInvalidTransition = errors.New("invalid state transition")
)

// State represents the lifecycle state of a message.
type State string

const (
	// StateSent is the initial state of an outbound message
	StateSent State = "SENT"
	// StateAcknowledged means the remote party confirmed the message
	StateAcknowledged State = "ACKNOWLEDGED"
	// StateTimedOut means the sender gave up waiting for an acknowledgment
	StateTimedOut State = "TIMED_OUT"
	// StateReceived is the initial state of an inbound message
	StateReceived State = "RECEIVED"
	// StateProcessed means the application handler accepted the payload
	StateProcessed State = "PROCESSED"
	// StateRejected means the application handler declined the payload
	StateRejected State = "REJECTED"
)

// TransitionEvent names a lifecycle transition.
type TransitionEvent string

const (
	// EventAcknowledged closes a Sent message with a remote confirmation
	EventAcknowledged TransitionEvent = "acknowledged"
	// EventTimedOut closes a Sent message after the sender stopped waiting
	EventTimedOut TransitionEvent = "timed_out"
	// EventProcessed closes a Received message after handler acceptance
	EventProcessed TransitionEvent = "processed"
	// EventRejected closes a Received message after handler refusal
	EventRejected TransitionEvent = "rejected"
)

// Message is one logical payload transfer tracked through its lifecycle.
type Message struct {
	ID        identity.MessageID
	ChannelID string
	Sequence  uint64
	Direction identity.Direction
	Payload   []byte
	State     State

	// Ack holds the acknowledgment payload (outbound) or the handler
	// response (inbound) once the message reaches a closing state.
	Ack        []byte
	AckSuccess bool

	// Reason carries the rejection or timeout detail, if any.
	Reason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	out := *m
	if m.Payload != nil {
		out.Payload = append([]byte(nil), m.Payload...)
	}
	if m.Ack != nil {
		out.Ack = append([]byte(nil), m.Ack...)
	}
	return &out
}

// New constructs a message in its initial state for the given direction,
// deriving its id from the identity-relevant fields.
func New(channelID string, sequence uint64, payload []byte, direction identity.Direction) *Message {
	state := StateSent
	if direction == identity.Inbound {
		state = StateReceived
	}
	now := time.Now().UTC()
	return &Message{
		ID:        identity.Derive(channelID, sequence, payload, direction),
		ChannelID: channelID,
		Sequence:  sequence,
		Direction: direction,
		Payload:   append([]byte(nil), payload...),
		State:     state,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition describes one lifecycle event to apply to a message.
type Transition struct {
	Event TransitionEvent

	// Ack is stored on EventAcknowledged and EventProcessed.
	Ack        []byte
	AckSuccess bool

	// Reason is stored on EventRejected and EventTimedOut.
	Reason string
}

// Ledger is the durable record of every message and the authority for
// lifecycle transitions. Implementations must make lookup-or-insert a
// single atomic step: of two concurrent RecordReceived calls for the same
// id, exactly one succeeds and the other observes ErrAlreadyExists.
type Ledger interface {
	// RecordSent stores a new outbound message in state Sent.
	RecordSent(ctx context.Context, msg *Message) error

	// RecordReceived stores a new inbound message in state Received,
	// failing with ErrAlreadyExists if the id is already present.
	RecordReceived(ctx context.Context, msg *Message) error

	// Transition applies a lifecycle event and returns the updated message.
	Transition(ctx context.Context, id identity.MessageID, tr Transition) (*Message, error)

	// Get returns the message recorded under id.
	Get(ctx context.Context, id identity.MessageID) (*Message, error)
}

// NextState returns the state a message in `from` moves to on `event`, or
// ErrInvalidTransition if the event is not legal from that state. All
// ledger implementations share this table so the state machine cannot
// drift between backends.
func NextState(from State, event TransitionEvent) (State, error) {
	switch event {
	case EventAcknowledged:
		if from == StateSent {
			return StateAcknowledged, nil
		}
	case EventTimedOut:
		if from == StateSent {
			return StateTimedOut, nil
		}
	case EventProcessed:
		if from == StateReceived {
			return StateProcessed, nil
		}
	case EventRejected:
		if from == StateReceived {
			return StateRejected, nil
		}
	default:
		return "", fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, event)
	}
	return "", fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, from)
}

// ApplyTransition mutates msg in place according to tr, after validating
// it with NextState. Helper shared by ledger implementations.
func ApplyTransition(msg *Message, tr Transition) error {
	next, err := NextState(msg.State, tr.Event)
	if err != nil {
		return err
	}

	msg.State = next
	msg.UpdatedAt = time.Now().UTC()

	switch tr.Event {
	case EventAcknowledged:
		msg.Ack = append([]byte(nil), tr.Ack...)
		msg.AckSuccess = tr.AckSuccess
	case EventProcessed:
		msg.Ack = append([]byte(nil), tr.Ack...)
		msg.AckSuccess = true
	case EventRejected, EventTimedOut:
		msg.Reason = tr.Reason
	}
	return nil
}
