// Package engine implements the RMC delivery engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/relaymesh/go-rmc/pkg/channel"
	"github.com/relaymesh/go-rmc/pkg/identity"
	"github.com/relaymesh/go-rmc/pkg/ledger"
)

// Outcome classifies the result of processing one inbound delivery.
type Outcome string

const (
	// OutcomeProcessed means the handler accepted the message
	OutcomeProcessed Outcome = "PROCESSED"
	// OutcomeRejected means the handler declined the message
	OutcomeRejected Outcome = "REJECTED"
	// OutcomeDuplicate means the message was already processed; callers
	// must treat this as success, never as a failure
	OutcomeDuplicate Outcome = "DUPLICATE"
	// OutcomeOutOfOrder means the sequence is ahead of the receive cursor
	OutcomeOutOfOrder Outcome = "OUT_OF_ORDER"
	// OutcomeConflict means a replayed sequence carried different content
	OutcomeConflict Outcome = "CONFLICT"
)

// ProcessingResult reports how one inbound delivery was handled.
type ProcessingResult struct {
	Outcome   Outcome
	MessageID identity.MessageID

	// Response carries the handler's response payload when the outcome
	// is Processed.
	Response []byte

	// Reason carries the rejection detail for Rejected, OutOfOrder, and
	// Conflict outcomes.
	Reason string
}

// HandlerResult is an application handler's verdict on one payload.
type HandlerResult struct {
	Accepted bool
	Response []byte
	Reason   string
}

// Accept builds a HandlerResult accepting the payload with an optional
// response to be carried back in the acknowledgment.
func Accept(response []byte) HandlerResult {
	return HandlerResult{Accepted: true, Response: response}
}

// Decline builds a HandlerResult refusing the payload.
func Decline(reason string) HandlerResult {
	return HandlerResult{Accepted: false, Reason: reason}
}

// Handler processes the payload of a distinct inbound message. It is
// invoked exactly once per message; redelivered duplicates never reach it.
type Handler interface {
	Handle(ctx context.Context, payload []byte) HandlerResult
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload []byte) HandlerResult

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, payload []byte) HandlerResult {
	return f(ctx, payload)
}

// Config holds the collaborators an Engine is built from.
type Config struct {
	// Registry and Ledger are required.
	Registry *channel.Registry
	Ledger   ledger.Ledger

	// Handler is the default application handler for channels without a
	// registered one. A message arriving with no handler at all is
	// accepted with an empty response.
	Handler Handler

	// EventHandler receives lifecycle notifications. Optional.
	EventHandler EventHandler
}

// Engine composes the channel registry, message identity, and ledger into
// the send/receive/acknowledge/timeout operations. Every operation is
// synchronous bookkeeping: hashing, cursor moves, and ledger writes, with
// no internal retries and no waiting on I/O beyond the ledger itself.
type Engine struct {
	registry *channel.Registry
	ledger   ledger.Ledger

	mu             sync.RWMutex
	handlers       map[string]Handler
	defaultHandler Handler

	// recvLocks serializes admission and ledger recording per channel,
	// so the receive cursor and the message record move together.
	recvMu    sync.Mutex
	recvLocks map[string]*sync.Mutex

	eventHandler EventHandler
}

// New creates a delivery engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, errors.New("channel registry is required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	return &Engine{
		registry:       cfg.Registry,
		ledger:         cfg.Ledger,
		handlers:       make(map[string]Handler),
		defaultHandler: cfg.Handler,
		recvLocks:      make(map[string]*sync.Mutex),
		eventHandler:   cfg.EventHandler,
	}, nil
}

// receiveLock returns the channel's receive serialization lock.
func (e *Engine) receiveLock(channelID string) *sync.Mutex {
	e.recvMu.Lock()
	defer e.recvMu.Unlock()

	mu, ok := e.recvLocks[channelID]
	if !ok {
		mu = new(sync.Mutex)
		e.recvLocks[channelID] = mu
	}
	return mu
}

// RegisterHandler installs the application handler for one channel,
// overriding the engine default.
func (e *Engine) RegisterHandler(channelID string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[channelID] = h
}

func (e *Engine) handlerFor(channelID string) Handler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if h, ok := e.handlers[channelID]; ok {
		return h
	}
	return e.defaultHandler
}

// Send records a new outbound message on the channel and returns its id.
// The caller hands the packet to the transport afterwards; if that
// dispatch fails, the Sent record stands and the retry must resubmit the
// same packet rather than call Send again.
func (e *Engine) Send(ctx context.Context, channelID string, payload []byte) (identity.MessageID, error) {
	ch, err := e.registry.Get(channelID)
	if err != nil {
		return identity.MessageID{}, err
	}

	seq, err := ch.AllocateSend()
	if err != nil {
		return identity.MessageID{}, err
	}

	msg := ledger.New(channelID, seq, payload, identity.Outbound)
	if err := e.ledger.RecordSent(ctx, msg); err != nil {
		// A duplicate id here means identity or sequencing broke an
		// invariant; this is fatal to the request, not a benign replay.
		return identity.MessageID{}, fmt.Errorf("recording sent message: %w", err)
	}

	e.emit(Event{
		Type:      EventMessageSent,
		MessageID: msg.ID,
		ChannelID: channelID,
		Sequence:  seq,
		After:     ledger.StateSent,
	})
	return msg.ID, nil
}

// Receive processes one inbound delivery from a transport adapter. The
// adapter is trusted to have verified payload authenticity already; the
// engine only does admission, dedup, and lifecycle bookkeeping.
// Admission and recording for a channel run as one critical section, so
// deliveries on the same channel serialize up to the handler call.
func (e *Engine) Receive(ctx context.Context, channelID string, sequence uint64, payload []byte) (ProcessingResult, error) {
	ch, err := e.registry.Get(channelID)
	if err != nil {
		return ProcessingResult{}, err
	}

	msg, replay, err := e.admitAndRecord(ctx, ch, channelID, sequence, payload)
	if msg == nil {
		return replay, err
	}

	e.emit(Event{
		Type:      EventMessageReceived,
		MessageID: msg.ID,
		ChannelID: channelID,
		Sequence:  sequence,
		After:     ledger.StateReceived,
	})

	return e.runHandler(ctx, ch, msg)
}

// admitAndRecord gates the sequence and records the admitted message
// under the channel's receive lock. The cursor never advances without
// the record landing: a concurrent identical redelivery blocks here
// until the record exists and then classifies as Duplicate, and a
// recording failure rewinds the cursor so the transport's redelivery
// can claim the sequence again.
func (e *Engine) admitAndRecord(ctx context.Context, ch *channel.Channel, channelID string, sequence uint64, payload []byte) (*ledger.Message, ProcessingResult, error) {
	mu := e.receiveLock(channelID)
	mu.Lock()
	defer mu.Unlock()

	verdict, err := ch.AdmitReceive(sequence)
	if err != nil {
		return nil, ProcessingResult{}, err
	}

	switch verdict {
	case channel.Duplicate:
		result, err := e.classifyReplay(ctx, channelID, sequence, payload)
		return nil, result, err

	case channel.OutOfOrder:
		e.emit(Event{
			Type:      EventReceiveOutOfOrder,
			ChannelID: channelID,
			Sequence:  sequence,
		})
		return nil, ProcessingResult{
			Outcome: OutcomeOutOfOrder,
			Reason:  fmt.Sprintf("sequence %d ahead of receive cursor", sequence),
		}, nil
	}

	msg := ledger.New(channelID, sequence, payload, identity.Inbound)
	if err := e.ledger.RecordReceived(ctx, msg); err != nil {
		if errors.Is(err, ledger.ErrAlreadyExists) {
			// The cursor said this sequence was fresh but the id is
			// already recorded: same sequence, different history.
			e.emit(Event{
				Type:      EventReceiveConflict,
				MessageID: msg.ID,
				ChannelID: channelID,
				Sequence:  sequence,
			})
			return nil, ProcessingResult{
				Outcome:   OutcomeConflict,
				MessageID: msg.ID,
				Reason:    "sequence admitted but id already recorded",
			}, nil
		}
		ch.RewindReceive(sequence)
		return nil, ProcessingResult{}, fmt.Errorf("recording received message: %w", err)
	}

	return msg, ProcessingResult{}, nil
}

// classifyReplay distinguishes a benign replay (same content seen before)
// from a conflict (same sequence, different content). The ledger lookup
// is what lets redelivered-but-mutated traffic surface as Conflict
// instead of disappearing as Duplicate.
func (e *Engine) classifyReplay(ctx context.Context, channelID string, sequence uint64, payload []byte) (ProcessingResult, error) {
	id := identity.Derive(channelID, sequence, payload, identity.Inbound)

	if _, err := e.ledger.Get(ctx, id); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			e.emit(Event{
				Type:      EventReceiveConflict,
				MessageID: id,
				ChannelID: channelID,
				Sequence:  sequence,
			})
			return ProcessingResult{
				Outcome:   OutcomeConflict,
				MessageID: id,
				Reason:    fmt.Sprintf("sequence %d replayed with different content", sequence),
			}, nil
		}
		return ProcessingResult{}, fmt.Errorf("looking up replayed message: %w", err)
	}

	return ProcessingResult{Outcome: OutcomeDuplicate, MessageID: id}, nil
}

func (e *Engine) runHandler(ctx context.Context, ch *channel.Channel, msg *ledger.Message) (ProcessingResult, error) {
	var result HandlerResult
	if h := e.handlerFor(ch.ID()); h != nil {
		result = h.Handle(ctx, msg.Payload)
	} else {
		result = Accept(nil)
	}

	if result.Accepted {
		if _, err := e.ledger.Transition(ctx, msg.ID, ledger.Transition{
			Event: ledger.EventProcessed,
			Ack:   result.Response,
		}); err != nil {
			return ProcessingResult{}, fmt.Errorf("marking message processed: %w", err)
		}
		e.emit(Event{
			Type:      EventMessageProcessed,
			MessageID: msg.ID,
			ChannelID: ch.ID(),
			Sequence:  msg.Sequence,
			Before:    ledger.StateReceived,
			After:     ledger.StateProcessed,
		})
		return ProcessingResult{
			Outcome:   OutcomeProcessed,
			MessageID: msg.ID,
			Response:  result.Response,
		}, nil
	}

	if _, err := e.ledger.Transition(ctx, msg.ID, ledger.Transition{
		Event:  ledger.EventRejected,
		Reason: result.Reason,
	}); err != nil {
		return ProcessingResult{}, fmt.Errorf("marking message rejected: %w", err)
	}
	e.emit(Event{
		Type:      EventMessageRejected,
		MessageID: msg.ID,
		ChannelID: ch.ID(),
		Sequence:  msg.Sequence,
		Before:    ledger.StateReceived,
		After:     ledger.StateRejected,
	})
	return ProcessingResult{
		Outcome:   OutcomeRejected,
		MessageID: msg.ID,
		Reason:    result.Reason,
	}, nil
}

// Acknowledge closes a Sent message with the remote party's confirmation.
func (e *Engine) Acknowledge(ctx context.Context, id identity.MessageID, success bool, ack []byte) error {
	msg, err := e.ledger.Transition(ctx, id, ledger.Transition{
		Event:      ledger.EventAcknowledged,
		Ack:        ack,
		AckSuccess: success,
	})
	if err != nil {
		return err
	}

	e.emit(Event{
		Type:      EventMessageAcknowledged,
		MessageID: id,
		ChannelID: msg.ChannelID,
		Sequence:  msg.Sequence,
		Before:    ledger.StateSent,
		After:     ledger.StateAcknowledged,
	})
	return nil
}

// Timeout closes a Sent message that will no longer be waited on. It is a
// terminal transition like any other, not a cancellation mechanism.
func (e *Engine) Timeout(ctx context.Context, id identity.MessageID) error {
	msg, err := e.ledger.Transition(ctx, id, ledger.Transition{
		Event:  ledger.EventTimedOut,
		Reason: "acknowledgment deadline exceeded",
	})
	if err != nil {
		return err
	}

	e.emit(Event{
		Type:      EventMessageTimedOut,
		MessageID: id,
		ChannelID: msg.ChannelID,
		Sequence:  msg.Sequence,
		Before:    ledger.StateSent,
		After:     ledger.StateTimedOut,
	})
	return nil
}

// Get returns the authoritative record for a message, so callers can
// always answer "did message X succeed" by polling instead of relying on
// a callback having fired.
func (e *Engine) Get(ctx context.Context, id identity.MessageID) (*ledger.Message, error) {
	return e.ledger.Get(ctx, id)
}

// Registry exposes the channel registry the engine operates on.
func (e *Engine) Registry() *channel.Registry {
	return e.registry
}
