package engine

import (
	"time"

	"github.com/relaymesh/go-rmc/pkg/identity"
	"github.com/relaymesh/go-rmc/pkg/ledger"
)

// EventType names a lifecycle notification.
type EventType string

const (
	// EventMessageSent fires when a Sent entry is recorded
	EventMessageSent EventType = "message.sent"
	// EventMessageReceived fires when an inbound message is first recorded
	EventMessageReceived EventType = "message.received"
	// EventMessageProcessed fires when the handler accepts an inbound message
	EventMessageProcessed EventType = "message.processed"
	// EventMessageRejected fires when the handler declines an inbound message
	EventMessageRejected EventType = "message.rejected"
	// EventMessageAcknowledged fires when a Sent message is acknowledged
	EventMessageAcknowledged EventType = "message.acknowledged"
	// EventMessageTimedOut fires when a Sent message is timed out
	EventMessageTimedOut EventType = "message.timed_out"

	// EventReceiveOutOfOrder fires when the transport delivers a sequence
	// ahead of the receive cursor; it indicates lost or reordered delivery
	EventReceiveOutOfOrder EventType = "receive.out_of_order"
	// EventReceiveConflict fires when a replayed sequence carries content
	// that differs from the recorded message
	EventReceiveConflict EventType = "receive.conflict"
)

// Event is one lifecycle notification handed to the observability sink.
type Event struct {
	Type      EventType
	MessageID identity.MessageID
	ChannelID string
	Sequence  uint64
	Before    ledger.State
	After     ledger.State
	Timestamp time.Time
}

// EventHandler consumes lifecycle events. Handlers run synchronously on
// the calling goroutine and should hand work off if they might block.
type EventHandler func(Event)

func (e *Engine) emit(ev Event) {
	if e.eventHandler == nil {
		return
	}
	ev.Timestamp = time.Now().UTC()
	e.eventHandler(ev)
}
