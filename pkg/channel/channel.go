// Package channel implements channel lifecycle and per-channel sequencing.
package channel

import (
	"errors"
	"sync"

	"github.com/relaymesh/go-rmc/pkg/exchange"
)

// Common errors
var (
	// ErrChannelNotFound is returned when no channel exists for the given id
	ErrChannelNotFound = errors.New("channel not found")
	// ErrChannelInactive is returned for operations on a closed channel
	ErrChannelInactive = errors.New("channel inactive")
	// ErrChannelExists is returned when establishing an id that is already registered
	ErrChannelExists = errors.New("channel already exists")
	// ErrInvalidConfig is returned for malformed channel configuration
	ErrInvalidConfig = errors.New("invalid channel configuration")
)

// Admission is the verdict of gating an inbound sequence number.
type Admission string

const (
	// Accept admits the sequence and advances the receive cursor
	Accept Admission = "ACCEPT"
	// Duplicate marks a sequence below the receive cursor (already admitted)
	Duplicate Admission = "DUPLICATE"
	// OutOfOrder marks a sequence ahead of the receive cursor
	OutOfOrder Admission = "OUT_OF_ORDER"
)

// Config describes a channel to be established.
type Config struct {
	// ChannelID is the stable identifier of the channel. Left empty, the
	// registry generates one at establishment.
	ChannelID string

	// LocalPort and RemotePort name the application endpoints bound to
	// each end of the channel.
	LocalPort  string
	RemotePort string

	// RemoteChannelID is the counterparty's identifier for this conduit.
	RemoteChannelID string

	// SequenceStart is the first sequence number assigned on each cursor,
	// 0 or 1. It is fixed at establishment for the channel's lifetime.
	SequenceStart uint64

	// Pattern is the exchange pattern messages on this channel follow.
	// Defaults to exchange.Default.
	Pattern exchange.Pattern

	// Compress enables payload compression on transports that support it.
	Compress bool
}

func (c *Config) validate() error {
	if c.LocalPort == "" || c.RemotePort == "" {
		return errors.New("local and remote ports are required")
	}
	if c.RemoteChannelID == "" {
		return errors.New("remote channel id is required")
	}
	if c.SequenceStart > 1 {
		return errors.New("sequence start must be 0 or 1")
	}
	if c.Pattern != "" && !c.Pattern.Valid() {
		return errors.New("unknown exchange pattern")
	}
	return nil
}

// Channel is one established conduit and its sequence cursors. All methods
// are safe for concurrent use; cursor reads and advances for a channel are
// serialized by its own lock, so operations on distinct channels never
// contend.
type Channel struct {
	mu     sync.Mutex
	cfg    Config
	active bool

	nextSend uint64
	nextRecv uint64
}

func newChannel(cfg Config) *Channel {
	return &Channel{
		cfg:      cfg,
		active:   true,
		nextSend: cfg.SequenceStart,
		nextRecv: cfg.SequenceStart,
	}
}

// ID returns the channel identifier.
func (c *Channel) ID() string { return c.cfg.ChannelID }

// Config returns a copy of the channel's configuration.
func (c *Channel) Config() Config { return c.cfg }

// Pattern returns the channel's exchange pattern.
func (c *Channel) Pattern() exchange.Pattern {
	if c.cfg.Pattern == "" {
		return exchange.Default
	}
	return c.cfg.Pattern
}

// Active reports whether the channel accepts traffic.
func (c *Channel) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// AllocateSend returns the next outbound sequence number and advances the
// send cursor. It fails with ErrChannelInactive once the channel is closed.
func (c *Channel) AllocateSend() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return 0, ErrChannelInactive
	}

	seq := c.nextSend
	c.nextSend++
	return seq, nil
}

// AdmitReceive gates an inbound sequence number against the receive
// cursor. Only the exactly-expected sequence is accepted; acceptance
// advances the cursor, so of two concurrent calls for the same sequence
// exactly one observes Accept and the other Duplicate.
func (c *Channel) AdmitReceive(sequence uint64) (Admission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return "", ErrChannelInactive
	}

	switch {
	case sequence < c.nextRecv:
		return Duplicate, nil
	case sequence > c.nextRecv:
		return OutOfOrder, nil
	default:
		c.nextRecv = sequence + 1
		return Accept, nil
	}
}

// RewindReceive returns the receive cursor to sequence after the caller
// failed to record the admitted message. It is a no-op unless the cursor
// sits immediately past sequence, so a stale rewind cannot reopen an
// already-settled slot.
func (c *Channel) RewindReceive(sequence uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nextRecv == sequence+1 {
		c.nextRecv = sequence
	}
}

// Cursors returns the current (nextSend, nextRecv) cursor pair.
func (c *Channel) Cursors() (uint64, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextSend, c.nextRecv
}

func (c *Channel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
}
