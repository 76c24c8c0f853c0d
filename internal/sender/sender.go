// Package sender provides background packet dispatch for the RMC relay
// daemon.
//
// The Dispatcher runs as a background worker that delivers queued
// packets through the configured transport and supervises them until
// they are acknowledged.
//
// # Retry Policy
//
// Failed dispatches are retried with exponential backoff through the
// reliability supervisor. Every retry resubmits the original packet;
// the sequence and message id never change across attempts. After
// MaxAttempts attempts without an acknowledgment the message is closed
// as timed out in the engine's ledger.
//
// # Exchange Patterns
//
// On request-reply channels the acknowledgment arrives through the
// transport's response path and lands in [Dispatcher.Ack]. On one-way
// channels a successful dispatch ends supervision immediately; the
// ledger record legitimately stays Sent.
package sender

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaymesh/go-rmc/pkg/engine"
	"github.com/relaymesh/go-rmc/pkg/identity"
	"github.com/relaymesh/go-rmc/pkg/reliability"
	"github.com/relaymesh/go-rmc/pkg/transport"
)

// Dispatcher delivers outbound packets and supervises acknowledgments
type Dispatcher struct {
	engine     *engine.Engine
	transport  transport.Transport
	supervisor *reliability.Supervisor
	logger     zerolog.Logger

	sweepInterval time.Duration
	queue         chan transport.Packet

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds dispatcher configuration
type Config struct {
	Policy        reliability.Policy
	SweepInterval time.Duration
	QueueSize     int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Policy:        reliability.DefaultPolicy(),
		SweepInterval: time.Second,
		QueueSize:     256,
	}
}

// NewDispatcher creates a background dispatcher
func NewDispatcher(eng *engine.Engine, tr transport.Transport, cfg *Config, logger zerolog.Logger) *Dispatcher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = time.Second
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}

	return &Dispatcher{
		engine:        eng,
		transport:     tr,
		supervisor:    reliability.NewSupervisor(cfg.Policy),
		logger:        logger,
		sweepInterval: sweep,
		queue:         make(chan transport.Packet, size),
	}
}

// Start begins background packet processing
func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.run()
	d.logger.Info().Dur("sweep_interval", d.sweepInterval).Msg("dispatcher started")
}

// Stop gracefully stops the dispatcher
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
	d.logger.Info().Msg("dispatcher stopped")
}

// Enqueue submits a packet for delivery. The packet is supervised from
// this point until acknowledgment or exhaustion. Never blocks; a full
// queue defers the first attempt to the next sweep.
func (d *Dispatcher) Enqueue(pkt transport.Packet) {
	d.supervisor.Track(pkt)
	select {
	case d.queue <- pkt:
	default:
	}
}

// Ack feeds an acknowledgment into the engine and ends supervision of
// the message. Wire this as the transport's acknowledgment callback.
func (d *Dispatcher) Ack(ctx context.Context, id identity.MessageID, success bool, ack []byte) error {
	if err := d.engine.Acknowledge(ctx, id, success, ack); err != nil {
		return err
	}
	d.supervisor.RecordAck(id.String())
	d.logger.Debug().Str("message_id", id.String()).Bool("success", success).Msg("acknowledgment recorded")
	return nil
}

// Pending returns the number of supervised packets, used by tests and
// the readiness probe.
func (d *Dispatcher) Pending() int {
	return d.supervisor.Len()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case pkt := <-d.queue:
			d.dispatch(pkt)
		case <-ticker.C:
			d.sweep()
		}
	}
}

// sweep redispatches due packets and times out exhausted ones.
func (d *Dispatcher) sweep() {
	for _, pkt := range d.supervisor.Due(time.Now()) {
		d.dispatch(pkt)
	}

	for _, pkt := range d.supervisor.Exhausted() {
		d.timeout(pkt)
	}
}

func (d *Dispatcher) dispatch(pkt transport.Packet) {
	// The packet may have been acknowledged between queueing and now.
	if _, supervised := d.supervisor.Get(pkt.MessageID); !supervised {
		return
	}

	err := d.transport.Dispatch(d.ctx, pkt)
	d.supervisor.RecordAttempt(pkt.MessageID, err)

	log := d.logger.With().
		Str("channel", pkt.ChannelID).
		Str("message_id", pkt.MessageID).
		Uint64("sequence", pkt.Sequence).
		Logger()

	if err != nil {
		log.Warn().Err(err).Msg("dispatch attempt failed")
		return
	}

	log.Debug().Msg("packet dispatched")

	if !d.expectsAck(pkt.ChannelID) {
		d.supervisor.RecordAck(pkt.MessageID)
	}
}

func (d *Dispatcher) expectsAck(channelID string) bool {
	ch, err := d.engine.Registry().Get(channelID)
	if err != nil {
		return true
	}
	return ch.Pattern().ExpectsAcknowledgment()
}

// timeout closes an exhausted message as timed out.
func (d *Dispatcher) timeout(pkt transport.Packet) {
	log := d.logger.With().
		Str("channel", pkt.ChannelID).
		Str("message_id", pkt.MessageID).
		Logger()

	id, err := identity.ParseMessageID(pkt.MessageID)
	if err != nil {
		log.Error().Err(err).Msg("exhausted packet carries malformed message id")
		return
	}

	if err := d.engine.Timeout(d.ctx, id); err != nil {
		// An acknowledgment that raced the timeout leaves the message
		// closed already; nothing further to do.
		log.Debug().Err(err).Msg("timeout transition skipped")
		return
	}
	log.Warn().Msg("message timed out after exhausting dispatch attempts")
}
