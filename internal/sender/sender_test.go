package sender

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/go-rmc/pkg/channel"
	"github.com/relaymesh/go-rmc/pkg/engine"
	"github.com/relaymesh/go-rmc/pkg/exchange"
	"github.com/relaymesh/go-rmc/pkg/identity"
	"github.com/relaymesh/go-rmc/pkg/ledger"
	"github.com/relaymesh/go-rmc/pkg/reliability"
	"github.com/relaymesh/go-rmc/pkg/transport"
)

// flakyTransport fails a fixed number of attempts, then succeeds and
// reports an acknowledgment through the dispatcher.
type flakyTransport struct {
	mu         sync.Mutex
	failures   int
	attempts   int
	dispatcher *Dispatcher
	ackPayload []byte
}

func (t *flakyTransport) Dispatch(ctx context.Context, pkt transport.Packet) error {
	t.mu.Lock()
	t.attempts++
	fail := t.attempts <= t.failures
	t.mu.Unlock()

	if fail {
		return errors.New("connection refused")
	}
	if t.dispatcher != nil {
		id, err := identity.ParseMessageID(pkt.MessageID)
		if err != nil {
			return err
		}
		return t.dispatcher.Ack(ctx, id, true, t.ackPayload)
	}
	return nil
}

func (t *flakyTransport) attemptCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

func newTestEngine(t *testing.T, pattern exchange.Pattern) *engine.Engine {
	t.Helper()

	reg := channel.NewRegistry()
	_, err := reg.Establish(channel.Config{
		ChannelID:       "c1",
		LocalPort:       "app",
		RemotePort:      "app",
		RemoteChannelID: "c1-peer",
		Pattern:         pattern,
	})
	require.NoError(t, err)

	eng, err := engine.New(engine.Config{Registry: reg, Ledger: ledger.NewMemoryLedger()})
	require.NoError(t, err)
	return eng
}

func fastConfig(maxAttempts int) *Config {
	return &Config{
		Policy: reliability.Policy{
			MaxAttempts: maxAttempts,
			Interval:    time.Millisecond,
			Multiplier:  1,
		},
		SweepInterval: 5 * time.Millisecond,
	}
}

func sendPacket(t *testing.T, eng *engine.Engine) transport.Packet {
	t.Helper()
	ctx := context.Background()

	id, err := eng.Send(ctx, "c1", []byte("hello"))
	require.NoError(t, err)

	msg, err := eng.Get(ctx, id)
	require.NoError(t, err)

	return transport.Packet{
		ChannelID: "c1",
		MessageID: id.String(),
		Sequence:  msg.Sequence,
		Payload:   msg.Payload,
	}
}

func TestDispatcher_RetriesUntilAcknowledged(t *testing.T) {
	eng := newTestEngine(t, exchange.RequestReply)
	tr := &flakyTransport{failures: 2, ackPayload: []byte("ok")}

	d := NewDispatcher(eng, tr, fastConfig(5), zerolog.Nop())
	tr.dispatcher = d
	d.Start(context.Background())
	defer d.Stop()

	pkt := sendPacket(t, eng)
	d.Enqueue(pkt)

	id, err := identity.ParseMessageID(pkt.MessageID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msg, err := eng.Get(context.Background(), id)
		return err == nil && msg.State == ledger.StateAcknowledged
	}, 2*time.Second, 5*time.Millisecond)

	msg, err := eng.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), msg.Ack)
	assert.True(t, msg.AckSuccess)
	assert.Equal(t, 3, tr.attemptCount())
	assert.Zero(t, d.Pending())
}

func TestDispatcher_TimesOutAfterExhaustion(t *testing.T) {
	eng := newTestEngine(t, exchange.RequestReply)
	tr := &flakyTransport{failures: 1 << 30}

	d := NewDispatcher(eng, tr, fastConfig(3), zerolog.Nop())
	d.Start(context.Background())
	defer d.Stop()

	pkt := sendPacket(t, eng)
	d.Enqueue(pkt)

	id, err := identity.ParseMessageID(pkt.MessageID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msg, err := eng.Get(context.Background(), id)
		return err == nil && msg.State == ledger.StateTimedOut
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 3, tr.attemptCount())
	assert.Zero(t, d.Pending())
}

func TestDispatcher_OneWaySucceedsWithoutAck(t *testing.T) {
	eng := newTestEngine(t, exchange.OneWay)
	tr := &flakyTransport{}

	d := NewDispatcher(eng, tr, fastConfig(3), zerolog.Nop())
	d.Start(context.Background())
	defer d.Stop()

	pkt := sendPacket(t, eng)
	d.Enqueue(pkt)

	require.Eventually(t, func() bool {
		return d.Pending() == 0
	}, 2*time.Second, 5*time.Millisecond)

	// The record legitimately stays Sent: one-way channels close no loop.
	id, err := identity.ParseMessageID(pkt.MessageID)
	require.NoError(t, err)
	msg, err := eng.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateSent, msg.State)
	assert.Equal(t, 1, tr.attemptCount())
}

func TestDispatcher_AckBeforeRetrySkipsDispatch(t *testing.T) {
	eng := newTestEngine(t, exchange.RequestReply)
	tr := &flakyTransport{failures: 1 << 30}

	d := NewDispatcher(eng, tr, &Config{
		Policy: reliability.Policy{
			MaxAttempts: 3,
			Interval:    time.Hour,
			Multiplier:  1,
		},
		SweepInterval: 5 * time.Millisecond,
	}, zerolog.Nop())
	d.Start(context.Background())
	defer d.Stop()

	pkt := sendPacket(t, eng)
	d.Enqueue(pkt)

	require.Eventually(t, func() bool {
		return tr.attemptCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// An out-of-band acknowledgment arrives before the next attempt.
	id, err := identity.ParseMessageID(pkt.MessageID)
	require.NoError(t, err)
	require.NoError(t, d.Ack(context.Background(), id, true, nil))

	assert.Zero(t, d.Pending())
	assert.Equal(t, 1, tr.attemptCount())
}
