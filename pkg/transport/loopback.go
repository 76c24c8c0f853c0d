package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/relaymesh/go-rmc/pkg/engine"
	"github.com/relaymesh/go-rmc/pkg/identity"
	"github.com/relaymesh/go-rmc/pkg/ledger"
)

// Loopback joins engines living in the same process: the dispatch of a
// packet is a direct Receive on the peer engine, and the peer's verdict
// flows straight back to the sender as an acknowledgment. It is the
// minimal same-chain sender/receiver pair and the reference adapter for
// the acknowledgment flow.
type Loopback struct {
	mu     sync.RWMutex
	routes map[string]loopbackRoute
}

type loopbackRoute struct {
	local           *engine.Engine
	remote          *engine.Engine
	remoteChannelID string
}

// NewLoopback creates a loopback adapter with no routes.
func NewLoopback() *Loopback {
	return &Loopback{
		routes: make(map[string]loopbackRoute),
	}
}

// Connect routes packets sent on local's localChannelID into remote's
// remoteChannelID. One call per direction: a bidirectional pair needs a
// second Connect with the roles swapped.
func (l *Loopback) Connect(localChannelID string, local *engine.Engine, remoteChannelID string, remote *engine.Engine) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.routes[localChannelID] = loopbackRoute{
		local:           local,
		remote:          remote,
		remoteChannelID: remoteChannelID,
	}
}

// Dispatch delivers the packet to the peer engine and routes the verdict
// back to the sender. Duplicate verdicts are treated as success: the
// peer already has the message, so redelivery achieved its goal.
func (l *Loopback) Dispatch(ctx context.Context, pkt Packet) error {
	l.mu.RLock()
	route, ok := l.routes[pkt.ChannelID]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRoute, pkt.ChannelID)
	}

	id, err := identity.ParseMessageID(pkt.MessageID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	res, err := route.remote.Receive(ctx, route.remoteChannelID, pkt.Sequence, pkt.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	switch res.Outcome {
	case engine.OutcomeProcessed:
		return l.ackBack(ctx, route, id, true, res.Response)
	case engine.OutcomeRejected:
		return l.ackBack(ctx, route, id, false, []byte(res.Reason))
	case engine.OutcomeDuplicate:
		return nil
	default:
		return fmt.Errorf("%w: remote reported %s: %s", ErrDispatchFailed, res.Outcome, res.Reason)
	}
}

func (l *Loopback) ackBack(ctx context.Context, route loopbackRoute, id identity.MessageID, success bool, ack []byte) error {
	err := route.local.Acknowledge(ctx, id, success, ack)
	// A redispatch can race an acknowledgment that already landed.
	if err != nil && errors.Is(err, ledger.ErrInvalidTransition) {
		return nil
	}
	return err
}

var _ Transport = (*Loopback)(nil)
