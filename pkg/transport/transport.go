// Package transport implements the RMC transport adapter boundary.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrNoRoute is returned when no endpoint or peer is known for a channel
	ErrNoRoute = errors.New("no route for channel")
	// ErrDispatchFailed is returned when the underlying network refused or
	// could not carry the packet; the caller may retry the same packet
	ErrDispatchFailed = errors.New("dispatch failed")
)

// Packet is one recorded outbound message on its way to the network.
// MessageID is carried in hex form so the envelope stays transport
// friendly.
type Packet struct {
	ChannelID  string `json:"channelId"`
	MessageID  string `json:"messageId"`
	Sequence   uint64 `json:"sequence"`
	Payload    []byte `json:"payload"`
	Compressed bool   `json:"compressed,omitempty"`
}

// DeliveryResponse is what the receiving relay reports back for one
// delivered packet. Outcome values mirror engine.Outcome.
type DeliveryResponse struct {
	Outcome   string `json:"outcome"`
	MessageID string `json:"messageId"`
	Response  []byte `json:"response,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Transport hands packets to an underlying messaging provider. Dispatch
// must only be called after the engine recorded the Sent entry; a
// dispatch error never unwinds that record.
type Transport interface {
	Dispatch(ctx context.Context, pkt Packet) error
}

// EndpointFunc resolves the remote relay endpoint for a channel.
type EndpointFunc func(ctx context.Context, channelID string) (string, error)

// StaticEndpoints builds an EndpointFunc from a fixed channel-to-URL map.
func StaticEndpoints(endpoints map[string]string) EndpointFunc {
	return func(ctx context.Context, channelID string) (string, error) {
		url, ok := endpoints[channelID]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrNoRoute, channelID)
		}
		return url, nil
	}
}
