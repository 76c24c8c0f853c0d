// Copyright (c) 2025 RelayMesh Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package gormc implements RMC, a reliable message channel engine for
cross-provider messaging.

# Overview

go-rmc is the shared reliable-messaging core that cross-chain and
cross-system transport adapters plug into. Given an unordered,
at-least-once transport that moves opaque byte payloads between two
parties, it provides application-level channels with unique message
identity, per-channel ordering, deduplicated delivery, and a
sent/acknowledged/timed-out lifecycle for outbound messages.

The engine deliberately does not verify that a delivered payload was
authentically produced by the counterparty. That trust decision belongs
to the transport adapter, which performs whatever proof, signature, or
consensus verification its provider requires before handing payloads to
the engine.

# Package Structure

The library is organized into the following packages:

	github.com/relaymesh/go-rmc/pkg/engine      - Delivery engine: send, receive, acknowledge, timeout
	github.com/relaymesh/go-rmc/pkg/channel     - Channel registry and per-channel sequencing
	github.com/relaymesh/go-rmc/pkg/ledger      - Message ledger and lifecycle state machine
	github.com/relaymesh/go-rmc/pkg/identity    - Deterministic message identity derivation
	github.com/relaymesh/go-rmc/pkg/transport   - Transport adapter contract, loopback and HTTPS adapters
	github.com/relaymesh/go-rmc/pkg/reliability - Redispatch supervision for unacknowledged messages
	github.com/relaymesh/go-rmc/pkg/exchange    - Exchange patterns (one-way, request/reply)
	github.com/relaymesh/go-rmc/pkg/compression - GZIP payload compression
	github.com/relaymesh/go-rmc/pkg/discovery   - Remote relay endpoint discovery

Server-side plumbing (configuration, persistent ledger backends, the
relay HTTP surface, and the dispatch worker) lives under internal/ and
is wired together by cmd/rmcd.

# Quick Start

Two parties in the same process, joined by the loopback transport:

	reg := channel.NewRegistry()
	ch, _ := reg.Establish(channel.Config{
	    ChannelID:       "orders-1",
	    LocalPort:       "orders",
	    RemotePort:      "orders",
	    RemoteChannelID: "orders-1r",
	})

	eng, _ := engine.New(engine.Config{
	    Registry: reg,
	    Ledger:   ledger.NewMemoryLedger(),
	    Handler: engine.HandlerFunc(func(ctx context.Context, payload []byte) engine.HandlerResult {
	        return engine.Accept([]byte("ok"))
	    }),
	})

	id, _ := eng.Send(ctx, ch.ID(), []byte("hello"))
	// Hand id + payload to a transport adapter. On the remote side the
	// adapter calls Receive, and the acknowledgment flows back through
	// Acknowledge(id, true, ack).

See examples/basic for a complete runnable exchange.
*/
package gormc
