// Copyright (c) 2025 RelayMesh Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package transport defines the adapter boundary between the delivery
engine and concrete messaging providers, plus two reference adapters.

An adapter has two duties. Outbound, it takes a [Packet] that the engine
has already recorded and hands it to the underlying network; a failed
dispatch is reported, never rolled back, and may be retried with the
same packet. Inbound, it calls the engine's Receive only for payloads it
has verified as genuinely originating from the registered counterparty;
authenticity is entirely the adapter's problem.

Two adapters ship with the library:

  - [Loopback] joins two engines in the same process, the minimal
    same-chain sender/receiver pair. Useful for tests and examples, and
    the reference for how acknowledgments flow back to the sender.
  - [HTTPTransport] dispatches packets to a remote relay over HTTPS with
    a JSON envelope and optional GZIP payload compression.

Real cross-chain providers (IBC, Hyperlane, Axelar, Wormhole, ...) plug
in by implementing [Transport] the same way.
*/
package transport
