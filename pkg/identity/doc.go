// Copyright (c) 2025 RelayMesh Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package identity derives deterministic message identifiers.

A message id is a SHA-256 digest over an order-sensitive, length-prefixed
encoding of the fields that define a message's logical identity: channel
id, sequence number, payload, and direction. Two derivations from
identical inputs always yield the same id, which is what makes duplicate
detection and retry-safe dispatch possible downstream.

Wall-clock time and randomness are deliberately excluded from the
derivation. An id that depends on "now" cannot be re-derived after a
crash or retry, and lets two sends of identical content mint different
ids, which silently defeats deduplication.

	id := identity.Derive("orders-1", 7, payload, identity.Outbound)
	id == identity.Derive("orders-1", 7, payload, identity.Outbound) // always true
*/
package identity
