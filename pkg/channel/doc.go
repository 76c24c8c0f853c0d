// Copyright (c) 2025 RelayMesh Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package channel manages logical message channels and their sequence
cursors.

A channel is an ordered conduit between two parties. Each channel owns a
pair of monotonic sequence cursors: the next sequence to assign to an
outbound message, and the next sequence expected from the remote party.
Cursors only ever move forward and reset only when a channel is
re-established.

# Sequencing

Outbound sequences are allocated with [Channel.AllocateSend]. Inbound
sequences are gated by [Channel.AdmitReceive], which yields one of three
verdicts:

  - Accept: the sequence is exactly the one expected; the cursor advances.
  - Duplicate: the sequence is below the cursor; the transport replayed a
    message that was already admitted.
  - OutOfOrder: the sequence is ahead of the cursor. Out-of-order
    delivery is rejected rather than buffered: silently accepting it
    would advance the cursor past the gap and permanently hide the
    skipped sequence.

# Lifecycle

Channels are created by [Registry.Establish] and deactivated by
[Registry.Close]. A closed channel refuses allocation and admission with
[ErrChannelInactive]; it is never implicitly recreated.
*/
package channel
