// Copyright (c) 2025 RelayMesh Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package ledger records every sent and received message and is the sole
authority over message lifecycle state.

# State Machine

Outbound messages start in Sent and are closed out by an acknowledgment
(Acknowledged) or an explicit timeout signal (TimedOut). A message that
never receives either remains Sent indefinitely; that is a valid
terminal-pending state, not a failure.

Inbound messages start in Received and end in Processed (the application
handler accepted the payload) or Rejected (the handler declined). Both
are terminal: a Received message is never reprocessed, no matter how
often the transport replays it.

# Idempotency

RecordReceived fails with ErrAlreadyExists when the derived id is already
present, which is how callers short-circuit redelivery without invoking
the application handler a second time. RecordSent failing with
ErrDuplicateID is different in kind: given deterministic identity and
monotonic sequence allocation it cannot happen, so it is surfaced as an
invariant violation rather than silently ignored.

Messages are retained for the lifetime of the ledger for audit and
idempotency checks. Pruning, if bounded storage is required, belongs to
the storage backend.
*/
package ledger
