// Copyright (c) 2025 RelayMesh Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package engine implements the delivery engine, the single entry point
through which transport adapters and applications drive reliable message
exchange.

# Outbound

Send allocates the next sequence on the channel, derives the message id,
and records a Sent entry in the ledger before returning the id. Handing
the packet to the transport is the caller's next, separate step: a failed
dispatch never rolls back the Sent record, and a retry must resubmit the
same packet to the transport rather than call Send again, which would
mint a new sequence and id.

# Inbound

Receive admits the sequence through the channel's receive cursor first.
Replays of an already-admitted sequence come back as Duplicate without
touching the handler; a sequence ahead of the cursor is rejected as
OutOfOrder; a replayed sequence whose payload differs from the recorded
message is a Conflict, which is surfaced and never auto-resolved. Only
the exactly-expected sequence reaches the application handler, exactly
once, and the handler's verdict closes the message as Processed or
Rejected.

# Lifecycle closure

Acknowledge and Timeout close out Sent entries. Both are plain ledger
transitions; the engine runs no timers and retries nothing on its own.
Retry and timeout policy belong to the transport adapter layer (see
pkg/reliability), which alone knows the cost of redelivery.

Every state change is emitted as an [Event] to the configured sink for
audit and monitoring. Events are outputs only; the engine never reads
them back.
*/
package engine
