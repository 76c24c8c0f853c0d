// Copyright (c) 2025 RelayMesh Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package reliability supervises dispatched packets that are still waiting
for an acknowledgment.

The delivery engine never retries anything itself; redelivery cost and
safety are transport-layer knowledge. This package is that layer's
bookkeeping: it tracks every dispatched packet, applies a retry policy
with exponential backoff, hands back the packets whose next attempt is
due, and reports the ones that exhausted their attempts so the caller
can signal a timeout to the engine.

A retry always resubmits the original packet. Minting a new sequence or
message id for a retry would turn one logical send into two, which is
exactly the failure mode the engine's identity scheme exists to prevent.
*/
package reliability
