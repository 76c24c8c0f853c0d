// Copyright (c) 2025 RelayMesh Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package exchange defines the message exchange patterns a channel can be
established with.

A OneWay channel carries fire-and-forget messages: the sender does not
expect an acknowledgment, and a sent message legitimately remains in the
Sent state forever. A RequestReply channel expects every sent message to
be closed out by an acknowledgment (or an explicit timeout), which makes
its messages eligible for redispatch supervision.
*/
package exchange
