// Copyright (c) 2025 RelayMesh Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package compression provides GZIP payload compression for transports.

Compression is a per-channel option applied by the transport adapter
before dispatch and undone on delivery; the engine itself only ever sees
the uncompressed payload, so message identity is derived from the bytes
the application handed over, not from their wire form.
*/
package compression
