// Copyright (c) 2025 RelayMesh Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package discovery resolves the relay endpoint a channel dispatches to.

Two resolvers are provided. StaticResolver serves endpoints from a fixed
channel-to-URL map and suits small fixed topologies. DNSResolver looks
up TXT records published under _rmc.<domain> and extracts the endpoint
URL, so operators can repoint a relay without touching peer
configuration.

The TXT record format is:

	v=rmc1 endpoint=https://relay.example.com/v1/deliver

Records may carry an optional channel=<id> key; a record naming the
channel being resolved wins over a wildcard record. A domain that
publishes no _rmc records resolves to the well-known location
https://<domain>/v1/deliver.

Either resolver plugs into the transport layer through Endpoints.
*/
package discovery
