// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package netmgr is the network I/O core of a DNS server distribution.
// It multiplexes UDP, TCP, length-prefixed DNS-over-TCP, and TLS sockets
// across a fixed pool of worker goroutines, each driving its own
// single-threaded event loop.
//
// # Scope
//
// netmgr owns socket lifecycle, handle accounting, connection quotas,
// per-connection timeouts, shutdown coordination, and cross-worker
// command dispatch. It does not parse DNS messages, resolve names, pick
// retry policy, or persist anything to disk — those are the job of the
// resolver, zone database, and configuration layers that sit above it
// and interact with netmgr purely as callback-driven clients: register a
// listener with an accept callback, receive handles, read/write bytes,
// request close.
//
// # Concurrency model
//
// A [Manager] owns a fixed-size pool of workers; each worker
// runs one goroutine driving one cooperative event loop, processing a
// priority queue and a normal queue of tagged netievent records. Every
// connection socket is pinned to exactly one worker for its whole
// lifetime (its tid); listener sockets are not pinned, only their
// children and accepted connections are. All mutation of a socket's I/O
// state happens on that worker's
// goroutine. Callers on other goroutines interact with a socket only by
// enqueuing an event — there is no per-socket mutex on the hot path.
//
// # Handles
//
// A [Handle] is a reference-counted, user-facing token naming one
// connection endpoint. The owning socket — not the handle — holds the
// authoritative reference: the socket's active-handle table lets a
// forced close walk, invalidate, and release every live handle in O(n)
// without waiting on caller-held references.
//
// # Transports
//
// UDP is raw datagrams capped at a configurable maxudp. TCP is a byte
// stream with read back-pressure (pause/resume) and an accept quota.
// TCPDNS wraps TCP with RFC 1035 §4.2.2 two-byte length-prefix framing
// and a configurable per-connection in-flight query limit. TLS wraps TCP
// with a handshake/IO/closing/error state machine driving a
// caller-supplied *tls.Config.
package netmgr
