// Package events is a per-repository, local-machine broadcast bus for
// worktree lifecycle events.
//
// # Overview
//
// Each repository gets at most one Server. It listens on an ephemeral
// loopback TCP port and advertises itself through a discovery Record stored
// under CacheKey(repoRoot) in the events cache directory. Other processes
// find it through Store.Lookup, which only returns a record after the
// recorded process is confirmed alive and the port accepts a connection.
// Stale records are removed on sight.
//
// # Wire protocol
//
// Newline-delimited JSON over the TCP connection. The first line a client
// sends is a request frame:
//
//	{"op":"publish","event":{...envelope...}}
//	{"op":"subscribe","type":"worktree.cleaned"}
//
// The server answers every publish frame with {"op":"ack"} after the
// envelope is queued to subscribers, so sequential publishes from one
// process arrive in order. Publishers may send further frames on the same
// connection. A subscriber receives {"op":"ready"} once it is registered, followed by one
// Envelope per line for every broadcast whose type matches its filter
// exactly. An empty filter matches every type.
//
// # Delivery
//
// Delivery is at-most-once with no replay. Order matches broadcast order on
// one server. A subscriber whose buffer fills (SubscriberBuffer envelopes
// behind) is disconnected without affecting anyone else.
//
// Emitter.Emit is fire-and-forget: when no server is reachable the envelope
// is dropped and the caller never learns about it.
package events
