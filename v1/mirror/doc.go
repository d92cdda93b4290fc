// Package mirror propagates hot cache writes across nodes. Every local
// write publishes an event carrying the key, the slot's seqlock
// sequence and the encoded value; receiving nodes apply an event only
// if its sequence is newer than the last one applied for that key, so
// redelivery and reordering are harmless and writes become visible in
// issue order.
//
// The seqlock's single-writer precondition extends to the mirror
// group: at most one node should write a given key at a time.
//
// Buses are available for in-memory use, Redis pub/sub, NATS and
// Kafka. Events can additionally be streamed to observers over SSE or
// WebSocket.
package mirror
