// Package hotcache provides a keyed shared-state cache where every key
// is backed by a seqlock cell, so reads are tear-free copies that never
// block the writer. The slot table is bounded; an optional
// ristretto-backed overflow tier absorbs keys beyond capacity. A
// background sweeper reclaims expired slots at a configurable interval.
package hotcache
