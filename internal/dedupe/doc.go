// Package dedupe tracks recently seen message ids.
//
// The realtime channel is at-least-once, so consumers see redeliveries
// after reconnects. Cache.SeenOrMark is the single atomic check-and-record
// they need; entries expire by TTL and the cache is size-bounded with
// oldest-first eviction.
package dedupe
