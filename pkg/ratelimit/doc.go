// Package ratelimit implements fixed-window rate limiting keyed by
// (route, scope).
//
// The window containing time t starts at floor(t / window) * window, measured
// from the Unix epoch. Each window of each key has its own counter, so a new
// window always starts at 1 and stale counters simply expire.
//
// Counters live behind the Store interface:
//
//   - MemoryStore: bounded LRU, one mutex per counter
//   - RedisStore: INCR + PEXPIRE in a MULTI, shared across instances
//
// Rules per route come from a YAML Policy which PolicySet can hot-reload.
package ratelimit
