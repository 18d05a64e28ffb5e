// Package session maps opaque cookie tokens to authenticated sessions.
//
// A session token looks like phs_<43 base64url chars>. Stores only ever see
// its SHA-256 hash. Three stores are provided: SQLStore (sessions table),
// RedisStore (JSON value with TTL) and MemoryStore (single process).
//
// Manager.Middleware attaches a valid session to the request context and
// otherwise lets the request through anonymously; authorization layers turn
// a missing session into 401.
package session
