// Package auth generates and validates the opaque tokens used for sessions and
// CSRF protection. Tokens are random, prefixed by kind, and stored only as a
// SHA-256 hash.
package auth
