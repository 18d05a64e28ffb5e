// Package async runs best-effort background work with panic recovery and
// timeouts. Nothing started here may block or fail an HTTP response.
package async
