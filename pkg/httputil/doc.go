// Package httputil holds JSON response writers, request parsing helpers and
// the generic middleware (request IDs, logging, recovery) shared by every
// HTTP surface.
//
// All error bodies share one shape:
//
//	{"code": "FORBIDDEN", "message": "Forbidden", "http_status": 403}
package httputil
