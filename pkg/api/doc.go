// Package api provides the PharOS HTTP API.
//
// Every route is wrapped by a guard.Composer, so mutating requests pass the
// CSRF check and all requests pass the per-route rate limit before a handler
// runs. Workspace handlers then resolve the caller's role, validate the
// body, check the workspace plan and write the row, in that order:
//
//	GET  /api/v1/csrf
//	POST /api/v1/auth/logout
//	GET  /api/v1/workspaces/{workspace_id}/plan             ANALYST
//	GET  /api/v1/workspaces/{workspace_id}/members          OWNER
//	POST /api/v1/workspaces/{workspace_id}/skus             ANALYST, sku limit
//	POST /api/v1/workspaces/{workspace_id}/competitors      ANALYST, competitor limit
//	POST /api/v1/workspaces/{workspace_id}/imports          ANALYST, csv_import, monthly import limit
//	POST /api/v1/workspaces/{workspace_id}/repricing-rules  OWNER, auto_repricing
//
// Successful mutations answer 200 with the created row and are recorded in
// the audit trail.
package api
