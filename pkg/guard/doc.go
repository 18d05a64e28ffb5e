// Package guard composes the request guards around workspace handlers.
//
// Every guarded route runs the same fixed sequence and stops at the first
// failure:
//
//	CSRF (mutating methods, when Route.CSRF) -> rate limit -> handler
//
// Session, role and plan checks happen inside the handler, where the
// workspace is known; they report failures by returning guard errors:
//
//	c := guard.New(guard.WithLimiter(limiter), guard.WithRules(policies))
//	router.Handle("/api/v1/workspaces/{workspace_id}/skus", c.Wrap(
//		guard.Route{Name: "skus.create", CSRF: true},
//		func(w http.ResponseWriter, r *http.Request) error {
//			actor, err := resolver.RequireRole(r.Context(), workspaceID, rbac.RoleAnalyst)
//			if err != nil {
//				return err
//			}
//			...
//		},
//	)).Methods(http.MethodPost)
//
// Guard errors are written as {"code","message","http_status"} with their
// status; any other error is logged and answered with a generic 500 INTERNAL
// body. Denials are counted and recorded in the audit trail in the
// background.
package guard
