// Package rbac resolves the caller's role inside a workspace.
//
// # Overview
//
// Every workspace-scoped operation runs on behalf of an Actor: the user
// behind the request session plus their membership role in the target
// workspace. Roles form a strict ladder:
//
//	OWNER   (weight 2) - manages rules, billing, members
//	ANALYST (weight 1) - reads data and creates SKUs, competitors, imports
//
// # Resolution
//
//	actor, err := resolver.GetActorAndRole(ctx, workspaceID)
//	actor, err := resolver.RequireRole(ctx, workspaceID, rbac.RoleOwner)
//
// Resolution fails with a guard error:
//
//	no session in ctx          -> UNAUTHORIZED (401)
//	not a member of workspace  -> FORBIDDEN (403)
//	member below minimum role  -> FORBIDDEN (403)
//
// The two 403 cases are rendered identically so callers cannot tell a
// workspace they do not belong to from one where their role is too low.
// Store failures, including a session store that could not be reached,
// are returned wrapped and should surface as 500.
package rbac
