package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pharoshq/pharos/pkg/audit"
	"github.com/pharoshq/pharos/pkg/entitlements"
	"github.com/pharoshq/pharos/pkg/httputil"
	"github.com/pharoshq/pharos/pkg/rbac"
)

// Workspace handlers resolve the caller's role before reading the body so an
// outsider learns nothing from validation errors.

// getPlan handles GET /api/v1/workspaces/{workspace_id}/plan
func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	workspaceID := mux.Vars(r)[rbac.WorkspaceVar]

	if _, err := s.roles.RequireRole(ctx, workspaceID, rbac.RoleAnalyst); err != nil {
		return err
	}

	plan, err := s.plans.GetWorkspacePlan(ctx, workspaceID)
	if err != nil {
		return err
	}
	return httputil.WriteSuccess(w, plan)
}

// listMembers handles GET /api/v1/workspaces/{workspace_id}/members
func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	workspaceID := mux.Vars(r)[rbac.WorkspaceVar]

	if _, err := s.roles.RequireRole(ctx, workspaceID, rbac.RoleOwner); err != nil {
		return err
	}

	members, err := s.members.ListMembers(ctx, workspaceID)
	if err != nil {
		return err
	}
	if members == nil {
		members = []rbac.Membership{}
	}
	return httputil.WriteSuccess(w, MembersResponse{Members: members})
}

// createSKU handles POST /api/v1/workspaces/{workspace_id}/skus
func (s *Server) createSKU(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	workspaceID := mux.Vars(r)[rbac.WorkspaceVar]

	actor, err := s.roles.RequireRole(ctx, workspaceID, rbac.RoleAnalyst)
	if err != nil {
		return err
	}

	var req CreateSKURequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return nil
	}
	if err := req.Validate(); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil
	}

	if _, err := s.checkPlan(ctx, workspaceID, "", entitlements.ResourceSKUs); err != nil {
		return err
	}

	sku, err := s.store.CreateSKU(ctx, workspaceID, req, s.now())
	if errors.Is(err, ErrDuplicate) {
		httputil.WriteConflict(w, "sku already exists in this workspace")
		return nil
	}
	if err != nil {
		return err
	}

	s.recordCreate(r, actor, audit.EventTypeDataSKUCreate, sku.ID)
	return httputil.WriteSuccess(w, sku)
}

// createCompetitor handles POST /api/v1/workspaces/{workspace_id}/competitors
func (s *Server) createCompetitor(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	workspaceID := mux.Vars(r)[rbac.WorkspaceVar]

	actor, err := s.roles.RequireRole(ctx, workspaceID, rbac.RoleAnalyst)
	if err != nil {
		return err
	}

	var req CreateCompetitorRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return nil
	}
	if err := req.Validate(); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil
	}

	if _, err := s.checkPlan(ctx, workspaceID, "", entitlements.ResourceCompetitors); err != nil {
		return err
	}

	competitor, err := s.store.CreateCompetitor(ctx, workspaceID, req, s.now())
	if err != nil {
		return err
	}

	s.recordCreate(r, actor, audit.EventTypeDataCompetitorCreate, competitor.ID)
	return httputil.WriteSuccess(w, competitor)
}

// createImport handles POST /api/v1/workspaces/{workspace_id}/imports
func (s *Server) createImport(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	workspaceID := mux.Vars(r)[rbac.WorkspaceVar]

	actor, err := s.roles.RequireRole(ctx, workspaceID, rbac.RoleAnalyst)
	if err != nil {
		return err
	}

	var req CreateImportRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return nil
	}
	if err := req.Validate(); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil
	}

	if _, err := s.checkPlan(ctx, workspaceID, entitlements.FeatureCSVImport, entitlements.ResourceImports); err != nil {
		return err
	}

	imp, err := s.store.CreateImport(ctx, workspaceID, actor.UserID, req, s.now())
	if err != nil {
		return err
	}

	s.recordCreate(r, actor, audit.EventTypeDataImportCreate, imp.ID)
	return httputil.WriteSuccess(w, imp)
}

// createRepricingRule handles POST /api/v1/workspaces/{workspace_id}/repricing-rules
func (s *Server) createRepricingRule(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	workspaceID := mux.Vars(r)[rbac.WorkspaceVar]

	actor, err := s.roles.RequireRole(ctx, workspaceID, rbac.RoleOwner)
	if err != nil {
		return err
	}

	var req CreateRepricingRuleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return nil
	}
	if err := req.Validate(); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil
	}

	plan, err := s.checkPlan(ctx, workspaceID, entitlements.FeatureAutoRepricing, "")
	if err != nil {
		return err
	}
	// A margin floor is itself a gated feature
	if req.MinMarginBPS > 0 {
		if d := plan.Check(entitlements.FeatureMarginGuardrails, ""); d != nil {
			return d.Err()
		}
	}

	rule, err := s.store.CreateRepricingRule(ctx, workspaceID, actor.UserID, req, s.now())
	if err != nil {
		return err
	}

	s.recordCreate(r, actor, audit.EventTypeDataRepricingRuleCreate, rule.ID)
	return httputil.WriteSuccess(w, rule)
}

// checkPlan resolves the workspace plan and applies an optional feature and
// resource check. A denial is returned as a 403 with locked details.
func (s *Server) checkPlan(ctx context.Context, workspaceID string, feature entitlements.Feature, resource entitlements.Resource) (*entitlements.WorkspacePlan, error) {
	plan, err := s.plans.GetWorkspacePlan(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if d := plan.Check(feature, resource); d != nil {
		return nil, d.Err()
	}
	return plan, nil
}

func (s *Server) recordCreate(r *http.Request, actor *rbac.Actor, eventType audit.EventType, id string) {
	ctx := r.Context()
	event := audit.NewEvent(ctx, eventType, audit.EventStatusSuccess, "created")
	event.UserID = actor.UserID
	event.WorkspaceID = actor.WorkspaceID
	event.IPAddress = httputil.ClientIP(r, s.proxied)
	event.Metadata = map[string]interface{}{
		"id":   id,
		"role": actor.Role.String(),
	}
	s.audit.Record(ctx, event)
}
