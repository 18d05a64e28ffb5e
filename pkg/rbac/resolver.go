package rbac

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pharoshq/pharos/pkg/contextkeys"
	"github.com/pharoshq/pharos/pkg/guarderr"
	"github.com/pharoshq/pharos/pkg/observability"
	"github.com/pharoshq/pharos/pkg/session"
)

// WorkspaceVar is the route variable holding the workspace ID
const WorkspaceVar = "workspace_id"

// Resolver maps the request session to a workspace actor
type Resolver struct {
	store   Store
	metrics *observability.Metrics
}

// NewResolver creates a resolver over store. metrics may be nil.
func NewResolver(store Store, metrics *observability.Metrics) *Resolver {
	return &Resolver{store: store, metrics: metrics}
}

// GetActorAndRole returns the caller's membership in workspaceID
func (r *Resolver) GetActorAndRole(ctx context.Context, workspaceID string) (*Actor, error) {
	ctx, span := observability.Tracer().Start(ctx, "rbac.GetActorAndRole")
	defer span.End()

	actor, err := r.resolve(ctx, workspaceID)
	r.record(ctx, err)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("pharos.role", actor.Role.String()))
	return actor, nil
}

// RequireRole is GetActorAndRole plus a minimum role check. A role below
// min fails with the same 403 as a missing membership.
func (r *Resolver) RequireRole(ctx context.Context, workspaceID string, min Role) (*Actor, error) {
	actor, err := r.GetActorAndRole(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.AtLeast(min) {
		r.metrics.RecordGuardDecision("role", contextkeys.GetRoute(ctx), observability.OutcomeDenied)
		return nil, guarderr.Forbidden()
	}
	return actor, nil
}

func (r *Resolver) resolve(ctx context.Context, workspaceID string) (*Actor, error) {
	sess, err := session.Require(ctx)
	if err != nil {
		return nil, err
	}
	if workspaceID == "" {
		return nil, guarderr.Forbidden()
	}

	m, err := r.store.GetMembership(ctx, sess.UserID, workspaceID)
	if errors.Is(err, ErrMembershipNotFound) {
		return nil, guarderr.Forbidden()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace role: %w", err)
	}

	return &Actor{
		UserID:      sess.UserID,
		WorkspaceID: workspaceID,
		Role:        m.Role,
		SessionID:   sess.ID,
	}, nil
}

func (r *Resolver) record(ctx context.Context, err error) {
	outcome := observability.OutcomeAllowed
	if err != nil {
		outcome = observability.OutcomeError
		if _, ok := guarderr.As(err); ok {
			outcome = observability.OutcomeDenied
		}
	}
	r.metrics.RecordGuardDecision("membership", contextkeys.GetRoute(ctx), outcome)
}
