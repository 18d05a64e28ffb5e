package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/pharoshq/pharos/pkg/contextkeys"
)

// EventType represents the category of audit event
type EventType string

const (
	// Guard denials
	EventTypeGuardCSRFDenied   EventType = "guard.csrf_denied"
	EventTypeGuardRateLimited  EventType = "guard.rate_limited"
	EventTypeGuardUnauthorized EventType = "guard.unauthorized"
	EventTypeGuardForbidden    EventType = "guard.forbidden"

	// Authentication events
	EventTypeAuthLogout EventType = "auth.logout"

	// Data mutation events
	EventTypeDataSKUCreate           EventType = "data.sku_create"
	EventTypeDataCompetitorCreate    EventType = "data.competitor_create"
	EventTypeDataImportCreate        EventType = "data.import_create"
	EventTypeDataRepricingRuleCreate EventType = "data.repricing_rule_create"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event is a single audit log entry
type Event struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	UserID      string `json:"user_id,omitempty"`
	WorkspaceID string `json:"workspace_id,omitempty"`

	Route     string `json:"route,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent builds an event stamped now, taking the user, route and request
// ID from ctx when present.
func NewEvent(ctx context.Context, eventType EventType, status EventStatus, message string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		UserID:    contextkeys.GetUserID(ctx),
		Route:     contextkeys.GetRoute(ctx),
		RequestID: contextkeys.GetRequestID(ctx),
		Message:   message,
	}
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
