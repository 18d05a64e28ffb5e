package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrDuplicate is returned when a unique constraint rejects an insert
var ErrDuplicate = errors.New("duplicate record")

// Store persists tenant data. Every statement is scoped by workspace_id.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over db
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateSKU(ctx context.Context, workspaceID string, req CreateSKURequest, now time.Time) (*SKU, error) {
	sku := &SKU{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		SKU:         req.SKU,
		Name:        req.Name,
		CostCents:   req.CostCents,
		PriceCents:  req.PriceCents,
		CreatedAt:   now.UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO skus (id, workspace_id, sku, name, cost_cents, price_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sku.ID, sku.WorkspaceID, sku.SKU, sku.Name, sku.CostCents, sku.PriceCents, sku.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create sku: %w", err)
	}
	return sku, nil
}

func (s *Store) CreateCompetitor(ctx context.Context, workspaceID string, req CreateCompetitorRequest, now time.Time) (*Competitor, error) {
	c := &Competitor{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Name:        req.Name,
		URL:         req.URL,
		CreatedAt:   now.UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO competitors (id, workspace_id, name, url, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.WorkspaceID, c.Name, c.URL, c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create competitor: %w", err)
	}
	return c, nil
}

func (s *Store) CreateImport(ctx context.Context, workspaceID, userID string, req CreateImportRequest, now time.Time) (*CSVImport, error) {
	imp := &CSVImport{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Filename:    req.Filename,
		RowCount:    req.RowCount,
		Status:      ImportStatusReceived,
		CreatedBy:   userID,
		CreatedAt:   now.UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO csv_imports (id, workspace_id, filename, row_count, status, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, imp.ID, imp.WorkspaceID, imp.Filename, imp.RowCount, imp.Status, imp.CreatedBy, imp.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record import: %w", err)
	}
	return imp, nil
}

func (s *Store) CreateRepricingRule(ctx context.Context, workspaceID, userID string, req CreateRepricingRuleRequest, now time.Time) (*RepricingRule, error) {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	rule := &RepricingRule{
		ID:           uuid.NewString(),
		WorkspaceID:  workspaceID,
		Name:         req.Name,
		Strategy:     req.Strategy,
		MinMarginBPS: req.MinMarginBPS,
		Enabled:      enabled,
		CreatedBy:    userID,
		CreatedAt:    now.UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repricing_rules (id, workspace_id, name, strategy, min_margin_bps, enabled, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rule.ID, rule.WorkspaceID, rule.Name, rule.Strategy, rule.MinMarginBPS, rule.Enabled, rule.CreatedBy, rule.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create repricing rule: %w", err)
	}
	return rule, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// sqlite3 reports constraint failures only through the message
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
