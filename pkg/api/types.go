package api

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pharoshq/pharos/pkg/rbac"
)

// SKU is a tracked product
type SKU struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	CostCents   int64     `json:"cost_cents"`
	PriceCents  int64     `json:"price_cents"`
	CreatedAt   time.Time `json:"created_at"`
}

// Competitor is a tracked competitor storefront
type Competitor struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Name        string    `json:"name"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CSVImport records an uploaded price file. Parsing happens elsewhere.
type CSVImport struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Filename    string    `json:"filename"`
	RowCount    int64     `json:"row_count"`
	Status      string    `json:"status"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// RepricingRule is an automatic pricing strategy
type RepricingRule struct {
	ID           string    `json:"id"`
	WorkspaceID  string    `json:"workspace_id"`
	Name         string    `json:"name"`
	Strategy     string    `json:"strategy"`
	MinMarginBPS int64     `json:"min_margin_bps"`
	Enabled      bool      `json:"enabled"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// Repricing strategies
const (
	StrategyMatchLowest  = "match_lowest"
	StrategyBeatLowest   = "beat_lowest"
	StrategyTargetMargin = "target_margin"
)

// ImportStatusReceived is the status of a newly recorded import
const ImportStatusReceived = "received"

// CreateSKURequest is the body of POST .../skus
type CreateSKURequest struct {
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	CostCents  int64  `json:"cost_cents"`
	PriceCents int64  `json:"price_cents"`
}

func (r *CreateSKURequest) Validate() error {
	r.SKU = strings.TrimSpace(r.SKU)
	r.Name = strings.TrimSpace(r.Name)
	if r.SKU == "" {
		return fmt.Errorf("sku is required")
	}
	if len(r.SKU) > 64 {
		return fmt.Errorf("sku must be at most 64 characters")
	}
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if r.CostCents < 0 || r.PriceCents < 0 {
		return fmt.Errorf("prices must not be negative")
	}
	return nil
}

// CreateCompetitorRequest is the body of POST .../competitors
type CreateCompetitorRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (r *CreateCompetitorRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.URL = strings.TrimSpace(r.URL)
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if r.URL != "" {
		u, err := url.Parse(r.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("url must be an absolute http(s) URL")
		}
	}
	return nil
}

// CreateImportRequest is the body of POST .../imports
type CreateImportRequest struct {
	Filename string `json:"filename"`
	RowCount int64  `json:"row_count"`
}

func (r *CreateImportRequest) Validate() error {
	r.Filename = strings.TrimSpace(r.Filename)
	if r.Filename == "" {
		return fmt.Errorf("filename is required")
	}
	if !strings.HasSuffix(strings.ToLower(r.Filename), ".csv") {
		return fmt.Errorf("filename must end in .csv")
	}
	if r.RowCount < 0 {
		return fmt.Errorf("row_count must not be negative")
	}
	return nil
}

// CreateRepricingRuleRequest is the body of POST .../repricing-rules
type CreateRepricingRuleRequest struct {
	Name         string `json:"name"`
	Strategy     string `json:"strategy"`
	MinMarginBPS int64  `json:"min_margin_bps"`
	Enabled      *bool  `json:"enabled"`
}

func (r *CreateRepricingRuleRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch r.Strategy {
	case StrategyMatchLowest, StrategyBeatLowest, StrategyTargetMargin:
	default:
		return fmt.Errorf("strategy must be one of %s, %s, %s", StrategyMatchLowest, StrategyBeatLowest, StrategyTargetMargin)
	}
	if r.MinMarginBPS < 0 || r.MinMarginBPS > 10000 {
		return fmt.Errorf("min_margin_bps must be between 0 and 10000")
	}
	return nil
}

// CSRFResponse carries a freshly issued CSRF token
type CSRFResponse struct {
	Token  string `json:"csrf_token"`
	Header string `json:"header"`
}

// MembersResponse lists a workspace's members, owners first
type MembersResponse struct {
	Members []rbac.Membership `json:"members"`
}
