package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pharoshq/pharos/pkg/audit"
	"github.com/pharoshq/pharos/pkg/csrf"
	"github.com/pharoshq/pharos/pkg/entitlements"
	"github.com/pharoshq/pharos/pkg/guard"
	"github.com/pharoshq/pharos/pkg/httputil"
	"github.com/pharoshq/pharos/pkg/observability"
	"github.com/pharoshq/pharos/pkg/rbac"
	"github.com/pharoshq/pharos/pkg/session"
)

// DefaultMaxBodyBytes caps JSON request bodies
const DefaultMaxBodyBytes = 1 << 20

// MemberLister lists the memberships of a workspace
type MemberLister interface {
	ListMembers(ctx context.Context, workspaceID string) ([]rbac.Membership, error)
}

// Deps are the collaborators the server routes through. DB, Sessions,
// Roles, Plans and Guard are required.
type Deps struct {
	DB           *sql.DB
	Sessions     *session.Manager
	CSRF         *csrf.Verifier
	Roles        *rbac.Resolver
	Members      MemberLister
	Plans        *entitlements.Resolver
	Guard        *guard.Composer
	Audit        *audit.Recorder
	Logger       *observability.Logger
	Metrics      *observability.Metrics
	MaxBodyBytes int64
	TrustProxy   bool
	// Now stamps created rows; defaults to time.Now.
	Now func() time.Time
}

// Server represents our API server
type Server struct {
	router   *mux.Router
	store    *Store
	sessions *session.Manager
	csrf     *csrf.Verifier
	roles    *rbac.Resolver
	members  MemberLister
	plans    *entitlements.Resolver
	guard    *guard.Composer
	audit    *audit.Recorder
	logger   *observability.Logger
	metrics  *observability.Metrics
	maxBody  int64
	proxied  bool
	now      func() time.Time
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		store:    NewStore(deps.DB),
		sessions: deps.Sessions,
		csrf:     deps.CSRF,
		roles:    deps.Roles,
		members:  deps.Members,
		plans:    deps.Plans,
		guard:    deps.Guard,
		audit:    deps.Audit,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		maxBody:  deps.MaxBodyBytes,
		proxied:  deps.TrustProxy,
		now:      deps.Now,
	}
	if s.csrf == nil {
		s.csrf = csrf.NewVerifier(csrf.Config{})
	}
	if s.members == nil {
		s.members = rbac.NewSQLStore(deps.DB)
	}
	if s.logger == nil {
		s.logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if s.maxBody <= 0 {
		s.maxBody = DefaultMaxBodyBytes
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.Use(s.metrics.HTTPMiddleware(routeName))
	}
	s.router.Use(s.sessions.Middleware)

	s.route("/api/v1/csrf", guard.Route{Name: "csrf.issue"}, s.issueCSRF, http.MethodGet)
	s.route("/api/v1/auth/logout", guard.Route{Name: "auth.logout", CSRF: true}, s.logout, http.MethodPost)

	ws := "/api/v1/workspaces/{" + rbac.WorkspaceVar + "}"
	s.route(ws+"/plan", guard.Route{Name: "plan.get"}, s.getPlan, http.MethodGet)
	s.route(ws+"/members", guard.Route{Name: "members.list"}, s.listMembers, http.MethodGet)
	s.route(ws+"/skus", guard.Route{Name: "skus.create", CSRF: true}, s.createSKU, http.MethodPost)
	s.route(ws+"/competitors", guard.Route{Name: "competitors.create", CSRF: true}, s.createCompetitor, http.MethodPost)
	s.route(ws+"/imports", guard.Route{Name: "imports.create", CSRF: true}, s.createImport, http.MethodPost)
	s.route(ws+"/repricing-rules", guard.Route{Name: "repricing_rules.create", CSRF: true}, s.createRepricingRule, http.MethodPost)
}

func (s *Server) route(path string, route guard.Route, h guard.Handler, method string) {
	s.router.Handle(path, s.guard.Wrap(route, h)).Methods(method).Name(route.Name)
}

// Router returns the bare router, without the outer middleware chain
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router behind request ID, recovery, logging, security
// headers, body limit and tracing middleware.
func (s *Server) Handler() http.Handler {
	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.SecurityHeadersMiddleware,
		httputil.MaxBytesMiddleware(s.maxBody),
	)
	return otelhttp.NewHandler(chain(s.router), "pharos-api")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if name := route.GetName(); name != "" {
			return name
		}
	}
	return "unmatched"
}
