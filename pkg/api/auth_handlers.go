package api

import (
	"net/http"

	"github.com/pharoshq/pharos/pkg/audit"
	"github.com/pharoshq/pharos/pkg/csrf"
	"github.com/pharoshq/pharos/pkg/httputil"
	"github.com/pharoshq/pharos/pkg/session"
)

// issueCSRF handles GET /api/v1/csrf
func (s *Server) issueCSRF(w http.ResponseWriter, r *http.Request) error {
	token, err := s.csrf.Issue(w)
	if err != nil {
		return err
	}
	w.Header().Set("Cache-Control", "no-store")
	return httputil.WriteSuccess(w, CSRFResponse{Token: token, Header: csrf.HeaderName})
}

// logout handles POST /api/v1/auth/logout
func (s *Server) logout(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	sess, err := session.Require(ctx)
	if err != nil {
		return err
	}

	if err := s.sessions.Revoke(ctx, session.TokenFromRequest(r)); err != nil && !session.IsInvalid(err) {
		return err
	}
	s.sessions.ClearCookie(w)
	s.csrf.Clear(w)

	event := audit.NewEvent(ctx, audit.EventTypeAuthLogout, audit.EventStatusSuccess, "session revoked")
	event.WorkspaceID = sess.WorkspaceID
	event.IPAddress = httputil.ClientIP(r, s.proxied)
	event.Metadata = map[string]interface{}{"session_id": sess.ID}
	s.audit.Record(ctx, event)

	return httputil.WriteSuccess(w, map[string]string{"status": "logged_out"})
}
