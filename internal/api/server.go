// Package api provides the loopback HTTP server a browser UI talks to.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/casefiles/casefiles/internal/directauth"
	"github.com/casefiles/casefiles/internal/enterprise"
	"github.com/casefiles/casefiles/internal/events"
	"github.com/casefiles/casefiles/internal/graph"
	"github.com/casefiles/casefiles/internal/logging"
	"github.com/casefiles/casefiles/internal/metrics"
	"github.com/casefiles/casefiles/internal/navigator"
	"github.com/casefiles/casefiles/internal/permissions"
	"github.com/casefiles/casefiles/internal/session"
	"github.com/casefiles/casefiles/internal/upload"
)

// EnterpriseLogin is the interactive half of the enterprise identity provider.
type EnterpriseLogin interface {
	StartLogin(ctx context.Context) (*enterprise.DeviceLogin, error)
	CompleteLogin(ctx context.Context) (*enterprise.Account, error)
}

// DirectAuth is the direct identity service.
type DirectAuth interface {
	SignIn(ctx context.Context, email, password string) (*directauth.Session, error)
	SignUp(ctx context.Context, email, password string) (*directauth.SignUpResult, error)
	ResetPassword(ctx context.Context, email string) error
	GetUser(ctx context.Context) (*directauth.User, error)
	UpdateUser(ctx context.Context, email, password string) (*directauth.User, error)
}

// CaseSource lists and creates cases.
type CaseSource interface {
	ListCases(ctx context.Context) ([]graph.Case, error)
	CreateCase(ctx context.Context, name, description string) (*graph.Case, error)
}

// Deps bundles the collaborators the server routes to. Direct is nil when
// guest access is disabled.
type Deps struct {
	Session       *session.Model
	Enterprise    EnterpriseLogin
	Direct        DirectAuth
	Cases         CaseSource
	Navigator     *navigator.Navigator
	Uploads       *upload.Orchestrator
	Sharing       permissions.Backend
	MaxUploadSize int64
	InviteMessage string
}

// Server is the HTTP server.
type Server struct {
	session       *session.Model
	enterprise    EnterpriseLogin
	direct        DirectAuth
	cases         CaseSource
	nav           *navigator.Navigator
	uploads       *upload.Orchestrator
	sharing       permissions.Backend
	maxUploadSize int64
	inviteMessage string

	// folder views reloaded after an upload run, keyed by batch id
	reloadMu sync.Mutex
	reloaded map[string]*navigator.Folder
}

// NewServer creates a new server.
func NewServer(d Deps) *Server {
	return &Server{
		session:       d.Session,
		enterprise:    d.Enterprise,
		direct:        d.Direct,
		cases:         d.Cases,
		nav:           d.Navigator,
		uploads:       d.Uploads,
		sharing:       d.Sharing,
		maxUploadSize: d.MaxUploadSize,
		inviteMessage: d.InviteMessage,
		reloaded:      make(map[string]*navigator.Folder),
	}
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/session", s.handleSession)
	mux.HandleFunc("GET /api/v1/session/events", s.handleSessionEvents)
	mux.HandleFunc("POST /api/v1/auth/logout", s.handleLogout)

	// Enterprise login
	mux.HandleFunc("POST /api/v1/auth/enterprise/login", s.handleEnterpriseLogin)
	mux.HandleFunc("POST /api/v1/auth/enterprise/login/complete", s.handleEnterpriseLoginComplete)
	mux.HandleFunc("POST /api/v1/auth/enterprise/logout", s.handleEnterpriseLogout)

	// Direct identity service
	mux.HandleFunc("POST /api/v1/auth/direct/sign-in", s.handleDirectSignIn)
	mux.HandleFunc("POST /api/v1/auth/direct/sign-up", s.handleDirectSignUp)
	mux.HandleFunc("POST /api/v1/auth/direct/sign-out", s.handleDirectSignOut)
	mux.HandleFunc("POST /api/v1/auth/direct/reset", s.handleDirectReset)
	mux.HandleFunc("GET /api/v1/auth/direct/user", s.handleDirectGetUser)
	mux.HandleFunc("PUT /api/v1/auth/direct/user", s.handleDirectUpdateUser)

	// Member-only endpoints
	protected := http.NewServeMux()

	protected.HandleFunc("GET /api/v1/cases", s.handleListCases)
	protected.HandleFunc("POST /api/v1/cases", s.handleCreateCase)

	protected.HandleFunc("GET /api/v1/drives/{drive}/items/{item}", s.handleFolder)
	protected.HandleFunc("POST /api/v1/drives/{drive}/items/{item}/folders", s.handleCreateFolder)
	protected.HandleFunc("POST /api/v1/drives/{drive}/items/{item}/activate", s.handleActivate)
	protected.HandleFunc("POST /api/v1/drives/{drive}/items/{item}/uploads", s.handleCreateUpload)

	protected.HandleFunc("GET /api/v1/drives/{drive}/items/{item}/permissions", s.handleListPermissions)
	protected.HandleFunc("POST /api/v1/drives/{drive}/items/{item}/permissions", s.handleGrant)
	protected.HandleFunc("DELETE /api/v1/drives/{drive}/items/{item}/permissions/{perm}", s.handleRevoke)

	protected.HandleFunc("GET /api/v1/uploads/{batch}", s.handleGetUpload)
	protected.HandleFunc("POST /api/v1/uploads/{batch}/start", s.handleStartUpload)
	protected.HandleFunc("GET /api/v1/uploads/{batch}/events", s.handleUploadEvents)
	protected.HandleFunc("DELETE /api/v1/uploads/{batch}", s.handleCloseUpload)

	gated := s.requireMember(protected)
	mux.Handle("/api/v1/cases", gated)
	mux.Handle("/api/v1/drives/", gated)
	mux.Handle("/api/v1/uploads/", gated)

	return metrics.Middleware(logging.Middleware(mux))
}

// requireMember answers 503 until the session has resolved and 403 for
// anyone who is not signed in with an enterprise account.
func (s *Server) requireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch s.session.Mode() {
		case session.Member:
			next.ServeHTTP(w, r)
		case session.Loading:
			w.Header().Set("Retry-After", "1")
			s.sendError(w, http.StatusServiceUnavailable, "session is still loading")
		default:
			s.sendError(w, http.StatusForbidden, "enterprise sign-in required")
		}
	})
}

// ─── Health & session ───────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok", "mode": string(s.session.Mode())})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.session.State())
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := startStream(w)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch := s.session.Subscribe()
	defer s.session.Unsubscribe(ch)

	writeEvent(w, flusher, "session", s.session.State())

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, flusher, "session", st)
		}
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	redirect, err := s.session.Logout(r.Context())
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"redirectUrl": redirect})
}

// ─── Enterprise login ───────────────────────────────────────────────────────

func (s *Server) handleEnterpriseLogin(w http.ResponseWriter, r *http.Request) {
	login, err := s.enterprise.StartLogin(r.Context())
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, login)
}

// handleEnterpriseLoginComplete blocks until the pending device login is
// approved or expires.
func (s *Server) handleEnterpriseLoginComplete(w http.ResponseWriter, r *http.Request) {
	acct, err := s.enterprise.CompleteLogin(r.Context())
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, acct)
}

func (s *Server) handleEnterpriseLogout(w http.ResponseWriter, r *http.Request) {
	redirect, err := s.session.LogoutEnterprise(r.Context())
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"redirectUrl": redirect})
}

// ─── Direct identity service ────────────────────────────────────────────────

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) directEnabled(w http.ResponseWriter) bool {
	if s.direct == nil {
		s.sendError(w, http.StatusNotImplemented, "guest access is not configured")
		return false
	}
	return true
}

func (s *Server) handleDirectSignIn(w http.ResponseWriter, r *http.Request) {
	if !s.directEnabled(w) {
		return
	}
	var req credentials
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.direct.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDirectSignUp(w http.ResponseWriter, r *http.Request) {
	if !s.directEnabled(w) {
		return
	}
	var req credentials
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.direct.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, res)
}

func (s *Server) handleDirectSignOut(w http.ResponseWriter, r *http.Request) {
	if !s.directEnabled(w) {
		return
	}
	if err := s.session.LogoutDirect(r.Context()); err != nil {
		s.sendErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDirectReset(w http.ResponseWriter, r *http.Request) {
	if !s.directEnabled(w) {
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.direct.ResetPassword(r.Context(), req.Email); err != nil {
		s.sendErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDirectGetUser(w http.ResponseWriter, r *http.Request) {
	if !s.directEnabled(w) {
		return
	}
	user, err := s.direct.GetUser(r.Context())
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, user)
}

func (s *Server) handleDirectUpdateUser(w http.ResponseWriter, r *http.Request) {
	if !s.directEnabled(w) {
		return
	}
	var req credentials
	if !s.decode(w, r, &req) {
		return
	}
	user, err := s.direct.UpdateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, user)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

type errorResponse struct {
	Error          string `json:"error"`
	Code           int    `json:"code"`
	Op             string `json:"op,omitempty"`
	UpstreamStatus int    `json:"upstreamStatus,omitempty"`
	RequestID      string `json:"requestId,omitempty"`
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, errorResponse{Error: message, Code: code})
}

// sendErr maps a typed error to its HTTP status.
func (s *Server) sendErr(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error(), Code: statusFor(err), RequestID: logging.RequestID(r.Context())}
	if re, ok := graph.AsRemote(err); ok {
		resp.UpstreamStatus = re.Status
	}
	if oe, ok := permissions.AsOpError(err); ok {
		resp.Op = oe.Op
	}
	if resp.Code >= 500 {
		logging.WithContext(r.Context()).Warn("request failed",
			zap.String("path", r.URL.Path), zap.Int("status", resp.Code), zap.Error(err))
	}
	s.sendJSON(w, resp.Code, resp)
}

func statusFor(err error) int {
	if de, ok := directauth.AsError(err); ok {
		if de.Status >= 400 && de.Status < 500 {
			return de.Status
		}
		return http.StatusBadGateway
	}
	switch {
	case graph.IsValidation(err), errors.Is(err, directauth.ErrNoChanges):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotSignedIn),
		errors.Is(err, directauth.ErrNoSession),
		errors.Is(err, enterprise.ErrNoAccount):
		return http.StatusUnauthorized
	case errors.Is(err, enterprise.ErrNoPendingLogin), errors.Is(err, upload.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, upload.ErrNotFound), graph.IsNotResolved(err):
		return http.StatusNotFound
	case errors.Is(err, upload.ErrClosed):
		return http.StatusGone
	case navigator.IsCycle(err), errors.Is(err, navigator.ErrTooDeep):
		return http.StatusBadGateway
	}
	if _, ok := graph.AsAuth(err); ok {
		return http.StatusUnauthorized
	}
	if _, ok := graph.AsRemote(err); ok {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func startStream(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

func writeEvent[T any](w http.ResponseWriter, flusher http.Flusher, name string, v T) {
	data, err := events.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	flusher.Flush()
}
