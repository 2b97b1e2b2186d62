// Package directauth is the email/password identity-service collaborator. It
// speaks the GoTrue REST protocol, keeps the current session in the local
// store and publishes session changes.
package directauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/casefiles/casefiles/internal/events"
	"github.com/casefiles/casefiles/internal/graph"
	"github.com/casefiles/casefiles/internal/logging"
	"github.com/casefiles/casefiles/internal/metrics"
	"github.com/casefiles/casefiles/internal/store"
)

// refreshMargin is how long before expiry a session is refreshed.
const refreshMargin = 30 * time.Second

var (
	// ErrNoSession is returned by calls that need a signed-in user.
	ErrNoSession = errors.New("no direct session")
	// ErrNoChanges is returned by UpdateUser when nothing would change.
	ErrNoChanges = errors.New("no changes to update")
)

// Error is the normalized identity-service error.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// AsError checks if an error is an identity-service Error and returns it.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// User is an identity-service user.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a signed-in direct session.
type Session struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expiresAt"`
	User         User      `json:"user"`
}

func (s *Session) expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.Add(refreshMargin).After(s.ExpiresAt)
}

// SignUpResult is the outcome of SignUp. Session is nil when the service
// requires email confirmation first.
type SignUpResult struct {
	User                 User     `json:"user"`
	Session              *Session `json:"session,omitempty"`
	ConfirmationRequired bool     `json:"confirmationRequired"`
}

// EventKind names a session change.
type EventKind string

const (
	SignedIn       EventKind = "signed_in"
	SignedOut      EventKind = "signed_out"
	TokenRefreshed EventKind = "token_refreshed"
	UserUpdated    EventKind = "user_updated"
)

// Event is published on every session change. Session is nil for SignedOut.
type Event struct {
	Kind    EventKind `json:"kind"`
	Session *Session  `json:"session,omitempty"`
}

// SessionStore persists the current session.
type SessionStore interface {
	SaveDirect(ctx context.Context, rec *store.DirectRecord) error
	LoadDirect(ctx context.Context) (*store.DirectRecord, error)
	ClearDirect(ctx context.Context) error
}

// Config holds client configuration.
type Config struct {
	URL        string
	AnonKey    string
	RedirectTo string // optional redirect for confirmation and recovery emails
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the identity service. Safe for concurrent use.
type Client struct {
	baseURL    string
	anonKey    string
	redirectTo string
	httpClient *http.Client
	store      SessionStore

	mu      sync.Mutex
	current *Session
	loaded  bool

	events *events.Broadcaster[Event]
}

// New creates a client.
func New(cfg Config, st SessionStore) (*Client, error) {
	if cfg.URL == "" || cfg.AnonKey == "" {
		return nil, errors.New("directauth: url and anon key are required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/") + "/auth/v1",
		anonKey:    cfg.AnonKey,
		redirectTo: cfg.RedirectTo,
		httpClient: hc,
		store:      st,
		events:     events.NewBroadcaster[Event]("direct"),
	}, nil
}

// Subscribe returns a channel of session changes.
func (c *Client) Subscribe() chan Event {
	return c.events.Subscribe()
}

// Unsubscribe releases a channel returned by Subscribe.
func (c *Client) Unsubscribe(ch chan Event) {
	c.events.Unsubscribe(ch)
}

// Close releases subscribers.
func (c *Client) Close() {
	c.events.Close()
}

// GetSession returns the current session, loading it from the store on first
// use and refreshing it when it is about to expire. It returns nil without an
// error when nobody is signed in. A failed refresh drops the session.
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	sess, loaded := c.current, c.loaded
	c.mu.Unlock()

	if !loaded {
		rec, err := c.store.LoadDirect(ctx)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("load direct session: %w", err)
		default:
			sess = &Session{
				AccessToken:  rec.AccessToken,
				RefreshToken: rec.RefreshToken,
				ExpiresAt:    rec.ExpiresAt,
				User:         User{ID: rec.UserID, Email: rec.Email},
			}
		}
		c.mu.Lock()
		if !c.loaded {
			c.current, c.loaded = sess, true
		}
		sess = c.current
		c.mu.Unlock()
	}

	if sess == nil {
		return nil, nil
	}
	if !sess.expired(time.Now()) {
		return sess, nil
	}

	refreshed, err := c.refresh(ctx, sess.RefreshToken)
	if err != nil {
		logging.WithContext(ctx).Info("direct session refresh failed, signing out", zap.Error(err))
		c.drop(ctx)
		return nil, err
	}
	c.adopt(ctx, refreshed, TokenRefreshed)
	return refreshed, nil
}

// SignIn signs in with email and password.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if err := graph.Required("email", email); err != nil {
		return nil, err
	}
	if err := graph.Required("password", password); err != nil {
		return nil, err
	}

	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"password"}}, "",
		map[string]string{"email": email, "password": password}, &resp)
	if err != nil {
		metrics.RecordAuthAttempt("direct", false)
		return nil, err
	}
	sess := resp.session()
	metrics.RecordAuthAttempt("direct", true)
	c.adopt(ctx, sess, SignedIn)
	logging.Info("direct account signed in", zap.String("user_id", sess.User.ID))
	return sess, nil
}

// SignUp registers a new account. If the service signs the user in right
// away the session is adopted.
func (c *Client) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	email = strings.TrimSpace(email)
	if err := graph.Required("email", email); err != nil {
		return nil, err
	}
	if err := graph.Required("password", password); err != nil {
		return nil, err
	}

	var q url.Values
	if c.redirectTo != "" {
		q = url.Values{"redirect_to": {c.redirectTo}}
	}

	var raw json.RawMessage
	err := c.do(ctx, http.MethodPost, "/signup", q, "",
		map[string]string{"email": email, "password": password}, &raw)
	if err != nil {
		metrics.RecordAuthAttempt("direct_signup", false)
		return nil, err
	}
	metrics.RecordAuthAttempt("direct_signup", true)

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err == nil && tr.AccessToken != "" {
		sess := tr.session()
		c.adopt(ctx, sess, SignedIn)
		return &SignUpResult{User: sess.User, Session: sess}, nil
	}

	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("decode sign-up response: %w", err)
	}
	return &SignUpResult{User: u, ConfirmationRequired: true}, nil
}

// SignOut ends the current session on the server. On failure the local
// session is kept and the error returned.
func (c *Client) SignOut(ctx context.Context) error {
	sess, err := c.GetSession(ctx)
	if err != nil || sess == nil {
		c.drop(ctx)
		return nil
	}
	if err := c.do(ctx, http.MethodPost, "/logout", nil, sess.AccessToken, nil, nil); err != nil {
		// An already revoked token leaves nothing to sign out of.
		if e, ok := AsError(err); !ok || e.Status != http.StatusUnauthorized {
			return err
		}
	}
	c.drop(ctx)
	logging.Info("direct account signed out", zap.String("user_id", sess.User.ID))
	return nil
}

// ResetPassword requests a password recovery email.
func (c *Client) ResetPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := graph.Required("email", email); err != nil {
		return err
	}
	var q url.Values
	if c.redirectTo != "" {
		q = url.Values{"redirect_to": {c.redirectTo}}
	}
	return c.do(ctx, http.MethodPost, "/recover", q, "", map[string]string{"email": email}, nil)
}

// GetUser fetches the signed-in user from the service.
func (c *Client) GetUser(ctx context.Context) (*User, error) {
	sess, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNoSession
	}
	var u User
	if err := c.do(ctx, http.MethodGet, "/user", nil, sess.AccessToken, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUser changes the signed-in user's email and/or password. An empty
// password and an unchanged email are not updates; ErrNoChanges is returned
// when nothing is left.
func (c *Client) UpdateUser(ctx context.Context, email, password string) (*User, error) {
	sess, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNoSession
	}

	body := map[string]string{}
	if email = strings.TrimSpace(email); email != "" && email != sess.User.Email {
		body["email"] = email
	}
	if strings.TrimSpace(password) != "" {
		body["password"] = password
	}
	if len(body) == 0 {
		return nil, ErrNoChanges
	}

	var u User
	if err := c.do(ctx, http.MethodPut, "/user", nil, sess.AccessToken, body, &u); err != nil {
		return nil, err
	}

	updated := *sess
	updated.User = u
	c.adopt(ctx, &updated, UserUpdated)
	return &u, nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, errors.New("session has no refresh token")
	}
	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"refresh_token"}}, "",
		map[string]string{"refresh_token": refreshToken}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.session(), nil
}

func (c *Client) adopt(ctx context.Context, sess *Session, kind EventKind) {
	c.mu.Lock()
	c.current, c.loaded = sess, true
	c.mu.Unlock()

	err := c.store.SaveDirect(ctx, &store.DirectRecord{
		UserID:       sess.User.ID,
		Email:        sess.User.Email,
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		ExpiresAt:    sess.ExpiresAt,
	})
	if err != nil {
		logging.WithContext(ctx).Warn("failed to persist direct session", zap.Error(err))
	}
	c.events.Publish(Event{Kind: kind, Session: sess})
}

func (c *Client) drop(ctx context.Context) {
	c.mu.Lock()
	had := c.current != nil
	c.current, c.loaded = nil, true
	c.mu.Unlock()

	if err := c.store.ClearDirect(ctx); err != nil {
		logging.WithContext(ctx).Warn("failed to clear direct session", zap.Error(err))
	}
	if had {
		c.events.Publish(Event{Kind: SignedOut})
	}
}

// Wire protocol

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

func (t tokenResponse) session() *Session {
	s := &Session{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, User: t.User}
	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		s.ExpiresAt = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	default:
		s.ExpiresAt = accessTokenExpiry(t.AccessToken)
	}
	if s.User.ID == "" {
		s.User.ID, s.User.Email = accessTokenSubject(t.AccessToken)
	}
	return s
}

type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// parseUnverified reads access-token claims without checking the signature.
func parseUnverified(token string) *accessClaims {
	var claims accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil
	}
	return &claims
}

func accessTokenExpiry(token string) time.Time {
	if c := parseUnverified(token); c != nil && c.ExpiresAt != nil {
		return c.ExpiresAt.Time
	}
	return time.Time{}
}

func accessTokenSubject(token string) (sub, email string) {
	if c := parseUnverified(token); c != nil {
		return c.Subject, c.Email
	}
	return "", ""
}

// errorBody covers both error shapes the service emits.
type errorBody struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Err              string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func newError(resp *http.Response) *Error {
	e := &Error{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var body errorBody
	if json.Unmarshal(data, &body) == nil {
		e.Code = body.ErrorCode
		if e.Code == "" {
			e.Code = body.Err
		}
		for _, m := range []string{body.Msg, body.Message, body.ErrorDescription, body.Err} {
			if m != "" {
				e.Message = m
				return e
			}
		}
	}
	if text := strings.TrimSpace(string(data)); text != "" {
		e.Message = text
		return e
	}
	e.Message = resp.Status
	return e
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, bearer string, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if bearer == "" {
		bearer = c.anonKey
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity service %s: %w", path, err)
	}
	defer resp.Body.Close()

	logging.WithContext(ctx).Debug("identity service call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("identity service %s: decode response: %w", path, err)
	}
	return nil
}
