package directauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casefiles/casefiles/internal/graph"
	"github.com/casefiles/casefiles/internal/store"
)

const anonKey = "anon-key"

type fakeUser struct {
	ID       string
	Email    string
	Password string
}

// fakeGoTrue implements the identity-service endpoints the client uses.
type fakeGoTrue struct {
	mu          sync.Mutex
	users       map[string]*fakeUser // by email
	tokens      map[string]*fakeUser // access token -> user
	refresh     map[string]*fakeUser
	autoConfirm bool
	failLogout  bool
	recovered   []string
	expiresIn   int
}

func newFakeGoTrue(t *testing.T) (*fakeGoTrue, *httptest.Server) {
	f := &fakeGoTrue{
		users:     map[string]*fakeUser{},
		tokens:    map[string]*fakeUser{},
		refresh:   map[string]*fakeUser{},
		expiresIn: 3600,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", f.token)
	mux.HandleFunc("/auth/v1/signup", f.signup)
	mux.HandleFunc("/auth/v1/logout", f.logout)
	mux.HandleFunc("/auth/v1/recover", f.recover)
	mux.HandleFunc("/auth/v1/user", f.user)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != anonKey {
			reply(w, http.StatusUnauthorized, map[string]any{"message": "Invalid API key"})
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (f *fakeGoTrue) issue(u *fakeUser) map[string]any {
	access := uuid.NewString()
	refresh := uuid.NewString()
	f.tokens[access] = u
	f.refresh[refresh] = u
	return map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_in":    f.expiresIn,
		"refresh_token": refresh,
		"user":          map[string]string{"id": u.ID, "email": u.Email},
	}
}

func (f *fakeGoTrue) token(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body map[string]string
	json.NewDecoder(r.Body).Decode(&body)

	switch r.URL.Query().Get("grant_type") {
	case "password":
		u, ok := f.users[body["email"]]
		if !ok || u.Password != body["password"] {
			reply(w, http.StatusBadRequest, map[string]any{"code": 400, "error_code": "invalid_credentials", "msg": "Invalid login credentials"})
			return
		}
		reply(w, http.StatusOK, f.issue(u))
	case "refresh_token":
		u, ok := f.refresh[body["refresh_token"]]
		if !ok {
			reply(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Invalid Refresh Token: Refresh Token Not Found"})
			return
		}
		delete(f.refresh, body["refresh_token"])
		reply(w, http.StatusOK, f.issue(u))
	default:
		reply(w, http.StatusBadRequest, map[string]any{"msg": "unsupported grant_type"})
	}
}

func (f *fakeGoTrue) signup(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body map[string]string
	json.NewDecoder(r.Body).Decode(&body)
	if _, exists := f.users[body["email"]]; exists {
		reply(w, http.StatusUnprocessableEntity, map[string]any{"code": 422, "error_code": "user_already_exists", "msg": "User already registered"})
		return
	}
	u := &fakeUser{ID: uuid.NewString(), Email: body["email"], Password: body["password"]}
	f.users[u.Email] = u
	if f.autoConfirm {
		reply(w, http.StatusOK, f.issue(u))
		return
	}
	reply(w, http.StatusOK, map[string]any{"id": u.ID, "email": u.Email, "confirmation_sent_at": time.Now()})
}

func (f *fakeGoTrue) bearer(r *http.Request) (*fakeUser, bool) {
	tok := r.Header.Get("Authorization")
	if len(tok) < 7 {
		return nil, false
	}
	u, ok := f.tokens[tok[7:]]
	return u, ok
}

func (f *fakeGoTrue) logout(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLogout {
		reply(w, http.StatusInternalServerError, map[string]any{"msg": "database unavailable"})
		return
	}
	if _, ok := f.bearer(r); !ok {
		reply(w, http.StatusUnauthorized, map[string]any{"msg": "invalid JWT"})
		return
	}
	delete(f.tokens, r.Header.Get("Authorization")[7:])
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeGoTrue) recover(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body map[string]string
	json.NewDecoder(r.Body).Decode(&body)
	f.recovered = append(f.recovered, body["email"])
	reply(w, http.StatusOK, map[string]any{})
}

func (f *fakeGoTrue) user(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.bearer(r)
	if !ok {
		reply(w, http.StatusUnauthorized, map[string]any{"msg": "invalid JWT"})
		return
	}
	if r.Method == http.MethodPut {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if e, ok := body["email"]; ok {
			delete(f.users, u.Email)
			u.Email = e
			f.users[e] = u
		}
		if p, ok := body["password"]; ok {
			u.Password = p
		}
	}
	reply(w, http.StatusOK, map[string]string{"id": u.ID, "email": u.Email})
}

func (f *fakeGoTrue) with(fn func(f *fakeGoTrue)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func newTestClient(t *testing.T) (*Client, *fakeGoTrue, *store.Store) {
	t.Helper()
	fake, srv := newFakeGoTrue(t)
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	c, err := New(Config{URL: srv.URL, AnonKey: anonKey}, st)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, fake, st
}

func TestSignUpRequiresConfirmation(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()

	res, err := c.SignUp(ctx, " guest@example.com ", "hunter22")
	require.NoError(t, err)
	assert.True(t, res.ConfirmationRequired)
	assert.Nil(t, res.Session)
	assert.Equal(t, "guest@example.com", res.User.Email)

	sess, err := c.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess, "unconfirmed sign-up does not sign in")

	_, err = c.SignUp(ctx, "guest@example.com", "again")
	e, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, 422, e.Status)
	assert.Equal(t, "user_already_exists", e.Code)
	assert.Equal(t, "User already registered", e.Message)
}

func TestSignUpAutoConfirmSignsIn(t *testing.T) {
	c, fake, _ := newTestClient(t)
	fake.with(func(f *fakeGoTrue) { f.autoConfirm = true })

	events := c.Subscribe()
	defer c.Unsubscribe(events)

	res, err := c.SignUp(context.Background(), "new@example.com", "pw")
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.False(t, res.ConfirmationRequired)

	ev := <-events
	assert.Equal(t, SignedIn, ev.Kind)
}

func TestSignInSignOut(t *testing.T) {
	c, fake, st := newTestClient(t)
	ctx := context.Background()
	fake.with(func(f *fakeGoTrue) {
		f.users["guest@example.com"] = &fakeUser{ID: "u1", Email: "guest@example.com", Password: "pw"}
	})

	_, err := c.SignIn(ctx, "guest@example.com", "wrong")
	e, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, "Invalid login credentials", e.Message)

	events := c.Subscribe()
	defer c.Unsubscribe(events)

	sess, err := c.SignIn(ctx, "guest@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.User.ID)
	assert.Equal(t, SignedIn, (<-events).Kind)

	rec, err := st.LoadDirect(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UserID)

	// A failed sign-out keeps the session.
	fake.with(func(f *fakeGoTrue) { f.failLogout = true })
	err = c.SignOut(ctx)
	require.Error(t, err)
	got, err := c.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)

	fake.with(func(f *fakeGoTrue) { f.failLogout = false })
	require.NoError(t, c.SignOut(ctx))
	assert.Equal(t, SignedOut, (<-events).Kind)

	got, err = c.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
	_, err = st.LoadDirect(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetSessionRefreshesExpired(t *testing.T) {
	c, fake, st := newTestClient(t)
	ctx := context.Background()
	u := &fakeUser{ID: "u2", Email: "late@example.com", Password: "pw"}
	fake.with(func(f *fakeGoTrue) {
		f.users[u.Email] = u
		f.expiresIn = 10 // inside the refresh margin
	})

	events := c.Subscribe()
	defer c.Unsubscribe(events)

	first, err := c.SignIn(ctx, u.Email, "pw")
	require.NoError(t, err)
	<-events

	sess, err := c.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.NotEqual(t, first.AccessToken, sess.AccessToken)
	assert.Equal(t, TokenRefreshed, (<-events).Kind)

	rec, err := st.LoadDirect(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.RefreshToken, rec.RefreshToken)
}

func TestGetSessionFromStoreWithDeadRefreshToken(t *testing.T) {
	c, _, st := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, st.SaveDirect(ctx, &store.DirectRecord{
		UserID:       "u3",
		AccessToken:  "old",
		RefreshToken: "revoked",
		ExpiresAt:    time.Now().Add(-time.Hour),
	}))

	sess, err := c.GetSession(ctx)
	assert.Error(t, err)
	assert.Nil(t, sess)
	_, err = st.LoadDirect(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestResetPasswordAndValidation(t *testing.T) {
	c, fake, _ := newTestClient(t)
	ctx := context.Background()

	err := c.ResetPassword(ctx, "  ")
	assert.True(t, graph.IsValidation(err))
	_, err = c.SignIn(ctx, "a@b.c", "")
	assert.True(t, graph.IsValidation(err))

	require.NoError(t, c.ResetPassword(ctx, "forgot@example.com"))
	fake.with(func(f *fakeGoTrue) {
		assert.Equal(t, []string{"forgot@example.com"}, f.recovered)
	})
}

func TestUpdateUser(t *testing.T) {
	c, fake, _ := newTestClient(t)
	ctx := context.Background()
	fake.with(func(f *fakeGoTrue) {
		f.users["me@example.com"] = &fakeUser{ID: "u4", Email: "me@example.com", Password: "pw"}
	})

	_, err := c.UpdateUser(ctx, "x@example.com", "")
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = c.SignIn(ctx, "me@example.com", "pw")
	require.NoError(t, err)

	_, err = c.UpdateUser(ctx, "me@example.com", " ")
	assert.ErrorIs(t, err, ErrNoChanges)

	u, err := c.UpdateUser(ctx, "moved@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "moved@example.com", u.Email)

	got, err := c.GetUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "moved@example.com", got.Email)

	sess, err := c.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "moved@example.com", sess.User.Email)
}

func TestSessionFromAccessTokenClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		Email: "claims@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u5",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)

	sess := tokenResponse{AccessToken: signed}.session()
	assert.Equal(t, "u5", sess.User.ID)
	assert.Equal(t, "claims@example.com", sess.User.Email)
	assert.True(t, sess.ExpiresAt.Equal(exp))
}
