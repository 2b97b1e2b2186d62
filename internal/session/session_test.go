package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casefiles/casefiles/internal/directauth"
	"github.com/casefiles/casefiles/internal/enterprise"
	"github.com/casefiles/casefiles/internal/events"
)

type fakeEnterprise struct {
	restored  *enterprise.Account
	logoutURL string
	events    *events.Broadcaster[enterprise.Event]
}

func newFakeEnterprise() *fakeEnterprise {
	return &fakeEnterprise{events: events.NewBroadcaster[enterprise.Event]("test-enterprise")}
}

func (f *fakeEnterprise) Restore(ctx context.Context) (*enterprise.Account, error) {
	return f.restored, nil
}

func (f *fakeEnterprise) Logout(ctx context.Context) (string, error) {
	f.events.Publish(enterprise.Event{Kind: enterprise.SignedOut})
	return f.logoutURL, nil
}

func (f *fakeEnterprise) Subscribe() chan enterprise.Event     { return f.events.Subscribe() }
func (f *fakeEnterprise) Unsubscribe(ch chan enterprise.Event) { f.events.Unsubscribe(ch) }

type fakeDirect struct {
	mu         sync.Mutex
	session    *directauth.Session
	lookupErr  error
	signOutErr error
	lookups    int
	events     *events.Broadcaster[directauth.Event]
}

func newFakeDirect() *fakeDirect {
	return &fakeDirect{events: events.NewBroadcaster[directauth.Event]("test-direct")}
}

func (f *fakeDirect) GetSession(ctx context.Context) (*directauth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	return f.session, f.lookupErr
}

func (f *fakeDirect) SignOut(ctx context.Context) error {
	f.mu.Lock()
	err := f.signOutErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.events.Publish(directauth.Event{Kind: directauth.SignedOut})
	return nil
}

func (f *fakeDirect) Subscribe() chan directauth.Event     { return f.events.Subscribe() }
func (f *fakeDirect) Unsubscribe(ch chan directauth.Event) { f.events.Unsubscribe(ch) }

type fakeLocal struct {
	cleared int
}

func (f *fakeLocal) ClearAll(ctx context.Context) error {
	f.cleared++
	return nil
}

func guestSession() *directauth.Session {
	return &directauth.Session{User: directauth.User{ID: "g1", Email: "guest@example.com"}}
}

func TestDerive(t *testing.T) {
	ent := &Account{Provider: "enterprise", ID: "e"}
	dir := &Account{Provider: "direct", ID: "d"}

	tests := []struct {
		name     string
		resolved bool
		ent, dir *Account
		want     ViewMode
	}{
		{"loading ignores accounts", false, ent, dir, Loading},
		{"loading without accounts", false, nil, nil, Loading},
		{"enterprise with direct", true, ent, dir, Member},
		{"enterprise only", true, ent, nil, Member},
		{"direct only", true, nil, dir, Guest},
		{"nobody", true, nil, nil, Unauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Derive(tt.resolved, tt.ent, tt.dir))
		})
	}
}

func waitMode(t *testing.T, m *Model, want ViewMode) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Mode() == want }, 2*time.Second, 5*time.Millisecond,
		"view mode never became %s", want)
}

func TestStartResolvesOnce(t *testing.T) {
	ent, dir := newFakeEnterprise(), newFakeDirect()
	dir.session = guestSession()
	m := New(ent, dir, &fakeLocal{})
	defer m.Close()

	assert.Equal(t, Loading, m.Mode())
	m.Start(context.Background())

	st := m.State()
	assert.Equal(t, Guest, st.Mode)
	require.NotNil(t, st.Direct)
	assert.Equal(t, "guest@example.com", st.Direct.Email)
	assert.Equal(t, 1, dir.lookups)
}

func TestFailedLookupIsNoSession(t *testing.T) {
	ent, dir := newFakeEnterprise(), newFakeDirect()
	dir.session = guestSession()
	dir.lookupErr = errors.New("network down")
	m := New(ent, dir, &fakeLocal{})
	defer m.Close()

	m.Start(context.Background())
	assert.Equal(t, Unauthenticated, m.Mode())
}

func TestRestoredEnterpriseIsMember(t *testing.T) {
	ent, dir := newFakeEnterprise(), newFakeDirect()
	ent.restored = &enterprise.Account{Subject: "oid", Name: "Pat", Username: "pat@firm.example"}
	dir.session = guestSession()
	m := New(ent, dir, &fakeLocal{})
	defer m.Close()

	m.Start(context.Background())
	st := m.State()
	assert.Equal(t, Member, st.Mode, "enterprise takes precedence")
	assert.NotNil(t, st.Direct)
}

func TestWatchAppliesEvents(t *testing.T) {
	ent, dir := newFakeEnterprise(), newFakeDirect()
	m := New(ent, dir, &fakeLocal{})
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Watch(ctx)

	changes := m.Subscribe()
	defer m.Unsubscribe(changes)

	m.Start(ctx)
	assert.Equal(t, Unauthenticated, (<-changes).Mode)

	dir.events.Publish(directauth.Event{Kind: directauth.SignedIn, Session: guestSession()})
	waitMode(t, m, Guest)

	ent.events.Publish(enterprise.Event{Kind: enterprise.SignedIn, Account: &enterprise.Account{Subject: "oid"}})
	waitMode(t, m, Member)

	ent.events.Publish(enterprise.Event{Kind: enterprise.SignedOut})
	waitMode(t, m, Guest)

	dir.events.Publish(directauth.Event{Kind: directauth.SignedOut})
	waitMode(t, m, Unauthenticated)
}

func TestLogoutEnterprise(t *testing.T) {
	ent, dir := newFakeEnterprise(), newFakeDirect()
	ent.restored = &enterprise.Account{Subject: "oid"}
	ent.logoutURL = "https://login.example/logout"
	local := &fakeLocal{}
	m := New(ent, dir, local)
	defer m.Close()
	m.Start(context.Background())
	require.Equal(t, Member, m.Mode())

	redirect, err := m.Logout(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://login.example/logout", redirect)
	assert.Equal(t, 1, local.cleared)
	assert.Equal(t, Unauthenticated, m.Mode())
}

func TestLogoutDirectFailureKeepsState(t *testing.T) {
	ent, dir := newFakeEnterprise(), newFakeDirect()
	dir.session = guestSession()
	m := New(ent, dir, &fakeLocal{})
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Watch(ctx)
	m.Start(ctx)

	dir.mu.Lock()
	dir.signOutErr = errors.New("identity service unavailable")
	dir.mu.Unlock()

	_, err := m.Logout(ctx)
	require.Error(t, err)
	assert.Equal(t, Guest, m.Mode())

	dir.mu.Lock()
	dir.signOutErr = nil
	dir.mu.Unlock()

	require.NoError(t, m.LogoutDirect(ctx))
	waitMode(t, m, Unauthenticated)
}

func TestGuestDisabled(t *testing.T) {
	m := New(newFakeEnterprise(), nil, &fakeLocal{})
	defer m.Close()
	m.Start(context.Background())
	assert.Equal(t, Unauthenticated, m.Mode())
	assert.ErrorIs(t, m.LogoutDirect(context.Background()), ErrNotSignedIn)
}
