// Package session tracks the enterprise and direct accounts and derives the
// view mode that gates every other operation.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/casefiles/casefiles/internal/directauth"
	"github.com/casefiles/casefiles/internal/enterprise"
	"github.com/casefiles/casefiles/internal/events"
	"github.com/casefiles/casefiles/internal/logging"
	"github.com/casefiles/casefiles/internal/metrics"
)

// ViewMode is the derived authentication state.
type ViewMode string

const (
	Loading         ViewMode = "loading"
	Unauthenticated ViewMode = "unauthenticated"
	Guest           ViewMode = "guest"
	Member          ViewMode = "member"
)

// Account is a signed-in account of either kind.
type Account struct {
	Provider string `json:"provider"`
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// State is a snapshot of both accounts and the mode derived from them.
type State struct {
	Mode       ViewMode `json:"mode"`
	Enterprise *Account `json:"enterprise,omitempty"`
	Direct     *Account `json:"direct,omitempty"`
}

// Derive computes the view mode. Until the initial direct lookup has
// resolved the mode is Loading regardless of the accounts.
func Derive(resolved bool, enterprise, direct *Account) ViewMode {
	switch {
	case !resolved:
		return Loading
	case enterprise != nil:
		return Member
	case direct != nil:
		return Guest
	default:
		return Unauthenticated
	}
}

// EnterpriseProvider is the enterprise identity collaborator.
type EnterpriseProvider interface {
	Restore(ctx context.Context) (*enterprise.Account, error)
	Logout(ctx context.Context) (string, error)
	Subscribe() chan enterprise.Event
	Unsubscribe(ch chan enterprise.Event)
}

// DirectProvider is the direct identity collaborator.
type DirectProvider interface {
	GetSession(ctx context.Context) (*directauth.Session, error)
	SignOut(ctx context.Context) error
	Subscribe() chan directauth.Event
	Unsubscribe(ch chan directauth.Event)
}

// LocalState is the persisted session data.
type LocalState interface {
	ClearAll(ctx context.Context) error
}

// ErrNotSignedIn is returned by Logout when neither account is present.
var ErrNotSignedIn = errors.New("not signed in")

// Model holds the two account cells. Safe for concurrent use.
type Model struct {
	ent    EnterpriseProvider
	direct DirectProvider
	local  LocalState

	entCh    chan enterprise.Event
	directCh chan directauth.Event

	mu         sync.RWMutex
	resolved   bool
	enterprise *Account
	directAcct *Account
	lastMode   ViewMode

	changes *events.Broadcaster[State]
}

// New creates a model and subscribes to both providers. direct may be nil
// when guest access is disabled.
func New(ent EnterpriseProvider, direct DirectProvider, local LocalState) *Model {
	m := &Model{
		ent:      ent,
		direct:   direct,
		local:    local,
		lastMode: Loading,
		changes:  events.NewBroadcaster[State]("session"),
	}
	m.entCh = ent.Subscribe()
	if direct != nil {
		m.directCh = direct.Subscribe()
	}
	return m
}

// State returns the current snapshot. The mode is always recomputed.
func (m *Model) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateLocked()
}

func (m *Model) stateLocked() State {
	return State{
		Mode:       Derive(m.resolved, m.enterprise, m.directAcct),
		Enterprise: m.enterprise,
		Direct:     m.directAcct,
	}
}

// Mode returns the current view mode.
func (m *Model) Mode() ViewMode {
	return m.State().Mode
}

// Start restores the cached enterprise account and performs the single
// initial direct-session lookup. A failed lookup counts as no session.
func (m *Model) Start(ctx context.Context) {
	acct, err := m.ent.Restore(ctx)
	if err != nil {
		logging.WithContext(ctx).Warn("enterprise session restore failed", zap.Error(err))
	}

	var direct *Account
	if m.direct != nil {
		sess, err := m.direct.GetSession(ctx)
		if err != nil {
			logging.WithContext(ctx).Info("direct session lookup failed, treating as signed out", zap.Error(err))
		}
		if err == nil && sess != nil {
			direct = fromDirect(sess)
		}
	}

	m.update(func() {
		if acct != nil {
			m.enterprise = fromEnterprise(acct)
		}
		m.directAcct = direct
		m.resolved = true
	})
}

// Watch applies provider events until ctx is done.
func (m *Model) Watch(ctx context.Context) {
	entCh, directCh := m.entCh, m.directCh
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-entCh:
			if !ok {
				entCh = nil
				continue
			}
			m.applyEnterprise(ev)
		case ev, ok := <-directCh:
			if !ok {
				directCh = nil
				continue
			}
			m.applyDirect(ev)
		}
	}
}

func (m *Model) applyEnterprise(ev enterprise.Event) {
	m.update(func() {
		switch ev.Kind {
		case enterprise.SignedIn:
			if ev.Account != nil {
				m.enterprise = fromEnterprise(ev.Account)
			}
		case enterprise.SignedOut:
			m.enterprise = nil
		}
	})
}

func (m *Model) applyDirect(ev directauth.Event) {
	m.update(func() {
		switch ev.Kind {
		case directauth.SignedOut:
			m.directAcct = nil
		default:
			if ev.Session != nil {
				m.directAcct = fromDirect(ev.Session)
			}
		}
	})
}

// update mutates the cells under the lock and publishes the new state.
func (m *Model) update(fn func()) {
	m.mu.Lock()
	fn()
	st := m.stateLocked()
	changed := st.Mode != m.lastMode
	m.lastMode = st.Mode
	m.mu.Unlock()

	if changed {
		metrics.RecordViewMode(string(st.Mode))
		logging.Info("view mode changed", zap.String("mode", string(st.Mode)))
	}
	m.changes.Publish(st)
}

// Subscribe returns a channel of state changes.
func (m *Model) Subscribe() chan State {
	return m.changes.Subscribe()
}

// Unsubscribe releases a channel returned by Subscribe.
func (m *Model) Unsubscribe(ch chan State) {
	m.changes.Unsubscribe(ch)
}

// LogoutEnterprise clears all local session data, forgets the enterprise
// account and returns the provider's logout redirect URL.
func (m *Model) LogoutEnterprise(ctx context.Context) (string, error) {
	if err := m.local.ClearAll(ctx); err != nil {
		return "", fmt.Errorf("clear local session data: %w", err)
	}
	redirect, err := m.ent.Logout(ctx)
	m.update(func() { m.enterprise = nil })
	if err != nil {
		return "", err
	}
	return redirect, nil
}

// LogoutDirect signs the direct account out. A failure is returned and the
// state is left alone; the cell clears when the sign-out event arrives.
func (m *Model) LogoutDirect(ctx context.Context) error {
	if m.direct == nil {
		return ErrNotSignedIn
	}
	if err := m.direct.SignOut(ctx); err != nil {
		logging.WithContext(ctx).Warn("direct sign-out failed", zap.Error(err))
		return err
	}
	return nil
}

// Logout signs out whichever account determines the current view mode. The
// returned URL is non-empty only for an enterprise logout.
func (m *Model) Logout(ctx context.Context) (string, error) {
	switch m.Mode() {
	case Member:
		return m.LogoutEnterprise(ctx)
	case Guest:
		return "", m.LogoutDirect(ctx)
	default:
		return "", ErrNotSignedIn
	}
}

// Close unsubscribes from the providers and closes state subscribers.
func (m *Model) Close() {
	m.ent.Unsubscribe(m.entCh)
	if m.direct != nil {
		m.direct.Unsubscribe(m.directCh)
	}
	m.changes.Close()
}

func fromEnterprise(a *enterprise.Account) *Account {
	return &Account{Provider: "enterprise", ID: a.Subject, Name: a.Name, Email: a.Username}
}

func fromDirect(s *directauth.Session) *Account {
	return &Account{Provider: "direct", ID: s.User.ID, Email: s.User.Email}
}
