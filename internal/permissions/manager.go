// Package permissions manages user sharing entries on a single drive item.
package permissions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/casefiles/casefiles/internal/graph"
	"github.com/casefiles/casefiles/internal/logging"
	"github.com/casefiles/casefiles/internal/metrics"
)

// DefaultInviteMessage is sent with every invitation unless overridden.
const DefaultInviteMessage = "You've been invited to collaborate on a file."

// Operation names carried by OpError.
const (
	OpList   = "list"
	OpGrant  = "grant"
	OpRevoke = "revoke"
)

// OpError tags a failure with the operation that produced it, so a failed
// grant is never mistaken for an empty permission list.
type OpError struct {
	Op     string
	ItemID string
	Err    error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s permissions on %s: %v", e.Op, e.ItemID, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// AsOpError checks if an error is an OpError and returns it.
func AsOpError(err error) (*OpError, bool) {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

// Entry is a permission granted to an individual user.
type Entry struct {
	ID          string   `json:"id"`
	Roles       []string `json:"roles"`
	UserID      string   `json:"userId"`
	DisplayName string   `json:"displayName"`
	Email       string   `json:"email,omitempty"`
}

// Backend is the subset of the document client the manager needs.
type Backend interface {
	ListPermissions(ctx context.Context, driveID, itemID string) ([]graph.Permission, error)
	Invite(ctx context.Context, driveID, itemID string, inv graph.Invitation) ([]graph.Permission, error)
	DeletePermission(ctx context.Context, driveID, itemID, permissionID string) error
}

// Manager is bound to one (drive, item) pair.
type Manager struct {
	backend Backend
	driveID string
	itemID  string
	message string

	mu      sync.RWMutex
	entries []Entry
}

// New creates a manager. An empty message uses DefaultInviteMessage.
func New(backend Backend, driveID, itemID, message string) *Manager {
	if message == "" {
		message = DefaultInviteMessage
	}
	return &Manager{backend: backend, driveID: driveID, itemID: itemID, message: message}
}

// UserEntries keeps only permissions granted to individual users.
func UserEntries(perms []graph.Permission) []Entry {
	out := make([]Entry, 0, len(perms))
	for _, p := range perms {
		if p.User == nil {
			continue
		}
		out = append(out, Entry{
			ID:          p.ID,
			Roles:       p.Roles,
			UserID:      p.User.ID,
			DisplayName: p.User.DisplayName,
			Email:       p.User.Email,
		})
	}
	return out
}

// List loads the item's user permissions and remembers them.
func (m *Manager) List(ctx context.Context) ([]Entry, error) {
	perms, err := m.backend.ListPermissions(ctx, m.driveID, m.itemID)
	if err != nil {
		return nil, &OpError{Op: OpList, ItemID: m.itemID, Err: err}
	}
	entries := UserEntries(perms)

	m.mu.Lock()
	m.entries = entries
	m.mu.Unlock()
	return entries, nil
}

// Entries returns the last loaded list.
func (m *Manager) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Grant invites email with role, then reloads the full list. A failed
// reload after a successful invitation is reported as a list error.
func (m *Manager) Grant(ctx context.Context, email, role string) ([]Entry, error) {
	email = strings.TrimSpace(email)
	_, err := m.backend.Invite(ctx, m.driveID, m.itemID, graph.Invitation{
		Email:   email,
		Role:    role,
		Message: m.message,
	})
	metrics.RecordPermissionChange(OpGrant, err == nil)
	if err != nil {
		logging.WithContext(ctx).Warn("grant failed",
			zap.String("item_id", m.itemID), zap.String("role", role), zap.Error(err))
		return nil, &OpError{Op: OpGrant, ItemID: m.itemID, Err: err}
	}
	logging.WithContext(ctx).Info("access granted",
		zap.String("item_id", m.itemID), zap.String("email", email), zap.String("role", role))
	return m.List(ctx)
}

// Revoke deletes one entry, then reloads the full list.
func (m *Manager) Revoke(ctx context.Context, permissionID string) ([]Entry, error) {
	err := m.backend.DeletePermission(ctx, m.driveID, m.itemID, permissionID)
	metrics.RecordPermissionChange(OpRevoke, err == nil)
	if err != nil {
		logging.WithContext(ctx).Warn("revoke failed",
			zap.String("item_id", m.itemID), zap.String("permission_id", permissionID), zap.Error(err))
		return nil, &OpError{Op: OpRevoke, ItemID: m.itemID, Err: err}
	}
	logging.WithContext(ctx).Info("access revoked",
		zap.String("item_id", m.itemID), zap.String("permission_id", permissionID))
	return m.List(ctx)
}
