package graph

import (
	"context"
	"net/http"
	"strings"
)

// Invitation describes a sharing invitation for one recipient.
type Invitation struct {
	Email   string
	Role    string
	Message string
}

// ListPermissions returns every sharing entry on an item, including non-user grantees.
func (c *Client) ListPermissions(ctx context.Context, driveID, itemID string) ([]Permission, error) {
	var page collection[permissionPayload]
	err := c.do(ctx, call{
		op:     "list_permissions",
		method: http.MethodGet,
		path:   "/drives/" + seg(driveID) + "/items/" + seg(itemRef(itemID)) + "/permissions",
	}, &page)
	if err != nil {
		return nil, err
	}
	perms := make([]Permission, 0, len(page.Value))
	for _, p := range page.Value {
		perms = append(perms, p.normalize())
	}
	return perms, nil
}

// Invite grants a role on an item to one email address. The invitee must sign in
// to use the grant and is notified with inv.Message.
func (c *Client) Invite(ctx context.Context, driveID, itemID string, inv Invitation) ([]Permission, error) {
	email := strings.TrimSpace(inv.Email)
	if err := Required("email", email); err != nil {
		return nil, err
	}
	if inv.Role != RoleRead && inv.Role != RoleWrite {
		return nil, &ValidationError{Field: "role", Message: "must be read or write"}
	}

	body, err := jsonBody(map[string]any{
		"recipients":     []map[string]string{{"email": email}},
		"message":        inv.Message,
		"requireSignIn":  true,
		"sendInvitation": true,
		"roles":          []string{inv.Role},
	})
	if err != nil {
		return nil, err
	}

	var page collection[permissionPayload]
	err = c.do(ctx, call{
		op:          "invite",
		method:      http.MethodPost,
		path:        "/drives/" + seg(driveID) + "/items/" + seg(itemRef(itemID)) + "/invite",
		body:        body,
		contentType: "application/json",
	}, &page)
	if err != nil {
		return nil, err
	}
	perms := make([]Permission, 0, len(page.Value))
	for _, p := range page.Value {
		perms = append(perms, p.normalize())
	}
	return perms, nil
}

// DeletePermission revokes one sharing entry.
func (c *Client) DeletePermission(ctx context.Context, driveID, itemID, permissionID string) error {
	if err := Required("permission", permissionID); err != nil {
		return err
	}
	return c.do(ctx, call{
		op:     "delete_permission",
		method: http.MethodDelete,
		path:   "/drives/" + seg(driveID) + "/items/" + seg(itemRef(itemID)) + "/permissions/" + seg(permissionID),
	}, nil)
}
