package graph

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/casefiles/casefiles/internal/logging"
	"github.com/casefiles/casefiles/internal/metrics"
)

// RootSite resolves the root site that hosts case libraries.
func (c *Client) RootSite(ctx context.Context) (*Site, error) {
	var site Site
	err := c.do(ctx, call{op: "get_root_site", method: http.MethodGet, path: "/sites/root"}, &site)
	if err != nil {
		return nil, err
	}
	if site.ID == "" {
		return nil, &NotResolvedError{Resource: "site", ID: "root"}
	}
	return &site, nil
}

// ListDrive resolves the drive backing a list. Any non-2xx answer, or a drive
// without an id, is reported as NotResolvedError; auth and transport failures
// are returned unchanged.
func (c *Client) ListDrive(ctx context.Context, siteID, listID string) (string, error) {
	var drive drivePayload
	err := c.do(ctx, call{
		op:     "get_list_drive",
		method: http.MethodGet,
		path:   "/sites/" + seg(siteID) + "/lists/" + seg(listID) + "/drive",
	}, &drive)
	if err != nil {
		if _, ok := AsRemote(err); ok {
			return "", &NotResolvedError{Resource: "drive", ID: listID, Err: err}
		}
		return "", err
	}
	if drive.ID == "" {
		return "", &NotResolvedError{Resource: "drive", ID: listID}
	}
	return drive.ID, nil
}

// ListCases returns every document library of the root site whose drive could be
// resolved. Libraries without a resolvable drive are left out; any other failure
// aborts the listing.
func (c *Client) ListCases(ctx context.Context) ([]Case, error) {
	site, err := c.RootSite(ctx)
	if err != nil {
		return nil, err
	}

	var lists collection[listPayload]
	err = c.do(ctx, call{
		op:     "list_lists",
		method: http.MethodGet,
		path:   "/sites/" + seg(site.ID) + "/lists",
		query:  url.Values{"$select": {"id,displayName,description,createdDateTime,list"}},
	}, &lists)
	if err != nil {
		return nil, err
	}

	cases := make([]Case, 0, len(lists.Value))
	for _, l := range lists.Value {
		if !l.isDocumentLibrary() {
			continue
		}
		driveID, err := c.ListDrive(ctx, site.ID, l.ID)
		if IsNotResolved(err) {
			metrics.RecordCaseSkipped()
			logging.WithContext(ctx).Info("skipping list without drive",
				zap.String("list_id", l.ID), zap.Error(err))
			continue
		}
		if err != nil {
			return nil, err
		}
		cases = append(cases, Case{
			ID:              l.ID,
			DisplayName:     l.DisplayName,
			Description:     l.Description,
			CreatedDateTime: l.CreatedDateTime,
			DriveID:         driveID,
		})
	}
	return cases, nil
}

// CreateCase creates a document library on the root site. If the new library's
// drive cannot be resolved the case is still returned, with its own id as DriveID.
func (c *Client) CreateCase(ctx context.Context, name, description string) (*Case, error) {
	name = strings.TrimSpace(name)
	if err := Required("name", name); err != nil {
		return nil, err
	}

	site, err := c.RootSite(ctx)
	if err != nil {
		return nil, err
	}

	body, err := jsonBody(map[string]any{
		"displayName": name,
		"description": description,
		"list":        map[string]string{"template": "documentLibrary"},
	})
	if err != nil {
		return nil, err
	}

	var created listPayload
	err = c.do(ctx, call{
		op:          "create_list",
		method:      http.MethodPost,
		path:        "/sites/" + seg(site.ID) + "/lists",
		body:        body,
		contentType: "application/json",
	}, &created)
	if err != nil {
		return nil, err
	}

	driveID, err := c.ListDrive(ctx, site.ID, created.ID)
	if err != nil {
		logging.WithContext(ctx).Warn("drive not resolved for new case, using list id",
			zap.String("list_id", created.ID), zap.Error(err))
		driveID = created.ID
	}

	createdAt := created.CreatedDateTime
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return &Case{
		ID:              created.ID,
		DisplayName:     name,
		Description:     description,
		CreatedDateTime: createdAt,
		DriveID:         driveID,
	}, nil
}
