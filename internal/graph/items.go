package graph

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// PreviewMarker is appended to every preview URL; it hides the remote viewer's banner.
const PreviewMarker = "nb=true"

// ListChildren lists the direct children of itemID ("" or "root" for the container root).
// The order is whatever the API returns.
func (c *Client) ListChildren(ctx context.Context, driveID, itemID string) ([]Item, error) {
	var page collection[driveItemPayload]
	err := c.do(ctx, call{
		op:     "list_children",
		method: http.MethodGet,
		path:   "/drives/" + seg(driveID) + "/items/" + seg(itemRef(itemID)) + "/children",
	}, &page)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(page.Value))
	for _, p := range page.Value {
		items = append(items, p.normalize())
	}
	return items, nil
}

// GetItem fetches one item's details.
func (c *Client) GetItem(ctx context.Context, driveID, itemID string) (*Item, error) {
	var p driveItemPayload
	err := c.do(ctx, call{
		op:     "get_item",
		method: http.MethodGet,
		path:   "/drives/" + seg(driveID) + "/items/" + seg(itemRef(itemID)),
	}, &p)
	if err != nil {
		return nil, err
	}
	it := p.normalize()
	return &it, nil
}

// CreateFolder creates a folder under parentID. Name collisions are renamed by the server.
func (c *Client) CreateFolder(ctx context.Context, driveID, parentID, name string) (*Item, error) {
	name = strings.TrimSpace(name)
	if err := Required("name", name); err != nil {
		return nil, err
	}
	body, err := jsonBody(map[string]any{
		"name":                              name,
		"folder":                            map[string]any{},
		"@microsoft.graph.conflictBehavior": "rename",
	})
	if err != nil {
		return nil, err
	}

	var p driveItemPayload
	err = c.do(ctx, call{
		op:          "create_folder",
		method:      http.MethodPost,
		path:        "/drives/" + seg(driveID) + "/items/" + seg(itemRef(parentID)) + "/children",
		body:        body,
		contentType: "application/json",
	}, &p)
	if err != nil {
		return nil, err
	}
	it := p.normalize()
	return &it, nil
}

// UploadFile stores content as name under parentID with a single PUT.
// contentType is sent as declared; an empty type falls back to application/octet-stream.
func (c *Client) UploadFile(ctx context.Context, driveID, parentID, name, contentType string, content io.Reader, size int64) (*Item, error) {
	if err := Required("name", name); err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	// An empty file is sent with Content-Length: 0, never chunked.
	if size == 0 {
		content = http.NoBody
	}

	var p driveItemPayload
	err := c.do(ctx, call{
		op:          "upload_file",
		method:      http.MethodPut,
		path:        "/drives/" + seg(driveID) + "/items/" + seg(itemRef(parentID)) + ":/" + seg(name) + ":/content",
		query:       url.Values{"@microsoft.graph.conflictBehavior": {"rename"}},
		body:        content,
		size:        size,
		contentType: contentType,
	}, &p)
	if err != nil {
		return nil, err
	}
	it := p.normalize()
	return &it, nil
}

// PreviewURL returns an embeddable preview URL for a file.
func (c *Client) PreviewURL(ctx context.Context, driveID, itemID string) (string, error) {
	var resp struct {
		GetURL string `json:"getUrl"`
	}
	err := c.do(ctx, call{
		op:     "preview",
		method: http.MethodPost,
		path:   "/drives/" + seg(driveID) + "/items/" + seg(itemRef(itemID)) + "/preview",
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.GetURL == "" {
		return "", &NotResolvedError{Resource: "preview", ID: itemID}
	}
	return withPreviewMarker(resp.GetURL), nil
}

func withPreviewMarker(u string) string {
	if strings.Contains(u, "?") {
		return u + "&" + PreviewMarker
	}
	return u + "?" + PreviewMarker
}
