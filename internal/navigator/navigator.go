// Package navigator loads folder views: the sorted children of a folder and
// the breadcrumb chain from the container root down to it.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/casefiles/casefiles/internal/graph"
	"github.com/casefiles/casefiles/internal/logging"
	"github.com/casefiles/casefiles/internal/metrics"
)

// DefaultMaxDepth bounds the breadcrumb walk.
const DefaultMaxDepth = 256

// ErrTooDeep is returned when a breadcrumb walk exceeds the depth bound.
var ErrTooDeep = errors.New("breadcrumb chain exceeds maximum depth")

// CycleError reports a parent chain that revisits an item.
type CycleError struct {
	DriveID string
	ItemID  string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("parent cycle in drive %s at item %s", e.DriveID, e.ItemID)
}

// IsCycle reports whether err is a CycleError.
func IsCycle(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}

// Source is the subset of the document client the navigator needs.
type Source interface {
	ListChildren(ctx context.Context, driveID, itemID string) ([]graph.Item, error)
	GetItem(ctx context.Context, driveID, itemID string) (*graph.Item, error)
	PreviewURL(ctx context.Context, driveID, itemID string) (string, error)
	CreateFolder(ctx context.Context, driveID, parentID, name string) (*graph.Item, error)
}

// Crumb is one breadcrumb segment.
type Crumb struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Folder is a loaded folder view.
type Folder struct {
	DriveID     string       `json:"driveId"`
	ItemID      string       `json:"itemId"`
	Items       []graph.Item `json:"items"`
	Breadcrumbs []Crumb      `json:"breadcrumbs"`
}

// Navigator loads folder views. It keeps no per-folder state.
type Navigator struct {
	src      Source
	locale   language.Tag
	maxDepth int
}

// New creates a navigator that sorts names for locale (a BCP 47 tag).
// An unparsable locale falls back to English.
func New(src Source, locale string) *Navigator {
	tag, err := language.Parse(locale)
	if err != nil {
		logging.Warn("invalid sort locale, using en", zap.String("locale", locale), zap.Error(err))
		tag = language.English
	}
	return &Navigator{src: src, locale: tag, maxDepth: DefaultMaxDepth}
}

// SetMaxDepth overrides the breadcrumb depth bound.
func (n *Navigator) SetMaxDepth(depth int) {
	if depth > 0 {
		n.maxDepth = depth
	}
}

func isRoot(itemID string) bool {
	return itemID == "" || itemID == graph.RootItemID
}

// LoadFolder fetches a folder's children and rebuilds its breadcrumbs
// concurrently. Both must succeed.
func (n *Navigator) LoadFolder(ctx context.Context, driveID, itemID string) (*Folder, error) {
	if err := graph.Required("drive", driveID); err != nil {
		return nil, err
	}
	if isRoot(itemID) {
		itemID = graph.RootItemID
	}

	var (
		items  []graph.Item
		crumbs []Crumb
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		children, err := n.src.ListChildren(gctx, driveID, itemID)
		if err != nil {
			return err
		}
		items = SortItems(children, n.locale)
		return nil
	})
	g.Go(func() error {
		chain, err := n.Breadcrumbs(gctx, driveID, itemID)
		if err != nil {
			return err
		}
		crumbs = chain
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Folder{
		DriveID:     driveID,
		ItemID:      crumbs[len(crumbs)-1].ID,
		Items:       items,
		Breadcrumbs: crumbs,
	}, nil
}

// Breadcrumbs walks parent references from itemID up to the container root.
// The first crumb is the root and the last is itemID. A missing parent
// reference is a NotResolvedError; a revisited id is a CycleError.
func (n *Navigator) Breadcrumbs(ctx context.Context, driveID, itemID string) ([]Crumb, error) {
	root, err := n.src.GetItem(ctx, driveID, graph.RootItemID)
	if err != nil {
		return nil, err
	}
	rootCrumb := Crumb{ID: root.ID, Name: root.Name}
	if isRoot(itemID) || itemID == root.ID {
		metrics.RecordBreadcrumbDepth(1)
		return []Crumb{rootCrumb}, nil
	}

	cur, err := n.src.GetItem(ctx, driveID, itemID)
	if err != nil {
		return nil, err
	}

	// Collected leaf first, reversed at the end.
	path := []Crumb{{ID: cur.ID, Name: cur.Name}}
	visited := map[string]bool{root.ID: true, cur.ID: true}

	for cur.ParentID != root.ID {
		if cur.ParentID == "" {
			return nil, &graph.NotResolvedError{Resource: "parent", ID: cur.ID}
		}
		if visited[cur.ParentID] {
			return nil, &CycleError{DriveID: driveID, ItemID: cur.ParentID}
		}
		if len(path) >= n.maxDepth {
			return nil, ErrTooDeep
		}
		visited[cur.ParentID] = true

		parent, err := n.src.GetItem(ctx, driveID, cur.ParentID)
		if err != nil {
			if re, ok := graph.AsRemote(err); ok && re.Status == 404 {
				return nil, &graph.NotResolvedError{Resource: "parent", ID: cur.ID, Err: err}
			}
			return nil, err
		}
		path = append(path, Crumb{ID: parent.ID, Name: parent.Name})
		cur = parent
	}

	chain := make([]Crumb, 0, len(path)+1)
	chain = append(chain, rootCrumb)
	for i := len(path) - 1; i >= 0; i-- {
		chain = append(chain, path[i])
	}
	metrics.RecordBreadcrumbDepth(len(chain))
	return chain, nil
}

// SortItems returns a new slice with folders before files, each group
// ordered by case-insensitive, locale-aware name. Ties fall back to the raw
// name and then the id so the order never depends on the input order.
func SortItems(items []graph.Item, locale language.Tag) []graph.Item {
	out := make([]graph.Item, len(items))
	copy(out, items)

	col := collate.New(locale, collate.IgnoreCase)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsFolder != b.IsFolder {
			return a.IsFolder
		}
		if c := col.CompareString(a.Name, b.Name); c != 0 {
			return c < 0
		}
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c < 0
		}
		return a.ID < b.ID
	})
	return out
}

// Kind is what activating an item does.
type Kind string

const (
	Navigate     Kind = "navigate"
	OpenExternal Kind = "open_external"
	Preview      Kind = "preview"
)

// Activation is the result of selecting an item.
type Activation struct {
	Kind   Kind   `json:"kind"`
	ItemID string `json:"itemId"`
	URL    string `json:"url,omitempty"`
}

// IsOfficeDocument reports whether mimeType is an office format that opens
// in its web editor rather than the embedded preview.
func IsOfficeDocument(mimeType string) bool {
	return strings.Contains(mimeType, "officedocument") ||
		strings.Contains(mimeType, "presentation") ||
		strings.Contains(mimeType, "spreadsheet")
}

// Activate decides what selecting item does. Folders navigate, office
// documents with a web link open externally and everything else gets a
// preview URL. A preview failure is returned without touching any listing.
func (n *Navigator) Activate(ctx context.Context, driveID string, item graph.Item) (*Activation, error) {
	switch {
	case item.IsFolder:
		return &Activation{Kind: Navigate, ItemID: item.ID}, nil
	case item.WebURL != "" && IsOfficeDocument(item.MimeType):
		return &Activation{Kind: OpenExternal, ItemID: item.ID, URL: item.WebURL}, nil
	}

	u, err := n.src.PreviewURL(ctx, driveID, item.ID)
	if err != nil {
		logging.WithContext(ctx).Info("preview unavailable",
			zap.String("item_id", item.ID), zap.Error(err))
		return nil, err
	}
	return &Activation{Kind: Preview, ItemID: item.ID, URL: u}, nil
}

// ActivateID fetches the item first, then activates it.
func (n *Navigator) ActivateID(ctx context.Context, driveID, itemID string) (*Activation, error) {
	item, err := n.src.GetItem(ctx, driveID, itemID)
	if err != nil {
		return nil, err
	}
	return n.Activate(ctx, driveID, *item)
}

// CreateFolder creates a folder under parentID. The caller reloads the view.
func (n *Navigator) CreateFolder(ctx context.Context, driveID, parentID, name string) (*graph.Item, error) {
	if isRoot(parentID) {
		parentID = graph.RootItemID
	}
	return n.src.CreateFolder(ctx, driveID, parentID, name)
}
