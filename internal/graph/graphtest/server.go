// Package graphtest provides an in-memory fake of the remote document API.
// It serves the subset of endpoints the graph client uses and is shared by
// the package tests and the mockgraph binary.
package graphtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const documentLibrary = "documentLibrary"

type list struct {
	ID          string
	DisplayName string
	Description string
	Template    string
	Created     time.Time
	DriveID     string
}

type item struct {
	ID        string
	Name      string
	ParentID  string
	IsFolder  bool
	MimeType  string
	Content   []byte
	Created   time.Time
	Modified  time.Time
	CreatedBy string
}

type grantee struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
}

type permission struct {
	ID    string
	Roles []string
	User  *grantee
	App   *grantee
}

type drive struct {
	ID     string
	RootID string
	Items  map[string]*item
	Perms  map[string][]*permission
}

// Server is a fake document API. The zero value is not usable; call New.
type Server struct {
	// Token, when non-empty, is the only bearer token accepted.
	Token string

	mu         sync.Mutex
	siteID     string
	lists      map[string]*list
	listOrder  []string
	drives     map[string]*drive
	failUpload map[string]bool
	failDrive  map[string]bool
	noPreview  map[string]bool
	requests   map[string]int
	uploadGate chan struct{}

	router chi.Router
}

// New creates an empty fake with a root site.
func New() *Server {
	s := &Server{
		siteID:     "site-" + uuid.NewString(),
		lists:      make(map[string]*list),
		drives:     make(map[string]*drive),
		failUpload: make(map[string]bool),
		failDrive:  make(map[string]bool),
		noPreview:  make(map[string]bool),
		requests:   make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.authenticate)

	r.Get("/sites/root", s.getRootSite)
	r.Route("/sites/{site}/lists", func(lists chi.Router) {
		lists.Get("/", s.getLists)
		lists.Post("/", s.createList)
		lists.Get("/{list}/drive", s.getListDrive)
	})
	r.HandleFunc("/drives/{drive}/items/*", s.driveItems)
	r.Get("/embed/{drive}/{item}", s.embed)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SiteID returns the root site id.
func (s *Server) SiteID() string {
	return s.siteID
}

// AddList seeds a list. Document libraries get a drive with an empty root folder.
func (s *Server) AddList(name, description, template string) (listID, driveID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.addListLocked(name, description, template)
	return l.ID, l.DriveID
}

func (s *Server) addListLocked(name, description, template string) *list {
	l := &list{
		ID:          uuid.NewString(),
		DisplayName: name,
		Description: description,
		Template:    template,
		Created:     time.Now().UTC().Truncate(time.Second),
	}
	if template == documentLibrary {
		d := &drive{
			ID:     "b!" + uuid.NewString(),
			RootID: uuid.NewString(),
			Items:  make(map[string]*item),
			Perms:  make(map[string][]*permission),
		}
		d.Items[d.RootID] = &item{ID: d.RootID, Name: "root", IsFolder: true, Created: l.Created, Modified: l.Created}
		s.drives[d.ID] = d
		l.DriveID = d.ID
	}
	s.lists[l.ID] = l
	s.listOrder = append(s.listOrder, l.ID)
	return l
}

// RootID returns the id of a drive's container root.
func (s *Server) RootID(driveID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.drives[driveID]; ok {
		return d.RootID
	}
	return ""
}

// AddFolder seeds a folder under parentID ("" means the container root).
func (s *Server) AddFolder(driveID, parentID, name string) string {
	return s.addItem(driveID, parentID, name, true, "", nil)
}

// AddFile seeds a file under parentID ("" means the container root).
func (s *Server) AddFile(driveID, parentID, name, mimeType string, content []byte) string {
	return s.addItem(driveID, parentID, name, false, mimeType, content)
}

func (s *Server) addItem(driveID, parentID, name string, folder bool, mimeType string, content []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.mustDrive(driveID)
	it := s.putItemLocked(d, d.resolve(parentID), name, folder, mimeType, content)
	return it.ID
}

func (s *Server) putItemLocked(d *drive, parentID, name string, folder bool, mimeType string, content []byte) *item {
	now := time.Now().UTC().Truncate(time.Second)
	it := &item{
		ID:        uuid.NewString(),
		Name:      name,
		ParentID:  parentID,
		IsFolder:  folder,
		MimeType:  mimeType,
		Content:   content,
		Created:   now,
		Modified:  now,
		CreatedBy: "Fake User",
	}
	d.Items[it.ID] = it
	return it
}

// SetParent rewires an item's parent reference, allowing malformed trees.
func (s *Server) SetParent(driveID, itemID, parentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.mustDrive(driveID)
	if it, ok := d.Items[itemID]; ok {
		it.ParentID = parentID
	}
}

// AddUserPermission seeds a permission granted to a user and returns its id.
func (s *Server) AddUserPermission(driveID, itemID, displayName, email string, roles ...string) string {
	return s.addPermission(driveID, itemID, &permission{
		Roles: roles,
		User:  &grantee{ID: uuid.NewString(), DisplayName: displayName, Email: email},
	})
}

// AddAppPermission seeds a permission granted to an application and returns its id.
func (s *Server) AddAppPermission(driveID, itemID, displayName string, roles ...string) string {
	return s.addPermission(driveID, itemID, &permission{
		Roles: roles,
		App:   &grantee{ID: uuid.NewString(), DisplayName: displayName},
	})
}

func (s *Server) addPermission(driveID, itemID string, p *permission) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.mustDrive(driveID)
	itemID = d.resolve(itemID)
	p.ID = uuid.NewString()
	d.Perms[itemID] = append(d.Perms[itemID], p)
	return p.ID
}

// FailUploads makes every upload of the named file answer 500.
func (s *Server) FailUploads(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUpload[name] = true
}

// FailDriveLookup makes drive resolution fail for a list, matched by id or display name.
func (s *Server) FailDriveLookup(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDrive[key] = true
}

// DisablePreview makes the preview endpoint answer without a URL for an item.
func (s *Server) DisablePreview(itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noPreview[itemID] = true
}

// HoldUploads blocks every upload after its body has been read until the
// returned release function is called.
func (s *Server) HoldUploads() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.uploadGate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.uploadGate == gate {
				s.uploadGate = nil
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// Requests returns how many requests hit the named operation, e.g. "children" or "upload".
func (s *Server) Requests(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[op]
}

// Children returns the names of a folder's children in lexical order.
func (s *Server) Children(driveID, parentID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.mustDrive(driveID)
	parentID = d.resolve(parentID)
	var names []string
	for _, it := range d.Items {
		if it.ParentID == parentID && it.ID != d.RootID {
			names = append(names, it.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Content returns the stored bytes of a file, looked up by name under parentID.
func (s *Server) Content(driveID, parentID, name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.mustDrive(driveID)
	if it := d.child(d.resolve(parentID), name); it != nil && !it.IsFolder {
		return append([]byte(nil), it.Content...), true
	}
	return nil, false
}

func (s *Server) mustDrive(driveID string) *drive {
	d, ok := s.drives[driveID]
	if !ok {
		panic(fmt.Sprintf("graphtest: unknown drive %q", driveID))
	}
	return d
}

func (d *drive) resolve(itemID string) string {
	if itemID == "" || itemID == "root" {
		return d.RootID
	}
	return itemID
}

func (d *drive) child(parentID, name string) *item {
	for _, it := range d.Items {
		if it.ParentID == parentID && it.ID != d.RootID && strings.EqualFold(it.Name, name) {
			return it
		}
	}
	return nil
}

// uniqueName applies rename-on-conflict: "a.txt" becomes "a 1.txt", "a 2.txt" ...
func (d *drive) uniqueName(parentID, name string) string {
	if d.child(parentID, name) == nil {
		return name
	}
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s %d%s", base, i, ext)
		if d.child(parentID, candidate) == nil {
			return candidate
		}
	}
}

// Handlers

func (s *Server) count(op string) {
	s.mu.Lock()
	s.requests[op]++
	s.mu.Unlock()
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Token != "" && !strings.HasPrefix(r.URL.Path, "/embed/") {
			if r.Header.Get("Authorization") != "Bearer "+s.Token {
				writeError(w, http.StatusUnauthorized, "InvalidAuthenticationToken", "Access token is empty or invalid.")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getRootSite(w http.ResponseWriter, r *http.Request) {
	s.count("site")
	writeJSON(w, http.StatusOK, map[string]string{
		"id":          s.siteID,
		"displayName": "Communication site",
		"webUrl":      "http://" + r.Host + "/sites/root",
	})
}

func (s *Server) checkSite(w http.ResponseWriter, r *http.Request) bool {
	if param(r, "site") != s.siteID {
		writeError(w, http.StatusNotFound, "itemNotFound", "The requested site was not found.")
		return false
	}
	return true
}

func (s *Server) getLists(w http.ResponseWriter, r *http.Request) {
	s.count("lists")
	if !s.checkSite(w, r) {
		return
	}
	s.mu.Lock()
	out := make([]map[string]any, 0, len(s.listOrder))
	for _, id := range s.listOrder {
		out = append(out, listJSON(s.lists[id]))
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"value": out})
}

func (s *Server) createList(w http.ResponseWriter, r *http.Request) {
	s.count("create_list")
	if !s.checkSite(w, r) {
		return
	}
	var body struct {
		DisplayName string `json:"displayName"`
		Description string `json:"description"`
		List        struct {
			Template string `json:"template"`
		} `json:"list"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", "Invalid request body.")
		return
	}
	if strings.TrimSpace(body.DisplayName) == "" {
		writeError(w, http.StatusBadRequest, "invalidRequest", "displayName is required.")
		return
	}
	s.mu.Lock()
	l := s.addListLocked(body.DisplayName, body.Description, body.List.Template)
	out := listJSON(l)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) getListDrive(w http.ResponseWriter, r *http.Request) {
	s.count("list_drive")
	if !s.checkSite(w, r) {
		return
	}
	listID := param(r, "list")
	s.mu.Lock()
	l, ok := s.lists[listID]
	failed := ok && (s.failDrive[l.ID] || s.failDrive[l.DisplayName])
	s.mu.Unlock()

	switch {
	case !ok:
		writeError(w, http.StatusNotFound, "itemNotFound", "The requested list was not found.")
	case failed || l.DriveID == "":
		writeError(w, http.StatusNotFound, "itemNotFound", "The list has no drive.")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"id": l.DriveID, "driveType": documentLibrary})
	}
}

// driveItems dispatches everything under /drives/{drive}/items/. The item path is
// parsed from the escaped URL because upload names may contain reserved characters.
func (s *Server) driveItems(w http.ResponseWriter, r *http.Request) {
	driveID := param(r, "drive")
	escaped := r.URL.EscapedPath()
	idx := strings.Index(escaped, "/items/")
	rest := escaped[idx+len("/items/"):]

	parts := strings.Split(rest, "/")
	for i, p := range parts {
		if u, err := url.PathUnescape(p); err == nil {
			parts[i] = u
		}
	}

	s.mu.Lock()
	d, ok := s.drives[driveID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "itemNotFound", "The requested drive was not found.")
		return
	}

	// {parent}:/{name}:/content
	if len(parts) == 3 && strings.HasSuffix(parts[0], ":") && parts[2] == "content" {
		if r.Method != http.MethodPut {
			writeError(w, http.StatusMethodNotAllowed, "notAllowed", "Only PUT is supported.")
			return
		}
		s.upload(w, r, d, strings.TrimSuffix(parts[0], ":"), strings.TrimSuffix(parts[1], ":"))
		return
	}

	itemID := parts[0]
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.getItem(w, r, d, itemID)
	case len(parts) == 2 && parts[1] == "children" && r.Method == http.MethodGet:
		s.listChildren(w, r, d, itemID)
	case len(parts) == 2 && parts[1] == "children" && r.Method == http.MethodPost:
		s.createFolder(w, r, d, itemID)
	case len(parts) == 2 && parts[1] == "preview" && r.Method == http.MethodPost:
		s.preview(w, r, d, itemID)
	case len(parts) == 2 && parts[1] == "permissions" && r.Method == http.MethodGet:
		s.listPermissions(w, d, itemID)
	case len(parts) == 2 && parts[1] == "invite" && r.Method == http.MethodPost:
		s.invite(w, r, d, itemID)
	case len(parts) == 3 && parts[1] == "permissions" && r.Method == http.MethodDelete:
		s.deletePermission(w, d, itemID, parts[2])
	default:
		writeError(w, http.StatusNotFound, "itemNotFound", "Unsupported path.")
	}
}

func (s *Server) lookup(w http.ResponseWriter, d *drive, itemID string) (*item, bool) {
	s.mu.Lock()
	it, ok := d.Items[d.resolve(itemID)]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "itemNotFound", "The resource could not be found.")
	}
	return it, ok
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request, d *drive, itemID string) {
	s.count("get_item")
	it, ok := s.lookup(w, d, itemID)
	if !ok {
		return
	}
	s.mu.Lock()
	out := s.itemJSON(r, d, it)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listChildren(w http.ResponseWriter, r *http.Request, d *drive, itemID string) {
	s.count("children")
	parent, ok := s.lookup(w, d, itemID)
	if !ok {
		return
	}
	s.mu.Lock()
	var children []*item
	for _, it := range d.Items {
		if it.ParentID == parent.ID && it.ID != d.RootID {
			children = append(children, it)
		}
	}
	// Unordered, as the real API makes no ordering promise.
	out := make([]map[string]any, 0, len(children))
	for _, it := range children {
		out = append(out, s.itemJSON(r, d, it))
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"value": out})
}

func (s *Server) createFolder(w http.ResponseWriter, r *http.Request, d *drive, parentID string) {
	s.count("create_folder")
	parent, ok := s.lookup(w, d, parentID)
	if !ok {
		return
	}
	var body struct {
		Name     string          `json:"name"`
		Folder   json.RawMessage `json:"folder"`
		Conflict string          `json:"@microsoft.graph.conflictBehavior"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" || body.Folder == nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", "A folder name and facet are required.")
		return
	}

	s.mu.Lock()
	name := body.Name
	if body.Conflict == "rename" {
		name = d.uniqueName(parent.ID, name)
	} else if d.child(parent.ID, name) != nil {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "nameAlreadyExists", "An item with the same name already exists.")
		return
	}
	it := s.putItemLocked(d, parent.ID, name, true, "", nil)
	out := s.itemJSON(r, d, it)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request, d *drive, parentID, name string) {
	s.count("upload")
	parent, ok := s.lookup(w, d, parentID)
	if !ok {
		return
	}
	content, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", "Could not read content.")
		return
	}

	s.mu.Lock()
	gate := s.uploadGate
	fail := s.failUpload[name]
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}
	if fail {
		writeError(w, http.StatusInternalServerError, "generalException", "Upload of "+name+" failed.")
		return
	}

	s.mu.Lock()
	if r.URL.Query().Get("@microsoft.graph.conflictBehavior") == "rename" {
		name = d.uniqueName(parent.ID, name)
	}
	it := s.putItemLocked(d, parent.ID, name, false, r.Header.Get("Content-Type"), content)
	out := s.itemJSON(r, d, it)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) preview(w http.ResponseWriter, r *http.Request, d *drive, itemID string) {
	s.count("preview")
	it, ok := s.lookup(w, d, itemID)
	if !ok {
		return
	}
	if it.IsFolder {
		writeError(w, http.StatusBadRequest, "invalidRequest", "Folders cannot be previewed.")
		return
	}
	s.mu.Lock()
	disabled := s.noPreview[it.ID]
	s.mu.Unlock()
	if disabled {
		writeJSON(w, http.StatusOK, map[string]string{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"getUrl": "http://" + r.Host + "/embed/" + url.PathEscape(d.ID) + "/" + it.ID + "?e=preview",
	})
}

func (s *Server) embed(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drives[param(r, "drive")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	it, ok := d.Items[param(r, "item")]
	if !ok || it.IsFolder {
		http.NotFound(w, r)
		return
	}
	ct := it.MimeType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Write(it.Content)
}

func (s *Server) listPermissions(w http.ResponseWriter, d *drive, itemID string) {
	s.count("permissions")
	it, ok := s.lookup(w, d, itemID)
	if !ok {
		return
	}
	s.mu.Lock()
	out := make([]map[string]any, 0, len(d.Perms[it.ID]))
	for _, p := range d.Perms[it.ID] {
		out = append(out, permissionJSON(p))
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"value": out})
}

func (s *Server) invite(w http.ResponseWriter, r *http.Request, d *drive, itemID string) {
	s.count("invite")
	it, ok := s.lookup(w, d, itemID)
	if !ok {
		return
	}
	var body struct {
		Recipients []struct {
			Email string `json:"email"`
		} `json:"recipients"`
		Message        string   `json:"message"`
		RequireSignIn  bool     `json:"requireSignIn"`
		SendInvitation bool     `json:"sendInvitation"`
		Roles          []string `json:"roles"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Recipients) == 0 || len(body.Roles) == 0 {
		writeError(w, http.StatusBadRequest, "invalidRequest", "Recipients and roles are required.")
		return
	}
	for _, rcpt := range body.Recipients {
		if !strings.Contains(rcpt.Email, "@") {
			writeError(w, http.StatusBadRequest, "invalidRequest", "Invalid recipient "+rcpt.Email+".")
			return
		}
	}

	s.mu.Lock()
	out := make([]map[string]any, 0, len(body.Recipients))
	for _, rcpt := range body.Recipients {
		p := &permission{
			ID:    uuid.NewString(),
			Roles: append([]string(nil), body.Roles...),
			User: &grantee{
				ID:          uuid.NewString(),
				DisplayName: strings.SplitN(rcpt.Email, "@", 2)[0],
				Email:       rcpt.Email,
			},
		}
		d.Perms[it.ID] = append(d.Perms[it.ID], p)
		out = append(out, permissionJSON(p))
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"value": out})
}

func (s *Server) deletePermission(w http.ResponseWriter, d *drive, itemID, permID string) {
	s.count("delete_permission")
	it, ok := s.lookup(w, d, itemID)
	if !ok {
		return
	}
	s.mu.Lock()
	perms := d.Perms[it.ID]
	for i, p := range perms {
		if p.ID == permID {
			d.Perms[it.ID] = append(perms[:i:i], perms[i+1:]...)
			s.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	s.mu.Unlock()
	writeError(w, http.StatusNotFound, "itemNotFound", "Permission not found.")
}

// JSON shapes

func listJSON(l *list) map[string]any {
	return map[string]any{
		"id":              l.ID,
		"displayName":     l.DisplayName,
		"description":     l.Description,
		"createdDateTime": l.Created.Format(time.RFC3339),
		"list":            map[string]string{"template": l.Template},
	}
}

// itemJSON must be called with s.mu held.
func (s *Server) itemJSON(r *http.Request, d *drive, it *item) map[string]any {
	out := map[string]any{
		"id":                   it.ID,
		"name":                 it.Name,
		"createdDateTime":      it.Created.Format(time.RFC3339),
		"lastModifiedDateTime": it.Modified.Format(time.RFC3339),
		"webUrl":               "http://" + r.Host + "/view/" + it.ID,
		"createdBy":            map[string]any{"user": map[string]string{"displayName": it.CreatedBy}},
	}
	ref := map[string]string{"driveId": d.ID}
	if it.ID != d.RootID {
		ref["id"] = it.ParentID
	}
	out["parentReference"] = ref
	if it.IsFolder {
		n := 0
		for _, c := range d.Items {
			if c.ParentID == it.ID && c.ID != d.RootID {
				n++
			}
		}
		out["folder"] = map[string]int{"childCount": n}
	} else {
		out["size"] = len(it.Content)
		out["file"] = map[string]string{"mimeType": it.MimeType}
	}
	return out
}

func permissionJSON(p *permission) map[string]any {
	set := map[string]any{}
	if p.User != nil {
		set["user"] = p.User
	}
	if p.App != nil {
		set["application"] = p.App
	}
	return map[string]any{"id": p.ID, "roles": p.Roles, "grantedToV2": set}
}

func param(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
