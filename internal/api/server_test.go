package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casefiles/casefiles/internal/enterprise"
	"github.com/casefiles/casefiles/internal/events"
	"github.com/casefiles/casefiles/internal/graph"
	"github.com/casefiles/casefiles/internal/graph/graphtest"
	"github.com/casefiles/casefiles/internal/navigator"
	"github.com/casefiles/casefiles/internal/permissions"
	"github.com/casefiles/casefiles/internal/session"
	"github.com/casefiles/casefiles/internal/upload"
)

type fakeEnterprise struct {
	restored *enterprise.Account
	events   *events.Broadcaster[enterprise.Event]
}

func (f *fakeEnterprise) Restore(ctx context.Context) (*enterprise.Account, error) {
	return f.restored, nil
}

func (f *fakeEnterprise) Logout(ctx context.Context) (string, error) {
	f.events.Publish(enterprise.Event{Kind: enterprise.SignedOut})
	return "https://login.example/logout", nil
}

func (f *fakeEnterprise) Subscribe() chan enterprise.Event     { return f.events.Subscribe() }
func (f *fakeEnterprise) Unsubscribe(ch chan enterprise.Event) { f.events.Unsubscribe(ch) }

func (f *fakeEnterprise) StartLogin(ctx context.Context) (*enterprise.DeviceLogin, error) {
	return &enterprise.DeviceLogin{UserCode: "ABCD-EFGH", VerificationURI: "https://login.example/device"}, nil
}

func (f *fakeEnterprise) CompleteLogin(ctx context.Context) (*enterprise.Account, error) {
	return nil, enterprise.ErrNoPendingLogin
}

type noLocal struct{}

func (noLocal) ClearAll(ctx context.Context) error { return nil }

type testEnv struct {
	srv     *httptest.Server
	fake    *graphtest.Server
	driveID string
	model   *session.Model
}

// newTestEnv wires a server over the fake document API. start resolves the
// session; member restores an enterprise account first.
func newTestEnv(t *testing.T, start, member bool, maxUpload int64) *testEnv {
	t.Helper()
	fake := graphtest.New()
	fake.Token = "api-token"
	graphSrv := httptest.NewServer(fake)
	t.Cleanup(graphSrv.Close)

	client := graph.New(graph.Config{
		BaseURL: graphSrv.URL,
		Tokens:  graph.TokenFunc(func(ctx context.Context) (string, error) { return "api-token", nil }),
	})

	ent := &fakeEnterprise{events: events.NewBroadcaster[enterprise.Event]("test-enterprise")}
	if member {
		ent.restored = &enterprise.Account{Subject: "oid-1", Name: "Pat Lee", Username: "pat@firm.example"}
	}
	model := session.New(ent, nil, noLocal{})
	t.Cleanup(model.Close)
	if start {
		model.Start(context.Background())
	}

	s := NewServer(Deps{
		Session:       model,
		Enterprise:    ent,
		Cases:         client,
		Navigator:     navigator.New(client, "en"),
		Uploads:       upload.NewOrchestrator(client),
		Sharing:       client,
		MaxUploadSize: maxUpload,
		InviteMessage: permissions.DefaultInviteMessage,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	_, driveID := fake.AddList("Acme v. Jones", "", "documentLibrary")
	return &testEnv{srv: srv, fake: fake, driveID: driveID, model: model}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeInto[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) itemPath(itemID, suffix string) string {
	return "/api/v1/drives/" + e.driveID + "/items/" + itemID + suffix
}

func TestGating(t *testing.T) {
	tests := []struct {
		name          string
		start, member bool
		want          int
	}{
		{"loading", false, false, http.StatusServiceUnavailable},
		{"unauthenticated", true, false, http.StatusForbidden},
		{"member", true, true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.start, tt.member, 1<<20)
			assert.Equal(t, tt.want, env.do(t, http.MethodGet, "/api/v1/cases", nil).StatusCode)
			assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", nil).StatusCode)
		})
	}
}

func TestSessionEndpoint(t *testing.T) {
	env := newTestEnv(t, true, true, 1<<20)
	st := decodeInto[session.State](t, env.do(t, http.MethodGet, "/api/v1/session", nil))
	assert.Equal(t, session.Member, st.Mode)
	require.NotNil(t, st.Enterprise)
	assert.Equal(t, "pat@firm.example", st.Enterprise.Email)
}

func TestCreateAndListCases(t *testing.T) {
	env := newTestEnv(t, true, true, 1<<20)

	resp := env.do(t, http.MethodPost, "/api/v1/cases", map[string]string{"name": "Brown Estate"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeInto[graph.Case](t, resp)
	assert.Equal(t, "", created.Description)
	assert.NotEmpty(t, created.DriveID)

	cases := decodeInto[[]graph.Case](t, env.do(t, http.MethodGet, "/api/v1/cases", nil))
	var found bool
	for _, c := range cases {
		if c.DisplayName == "Brown Estate" {
			found = true
		}
	}
	assert.True(t, found)

	resp = env.do(t, http.MethodPost, "/api/v1/cases", map[string]string{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFolderViewAndActivate(t *testing.T) {
	env := newTestEnv(t, true, true, 1<<20)
	pleadings := env.fake.AddFolder(env.driveID, "", "Pleadings")
	env.fake.AddFile(env.driveID, "", "intake.pdf", "application/pdf", []byte("%PDF"))

	folder := decodeInto[navigator.Folder](t, env.do(t, http.MethodGet, env.itemPath("root", ""), nil))
	require.Len(t, folder.Items, 2)
	assert.Equal(t, "Pleadings", folder.Items[0].Name)

	resp := env.do(t, http.MethodPost, env.itemPath(pleadings, "/folders"), map[string]string{"name": "Drafts"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	folder = decodeInto[navigator.Folder](t, env.do(t, http.MethodGet, env.itemPath(pleadings, ""), nil))
	assert.Len(t, folder.Breadcrumbs, 2)
	assert.Equal(t, "Drafts", folder.Items[0].Name)

	act := decodeInto[navigator.Activation](t, env.do(t, http.MethodPost, env.itemPath(folder.Items[0].ID, "/activate"), nil))
	assert.Equal(t, navigator.Navigate, act.Kind)
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t, true, true, 1<<20)
	a := env.fake.AddFolder(env.driveID, "", "a")
	b := env.fake.AddFolder(env.driveID, a, "b")
	env.fake.SetParent(env.driveID, a, b)
	orphan := env.fake.AddFolder(env.driveID, "", "orphan")
	env.fake.SetParent(env.driveID, orphan, "")

	assert.Equal(t, http.StatusBadGateway, env.do(t, http.MethodGet, env.itemPath(b, ""), nil).StatusCode, "cycle")
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, env.itemPath(orphan, ""), nil).StatusCode, "missing parent")

	resp := env.do(t, http.MethodGet, env.itemPath("no-such-item", ""), nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decodeInto[errorResponse](t, resp)
	assert.Equal(t, http.StatusNotFound, body.UpstreamStatus)
	assert.NotEmpty(t, body.RequestID, "error bodies carry the request id")
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, name))
		h.Set("Content-Type", "text/plain")
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) postUpload(t *testing.T, query string, files map[string]string) *http.Response {
	t.Helper()
	body, ctype := multipartBody(t, files)
	resp, err := http.Post(e.srv.URL+e.itemPath("root", "/uploads")+query, ctype, body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestUploadBatchLifecycle(t *testing.T) {
	env := newTestEnv(t, true, true, 1<<20)
	env.fake.FailUploads("b.txt")

	resp := env.postUpload(t, "?start=true", map[string]string{"a.txt": "A", "b.txt": "B", "c.txt": "C"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeInto[batchView](t, resp)
	assert.Len(t, created.Tasks, 3)

	var view batchView
	require.Eventually(t, func() bool {
		view = decodeInto[batchView](t, env.do(t, http.MethodGet, "/api/v1/uploads/"+created.ID, nil))
		return view.Done && view.Folder != nil
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, view.Summary.Succeeded)
	assert.Equal(t, 1, view.Summary.Failed)
	assert.Len(t, view.Folder.Items, 2, "reloaded folder shows the stored files")

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/v1/uploads/"+created.ID, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/uploads/"+created.ID, nil).StatusCode)
}

func TestCloseRefusedWhileUploading(t *testing.T) {
	env := newTestEnv(t, true, true, 1<<20)
	release := env.fake.HoldUploads()
	defer release()

	created := decodeInto[batchView](t, env.postUpload(t, "", map[string]string{"slow.txt": "S"}))
	assert.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/api/v1/uploads/"+created.ID+"/start", nil).StatusCode)

	require.Eventually(t, func() bool { return env.fake.Requests("upload") == 1 }, 2*time.Second, 5*time.Millisecond)
	resp := env.do(t, http.MethodDelete, "/api/v1/uploads/"+created.ID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	release()
	require.Eventually(t, func() bool {
		return env.do(t, http.MethodDelete, "/api/v1/uploads/"+created.ID, nil).StatusCode == http.StatusNoContent
	}, 5*time.Second, 10*time.Millisecond)
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t, true, true, 256)
	resp := env.postUpload(t, "", map[string]string{"big.txt": strings.Repeat("x", 4096)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestPermissionEndpoints(t *testing.T) {
	env := newTestEnv(t, true, true, 1<<20)
	item := env.fake.AddFile(env.driveID, "", "retainer.pdf", "application/pdf", []byte("%PDF"))
	env.fake.AddAppPermission(env.driveID, item, "Indexer", "read")

	resp := env.do(t, http.MethodPost, env.itemPath(item, "/permissions"),
		map[string]string{"email": "client@acme.example", "role": "read"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decodeInto[[]permissions.Entry](t, resp)
	require.Len(t, entries, 1)
	assert.Equal(t, "client@acme.example", entries[0].Email)

	resp = env.do(t, http.MethodPost, env.itemPath(item, "/permissions"),
		map[string]string{"email": "nobody", "role": "read"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decodeInto[errorResponse](t, resp)
	assert.Equal(t, permissions.OpGrant, body.Op)
	assert.Equal(t, http.StatusBadRequest, body.UpstreamStatus)

	resp = env.do(t, http.MethodDelete, env.itemPath(item, "/permissions/"+entries[0].ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeInto[[]permissions.Entry](t, resp))
}

func TestDirectDisabled(t *testing.T) {
	env := newTestEnv(t, true, false, 1<<20)
	resp := env.do(t, http.MethodPost, "/api/v1/auth/direct/sign-in", map[string]string{"email": "a@b.example", "password": "x"})
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestEnterpriseLoginEndpoints(t *testing.T) {
	env := newTestEnv(t, true, false, 1<<20)

	login := decodeInto[enterprise.DeviceLogin](t, env.do(t, http.MethodPost, "/api/v1/auth/enterprise/login", nil))
	assert.Equal(t, "ABCD-EFGH", login.UserCode)

	resp := env.do(t, http.MethodPost, "/api/v1/auth/enterprise/login/complete", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLogoutRevokesAccess(t *testing.T) {
	env := newTestEnv(t, true, true, 1<<20)

	resp := env.do(t, http.MethodPost, "/api/v1/auth/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeInto[map[string]string](t, resp)
	assert.Equal(t, "https://login.example/logout", out["redirectUrl"])

	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/api/v1/cases", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/api/v1/auth/logout", nil).StatusCode)
}
