package graph

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildrenAndItems(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	_, driveID := fake.AddList("Case", "", "documentLibrary")

	pleadings := fake.AddFolder(driveID, "", "Pleadings")
	fake.AddFile(driveID, "", "memo.pdf", "application/pdf", []byte("pdf"))
	fake.AddFile(driveID, pleadings, "motion.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", []byte("docx"))

	items, err := c.ListChildren(ctx, driveID, "")
	require.NoError(t, err)
	require.Len(t, items, 2)

	byName := map[string]Item{}
	for _, it := range items {
		byName[it.Name] = it
	}
	folder := byName["Pleadings"]
	assert.True(t, folder.IsFolder)
	assert.Equal(t, 1, folder.ChildCount)
	assert.Equal(t, fake.RootID(driveID), folder.ParentID)

	memo := byName["memo.pdf"]
	assert.False(t, memo.IsFolder)
	assert.Equal(t, "application/pdf", memo.MimeType)
	assert.Equal(t, int64(3), memo.Size)
	assert.Equal(t, "Fake User", memo.CreatedByDisplayName)

	root, err := c.GetItem(ctx, driveID, RootItemID)
	require.NoError(t, err)
	assert.Equal(t, fake.RootID(driveID), root.ID)
	assert.Empty(t, root.ParentID)

	_, err = c.GetItem(ctx, driveID, "nope")
	re, ok := AsRemote(err)
	require.True(t, ok)
	assert.Equal(t, 404, re.Status)
}

func TestCreateFolderRenamesOnConflict(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	_, driveID := fake.AddList("Case", "", "documentLibrary")
	fake.AddFolder(driveID, "", "Exhibits")

	created, err := c.CreateFolder(ctx, driveID, "", "Exhibits")
	require.NoError(t, err)
	assert.Equal(t, "Exhibits 1", created.Name)
	assert.True(t, created.IsFolder)
}

func TestUploadFile(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	_, driveID := fake.AddList("Case", "", "documentLibrary")

	body := "hello world"
	it, err := c.UploadFile(ctx, driveID, "", "notes #1.txt", "text/plain", strings.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	assert.Equal(t, "notes #1.txt", it.Name)
	assert.Equal(t, "text/plain", it.MimeType)

	content, ok := fake.Content(driveID, "", "notes #1.txt")
	require.True(t, ok)
	assert.Equal(t, body, string(content))

	// Second upload with the same name is renamed, not overwritten.
	it, err = c.UploadFile(ctx, driveID, "", "notes #1.txt", "", strings.NewReader("v2"), 2)
	require.NoError(t, err)
	assert.Equal(t, "notes #1 1.txt", it.Name)
	assert.Equal(t, "application/octet-stream", it.MimeType)
}

func TestUploadSendsContentLength(t *testing.T) {
	type seen struct {
		length   int64
		encoding []string
		body     string
	}
	got := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		got <- seen{length: r.ContentLength, encoding: r.TransferEncoding, body: string(data)}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"item-1","name":"upload.txt","file":{"mimeType":"text/plain"}}`))
	}))
	defer srv.Close()
	c := New(Config{BaseURL: srv.URL, Tokens: TokenFunc(func(context.Context) (string, error) { return "t", nil })})

	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"small file", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// A reader of unknown type, as an opened local file would be.
			content := io.MultiReader(strings.NewReader(tt.content))
			_, err := c.UploadFile(context.Background(), "d", "", "upload.txt", "text/plain", content, int64(len(tt.content)))
			require.NoError(t, err)

			s := <-got
			assert.Equal(t, int64(len(tt.content)), s.length)
			assert.Empty(t, s.encoding, "upload must not be chunked")
			assert.Equal(t, tt.content, s.body)
		})
	}
}

func TestUploadFailureIsRemoteError(t *testing.T) {
	c, fake := newTestClient(t)
	_, driveID := fake.AddList("Case", "", "documentLibrary")
	fake.FailUploads("bad.bin")

	_, err := c.UploadFile(context.Background(), driveID, "", "bad.bin", "", strings.NewReader("x"), 1)
	re, ok := AsRemote(err)
	require.True(t, ok)
	assert.Equal(t, 500, re.Status)
	assert.Contains(t, re.Message, "bad.bin")
}

func TestPreviewURL(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	_, driveID := fake.AddList("Case", "", "documentLibrary")
	fileID := fake.AddFile(driveID, "", "scan.png", "image/png", []byte{1, 2})

	u, err := c.PreviewURL(ctx, driveID, fileID)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(u, "&nb=true"), u)

	fake.DisablePreview(fileID)
	_, err = c.PreviewURL(ctx, driveID, fileID)
	assert.True(t, IsNotResolved(err))
}
