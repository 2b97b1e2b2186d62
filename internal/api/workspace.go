package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"go.uber.org/zap"

	"github.com/casefiles/casefiles/internal/logging"
	"github.com/casefiles/casefiles/internal/navigator"
	"github.com/casefiles/casefiles/internal/permissions"
	"github.com/casefiles/casefiles/internal/upload"
)

// ─── Cases ──────────────────────────────────────────────────────────────────

func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	cases, err := s.cases.ListCases(r.Context())
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, cases)
}

func (s *Server) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	c, err := s.cases.CreateCase(r.Context(), req.Name, req.Description)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, c)
}

// ─── Folders ────────────────────────────────────────────────────────────────

func (s *Server) handleFolder(w http.ResponseWriter, r *http.Request) {
	folder, err := s.nav.LoadFolder(r.Context(), r.PathValue("drive"), r.PathValue("item"))
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, folder)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	item, err := s.nav.CreateFolder(r.Context(), r.PathValue("drive"), r.PathValue("item"), req.Name)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, item)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	act, err := s.nav.ActivateID(r.Context(), r.PathValue("drive"), r.PathValue("item"))
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, act)
}

// ─── Uploads ────────────────────────────────────────────────────────────────

type batchView struct {
	ID       string            `json:"id"`
	DriveID  string            `json:"driveId"`
	FolderID string            `json:"folderId"`
	Tasks    []upload.Task     `json:"tasks"`
	Summary  upload.Summary    `json:"summary"`
	Done     bool              `json:"done"`
	Busy     bool              `json:"busy"`
	Folder   *navigator.Folder `json:"folder,omitempty"`
}

func (s *Server) viewOf(b *upload.Batch) batchView {
	sum := b.Summary()
	return batchView{
		ID:       b.ID,
		DriveID:  b.DriveID,
		FolderID: b.FolderID,
		Tasks:    b.Tasks(),
		Summary:  sum,
		Done:     sum.Done(),
		Busy:     b.Busy(),
		Folder:   s.reloadedFolder(b.ID),
	}
}

// handleCreateUpload reads a multipart body of "files" parts into a new
// batch. With ?start=true the upload begins immediately.
func (s *Server) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.sendError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload too large: max %d bytes", s.maxUploadSize))
			return
		}
		s.sendError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		s.sendError(w, http.StatusBadRequest, "no files")
		return
	}
	files := make([]upload.File, 0, len(headers))
	for _, fh := range headers {
		f, err := readPart(fh)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		files = append(files, f)
	}

	b, err := s.uploads.NewBatch(r.PathValue("drive"), r.PathValue("item"), s.reloadAfterUpload)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	if _, err := b.Add(files...); err != nil {
		s.sendErr(w, r, err)
		return
	}
	logging.WithContext(r.Context()).Info("upload batch created",
		zap.String("batch_id", b.ID), zap.Int("files", len(files)))

	if r.URL.Query().Get("start") == "true" {
		s.startBatch(r.Context(), b)
	}
	s.sendJSON(w, http.StatusCreated, s.viewOf(b))
}

func readPart(fh *multipart.FileHeader) (upload.File, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return upload.NewMemoryFile(fh.Filename, fh.Header.Get("Content-Type"), data), nil
}

// startBatch runs the upload detached from the request; progress is
// observed through the batch stream.
func (s *Server) startBatch(ctx context.Context, b *upload.Batch) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if _, err := b.Upload(ctx); err != nil {
			logging.WithContext(ctx).Warn("upload run refused", zap.String("batch_id", b.ID), zap.Error(err))
		}
	}()
}

// reloadAfterUpload refreshes the batch's folder once every task has settled.
func (s *Server) reloadAfterUpload(ctx context.Context, b *upload.Batch, sum upload.Summary) {
	folder, err := s.nav.LoadFolder(ctx, b.DriveID, b.FolderID)
	if err != nil {
		logging.WithContext(ctx).Warn("folder reload after upload failed",
			zap.String("batch_id", b.ID), zap.Error(err))
		return
	}
	s.reloadMu.Lock()
	s.reloaded[b.ID] = folder
	s.reloadMu.Unlock()
}

func (s *Server) reloadedFolder(batchID string) *navigator.Folder {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	return s.reloaded[batchID]
}

func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	b, err := s.uploads.Get(r.PathValue("batch"))
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.viewOf(b))
}

func (s *Server) handleStartUpload(w http.ResponseWriter, r *http.Request) {
	b, err := s.uploads.Get(r.PathValue("batch"))
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.startBatch(r.Context(), b)
	s.sendJSON(w, http.StatusAccepted, s.viewOf(b))
}

func (s *Server) handleUploadEvents(w http.ResponseWriter, r *http.Request) {
	b, err := s.uploads.Get(r.PathValue("batch"))
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	flusher, ok := startStream(w)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	writeEvent(w, flusher, string(upload.EventProgress), upload.Event{
		Kind: upload.EventProgress, BatchID: b.ID, Tasks: b.Tasks(), Summary: b.Summary(),
	})

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, flusher, string(ev.Kind), ev)
			if ev.Kind == upload.EventComplete {
				if folder := s.reloadedFolder(b.ID); folder != nil {
					writeEvent(w, flusher, "folder", folder)
				}
			}
		}
	}
}

func (s *Server) handleCloseUpload(w http.ResponseWriter, r *http.Request) {
	b, err := s.uploads.Get(r.PathValue("batch"))
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	if err := b.Close(); err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.reloadMu.Lock()
	delete(s.reloaded, b.ID)
	s.reloadMu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// ─── Permissions ────────────────────────────────────────────────────────────

func (s *Server) permissionManager(r *http.Request) *permissions.Manager {
	return permissions.New(s.sharing, r.PathValue("drive"), r.PathValue("item"), s.inviteMessage)
}

func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.permissionManager(r).List(r.Context())
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	entries, err := s.permissionManager(r).Grant(r.Context(), req.Email, req.Role)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	entries, err := s.permissionManager(r).Revoke(r.Context(), r.PathValue("perm"))
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, entries)
}
