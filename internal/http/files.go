package http

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nextlevelbuilder/across/internal/audit"
	"github.com/nextlevelbuilder/across/internal/extract"
	"github.com/nextlevelbuilder/across/internal/ingest"
	"github.com/nextlevelbuilder/across/internal/store"
)

// processTimeout bounds a single background ingestion run kicked off by
// an upload or reprocess request.
const processTimeout = 10 * time.Minute

// FilesHandler serves knowledge file upload and lifecycle endpoints.
type FilesHandler struct {
	files      store.FileStore
	assistants store.AssistantStore
	proc       *ingest.Processor
	audit      *audit.Logger
	authn      *Authenticator
	rl         *RateLimiter

	uploadDir   string
	maxFileSize func() int64
}

func NewFilesHandler(files store.FileStore, assistants store.AssistantStore, proc *ingest.Processor, auditLog *audit.Logger, authn *Authenticator, rl *RateLimiter, uploadDir string, maxFileSize func() int64) *FilesHandler {
	return &FilesHandler{
		files:       files,
		assistants:  assistants,
		proc:        proc,
		audit:       auditLog,
		authn:       authn,
		rl:          rl,
		uploadDir:   uploadDir,
		maxFileSize: maxFileSize,
	}
}

func (h *FilesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/assistants/{id}/files", h.authn.requireAdmin(h.rl.limit(uploadLimit, h.handleUpload)))
	mux.HandleFunc("GET /api/assistants/{id}/files", h.authn.requireUser(h.handleList))
	mux.HandleFunc("GET /api/files/{id}", h.authn.requireUser(h.handleGet))
	mux.HandleFunc("DELETE /api/files/{id}", h.authn.requireAdmin(h.handleDelete))
	mux.HandleFunc("POST /api/files/{id}/reprocess", h.authn.requireAdmin(h.handleReprocess))
}

func (h *FilesHandler) meta(r *http.Request) audit.Meta {
	m := audit.Meta{IPAddress: clientIP(r), UserAgent: r.UserAgent()}
	if p := PrincipalFrom(r.Context()); p != nil {
		m.Actor = p.Email
		if p.AuthType != AuthAdmin {
			m.ActorID = p.UserID.String()
		}
	}
	return m
}

func fileExt(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

func (h *FilesHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	assistantID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.assistants.Get(r.Context(), assistantID); err != nil {
		writeError(w, err)
		return
	}

	maxSize := h.maxFileSize()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, store.NewValidation("Invalid multipart upload"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, store.NewValidation("Missing 'file' field"))
		return
	}
	defer file.Close()

	if header.Size == 0 {
		writeError(w, store.NewValidation("File is empty"))
		return
	}
	if header.Size > maxSize {
		writeError(w, store.NewValidation("File exceeds the maximum size of %d MB", maxSize>>20))
		return
	}

	fileType := fileExt(header.Filename)
	if !extract.AllowedType(fileType) {
		writeError(w, store.NewValidation("Unsupported file type '.%s'", fileType))
		return
	}

	// sniff the content before trusting the extension
	head := make([]byte, 512)
	n, _ := io.ReadFull(file, head)
	if err := extract.ValidateContent(fileType, head[:n]); err != nil {
		writeError(w, store.NewValidation("%s", err.Error()))
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		writeError(w, err)
		return
	}

	id := store.GenNewID()
	storagePath := filepath.Join(h.uploadDir, assistantID.String(), fmt.Sprintf("%s.%s", id, fileType))
	if err := os.MkdirAll(filepath.Dir(storagePath), 0o755); err != nil {
		writeError(w, err)
		return
	}
	dst, err := os.Create(storagePath)
	if err != nil {
		writeError(w, err)
		return
	}
	written, err := io.Copy(dst, file)
	dst.Close()
	if err != nil {
		os.Remove(storagePath)
		writeError(w, err)
		return
	}

	kf := &store.KnowledgeFile{
		ID:          id,
		AssistantID: assistantID,
		Filename:    header.Filename,
		FileType:    fileType,
		FileSize:    written,
		StoragePath: storagePath,
		Status:      store.FileStatusPending,
	}
	if err := h.files.Create(r.Context(), kf); err != nil {
		os.Remove(storagePath)
		writeError(w, err)
		return
	}

	// ingestion runs in the background; the client polls file status
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		if err := h.proc.Process(ctx, id); err != nil {
			slog.Error("files.process", "file_id", id, "error", err)
		}
	}()

	h.audit.LogResource(r.Context(), h.meta(r), "file.uploaded", "file", id.String(),
		map[string]interface{}{"filename": kf.Filename, "size": written, "assistant_id": assistantID.String()})
	writeJSON(w, http.StatusCreated, kf)
}

func (h *FilesHandler) handleList(w http.ResponseWriter, r *http.Request) {
	assistantID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	files, err := h.files.ListByAssistant(r.Context(), assistantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"files": files})
}

func (h *FilesHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	f, err := h.files.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *FilesHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.proc.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	h.audit.LogResource(r.Context(), h.meta(r), "file.deleted", "file", id.String(), nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *FilesHandler) handleReprocess(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.proc.Reprocess(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		if err := h.proc.Process(ctx, id); err != nil {
			slog.Error("files.reprocess", "file_id", id, "error", err)
		}
	}()

	h.audit.LogResource(r.Context(), h.meta(r), "file.reprocessed", "file", id.String(), nil)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reprocessing"})
}
