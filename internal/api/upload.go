package api

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// fileKind classifies an upload by its declared content type so clients
// can choose how to render it.
func fileKind(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	case strings.HasPrefix(contentType, "audio/"):
		return "audio"
	default:
		return "file"
	}
}

// handleUpload stores a multipart file and returns its metadata. The
// returned url is what clients attach to a file_message event; the
// server never inspects file payloads beyond the declared content type.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.content.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	if err := os.MkdirAll(h.content.UploadDir, 0o755); err != nil {
		h.logger.Error("creating upload dir", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Stored names are random; the original name survives only in the
	// metadata returned to the client.
	name := uuid.NewString() + filepath.Ext(header.Filename)
	path := filepath.Join(h.content.UploadDir, name)

	dst, err := os.Create(path)
	if err != nil {
		h.logger.Error("creating upload file", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer dst.Close()

	size, err := io.Copy(dst, file)
	if err != nil {
		_ = os.Remove(path)
		h.logger.Error("writing upload", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	caller := identityFrom(r.Context())
	h.logger.Info("file uploaded",
		zap.String("username", caller.Username),
		zap.String("name", header.Filename),
		zap.Int64("size", size),
	)

	writeJSON(w, http.StatusCreated, map[string]any{
		"url":  "/uploads/" + name,
		"name": header.Filename,
		"kind": fileKind(header.Header.Get("Content-Type")),
		"size": size,
	})
}
