package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"vodgate/internal/models"
	"vodgate/internal/upload"
)

const (
	tusVersion         = "1.0.0"
	uploadsPathPrefix  = "/api/uploads/"
	completeSuffix     = "/complete"
	maxMetadataEntries = 32
)

func setTusHeaders(w http.ResponseWriter) {
	w.Header().Set("Tus-Resumable", tusVersion)
}

// Uploads handles the session-creation endpoint.
func (h *Handler) Uploads(w http.ResponseWriter, r *http.Request) {
	setTusHeaders(w)
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	identity, ok := h.requireRole(w, r, roleAdmin, roleUploader)
	if !ok {
		return
	}

	lengthHeader := strings.TrimSpace(r.Header.Get("Upload-Length"))
	if lengthHeader == "" {
		writeError(w, http.StatusBadRequest, errors.New("Upload-Length header is required"))
		return
	}
	declaredLength, err := strconv.ParseInt(lengthHeader, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid Upload-Length: %q", lengthHeader))
		return
	}

	metadata, err := parseUploadMetadata(r.Header.Get("Upload-Metadata"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session, err := h.Store.Create(upload.CreateParams{
		Owner:          identity.Subject,
		DeclaredLength: declaredLength,
		Metadata:       metadata,
	})
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrInvalidLength):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, upload.ErrTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, err)
		default:
			h.logger.Error("create upload session", "error", err)
			writeError(w, http.StatusInternalServerError, errors.New("create upload session"))
		}
		return
	}

	h.logger.Info("upload session created",
		"upload_id", session.ID,
		"owner", session.Owner,
		"declared_length", session.DeclaredLength)

	w.Header().Set("Location", uploadsPathPrefix+session.ID)
	w.Header().Set("Upload-Expires", session.CreatedAt.Add(h.uploadTTL).UTC().Format(http.TimeFormat))
	writeJSON(w, http.StatusCreated, map[string]string{"id": session.ID})
}

// UploadByID routes per-session operations: status, append, completion, and
// session termination.
func (h *Handler) UploadByID(w http.ResponseWriter, r *http.Request) {
	setTusHeaders(w)
	rest := strings.TrimPrefix(r.URL.Path, uploadsPathPrefix)
	if strings.HasSuffix(rest, completeSuffix) {
		id := strings.TrimSuffix(rest, completeSuffix)
		if id == "" || strings.Contains(id, "/") {
			writeError(w, http.StatusNotFound, errors.New("upload session not found"))
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
			return
		}
		h.completeUpload(w, r, id)
		return
	}

	id := rest
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, errors.New("upload session not found"))
		return
	}
	switch r.Method {
	case http.MethodHead:
		h.uploadStatus(w, r, id)
	case http.MethodPatch:
		h.appendChunk(w, r, id)
	case http.MethodDelete:
		h.terminateUpload(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) resolveSession(w http.ResponseWriter, r *http.Request, id string) (models.UploadSession, bool) {
	identity, ok := h.requireRole(w, r, roleAdmin, roleUploader)
	if !ok {
		return models.UploadSession{}, false
	}
	session, exists := h.Store.Get(id)
	if !exists {
		writeError(w, http.StatusNotFound, errors.New("upload session not found"))
		return models.UploadSession{}, false
	}
	// Sessions are private to their creator; admins can touch any of them.
	if session.Owner != identity.Subject && !identity.HasRole(roleAdmin) {
		writeError(w, http.StatusNotFound, errors.New("upload session not found"))
		return models.UploadSession{}, false
	}
	return session, true
}

func (h *Handler) uploadStatus(w http.ResponseWriter, r *http.Request, id string) {
	session, ok := h.resolveSession(w, r, id)
	if !ok {
		return
	}
	w.Header().Set("Upload-Offset", strconv.FormatInt(session.ReceivedOffset, 10))
	w.Header().Set("Upload-Length", strconv.FormatInt(session.DeclaredLength, 10))
	if encoded := encodeUploadMetadata(session.Metadata); encoded != "" {
		w.Header().Set("Upload-Metadata", encoded)
	}
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) appendChunk(w http.ResponseWriter, r *http.Request, id string) {
	session, ok := h.resolveSession(w, r, id)
	if !ok {
		return
	}

	offsetHeader := strings.TrimSpace(r.Header.Get("Upload-Offset"))
	if offsetHeader == "" {
		writeError(w, http.StatusBadRequest, errors.New("Upload-Offset header is required"))
		return
	}
	expectedOffset, err := strconv.ParseInt(offsetHeader, 10, 64)
	if err != nil || expectedOffset < 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid Upload-Offset: %q", offsetHeader))
		return
	}

	newOffset, err := h.Store.Append(session.ID, expectedOffset, r.Body)
	if err != nil {
		if conflict, ok := upload.IsOffsetConflict(err); ok {
			w.Header().Set("Upload-Offset", strconv.FormatInt(conflict.Current, 10))
			writeError(w, http.StatusConflict, fmt.Errorf("offset mismatch: server is at %d", conflict.Current))
			return
		}
		switch {
		case errors.Is(err, upload.ErrEmptyChunk):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, upload.ErrLengthExceeded):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, upload.ErrNotFound):
			writeError(w, http.StatusNotFound, err)
		default:
			h.logger.Error("append chunk", "upload_id", session.ID, "error", err)
			writeError(w, http.StatusInternalServerError, errors.New("append chunk"))
		}
		return
	}

	w.Header().Set("Upload-Offset", strconv.FormatInt(newOffset, 10))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) terminateUpload(w http.ResponseWriter, r *http.Request, id string) {
	session, ok := h.resolveSession(w, r, id)
	if !ok {
		return
	}
	if err := h.Store.Delete(session.ID); err != nil {
		if errors.Is(err, upload.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		h.logger.Error("terminate upload", "upload_id", session.ID, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("terminate upload"))
		return
	}
	h.logger.Info("upload session terminated", "upload_id", session.ID)
	w.WriteHeader(http.StatusNoContent)
}

// parseUploadMetadata decodes the comma-separated "key base64(value)" pairs
// carried by the Upload-Metadata header. A key with no value is allowed and
// decodes to the empty string.
func parseUploadMetadata(header string) (map[string]string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}
	pairs := strings.Split(header, ",")
	if len(pairs) > maxMetadataEntries {
		return nil, fmt.Errorf("Upload-Metadata carries %d entries, limit is %d", len(pairs), maxMetadataEntries)
	}
	metadata := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		fields := strings.Fields(strings.TrimSpace(pair))
		switch len(fields) {
		case 1:
			metadata[fields[0]] = ""
		case 2:
			decoded, err := base64.StdEncoding.DecodeString(fields[1])
			if err != nil {
				return nil, fmt.Errorf("invalid Upload-Metadata value for %q: %w", fields[0], err)
			}
			metadata[fields[0]] = string(decoded)
		default:
			return nil, fmt.Errorf("invalid Upload-Metadata pair %q", strings.TrimSpace(pair))
		}
	}
	return metadata, nil
}

// encodeUploadMetadata renders metadata back into header form with keys
// sorted for stable output.
func encodeUploadMetadata(metadata map[string]string) string {
	if len(metadata) == 0 {
		return ""
	}
	keys := make([]string, 0, len(metadata))
	for key := range metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		value := metadata[key]
		if value == "" {
			pairs = append(pairs, key)
			continue
		}
		pairs = append(pairs, key+" "+base64.StdEncoding.EncodeToString([]byte(value)))
	}
	return strings.Join(pairs, ",")
}
