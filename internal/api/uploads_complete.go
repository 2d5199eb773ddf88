package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"vodgate/internal/stream"
)

// completionResult is the JSON body returned after a successful handoff.
type completionResult struct {
	VideoID      string    `json:"videoId"`
	EmbedURL     string    `json:"embedUrl"`
	ThumbnailURL string    `json:"thumbnailUrl"`
	HLSURL       string    `json:"hlsUrl"`
	DASHURL      string    `json:"dashUrl"`
	VideoInfo    videoInfo `json:"videoInfo"`
}

type videoInfo struct {
	Status   string  `json:"status"`
	Duration float64 `json:"duration"`
	Size     int64   `json:"size"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
}

// completeUpload hands the assembled file to the ingestion backend. The
// session survives every failure path so completion can be retried without
// re-uploading; it is deleted only after the backend accepted the file.
func (h *Handler) completeUpload(w http.ResponseWriter, r *http.Request, id string) {
	session, ok := h.resolveSession(w, r, id)
	if !ok {
		return
	}
	if !session.Complete() {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":          "upload is incomplete",
			"receivedOffset": session.ReceivedOffset,
			"declaredLength": session.DeclaredLength,
		})
		return
	}

	if err := h.completions.Acquire(r.Context(), 1); err != nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("completion canceled while waiting for a slot"))
		return
	}
	defer h.completions.Release(1)

	file, session, err := h.Store.Open(session.ID)
	if err != nil {
		h.logger.Error("open upload sink", "upload_id", session.ID, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("open upload sink"))
		return
	}
	defer file.Close()

	video, err := h.Stream.Submit(r.Context(), file, session.Filename())
	if err != nil {
		kind := stream.ErrorKind(err)
		h.logger.Error("ingestion handoff failed",
			"upload_id", session.ID,
			"kind", string(kind),
			"error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
			"kind":  string(kind),
		})
		return
	}

	// Fold fresh asset metadata into the response when the backend has it;
	// the submit result is already authoritative enough to answer with.
	if fetched, err := h.Stream.Video(r.Context(), video.AssetID); err == nil {
		video = fetched
	} else {
		h.logger.Warn("asset metadata lookup failed", "asset_id", video.AssetID, "error", err)
	}

	if err := h.Store.Delete(session.ID); err != nil {
		h.logger.Error("delete completed session", "upload_id", session.ID, "error", err)
	}

	h.logger.Info("upload completed",
		"upload_id", session.ID,
		"asset_id", video.AssetID,
		"size_bytes", video.SizeBytes)

	writeJSON(w, http.StatusOK, completionResult{
		VideoID:      video.AssetID,
		EmbedURL:     h.Locators.EmbedURL(video.AssetID),
		ThumbnailURL: h.Locators.ThumbnailURL(video.AssetID),
		HLSURL:       h.Locators.HLSManifestURL(video.AssetID),
		DASHURL:      h.Locators.DASHManifestURL(video.AssetID),
		VideoInfo: videoInfo{
			Status:   video.State,
			Duration: video.DurationSeconds,
			Size:     video.SizeBytes,
			Width:    video.Width,
			Height:   video.Height,
		},
	})
}

// VideoByID handles remote asset cleanup: DELETE /api/videos/{id}.
func (h *Handler) VideoByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireRole(w, r, roleAdmin); !ok {
		return
	}
	assetID := strings.TrimPrefix(r.URL.Path, "/api/videos/")
	if assetID == "" || strings.Contains(assetID, "/") {
		writeError(w, http.StatusNotFound, errors.New("video not found"))
		return
	}
	deleted := h.Stream.Delete(r.Context(), assetID)
	if !deleted {
		h.logger.Warn("remote asset delete failed", "asset_id", assetID)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}
