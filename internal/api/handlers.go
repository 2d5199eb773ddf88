package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"vodgate/internal/auth"
	"vodgate/internal/stream"
	"vodgate/internal/upload"
)

const defaultCompletionLimit = 4

// Config wires the handler's collaborators.
type Config struct {
	Uploads  upload.Store
	Stream   stream.Client
	Locators stream.Locators
	Tokens   *auth.Manager
	Logger   *slog.Logger

	// UploadTTL is how long a session stays resumable; it feeds the
	// Upload-Expires header. Defaults to the store's 24h retention.
	UploadTTL time.Duration

	// CompletionLimit bounds how many ingestion submissions may run at
	// once so long-running handoffs cannot starve chunk traffic.
	CompletionLimit int64
}

type Handler struct {
	Store    upload.Store
	Stream   stream.Client
	Locators stream.Locators
	Tokens   *auth.Manager

	logger      *slog.Logger
	uploadTTL   time.Duration
	completions *semaphore.Weighted
}

func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.UploadTTL
	if ttl <= 0 {
		ttl = upload.DefaultRetention
	}
	limit := cfg.CompletionLimit
	if limit <= 0 {
		limit = defaultCompletionLimit
	}
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = auth.NewManager()
	}
	return &Handler{
		Store:       cfg.Uploads,
		Stream:      cfg.Stream,
		Locators:    cfg.Locators,
		Tokens:      tokens,
		logger:      logger,
		uploadTTL:   ttl,
		completions: semaphore.NewWeighted(limit),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// WriteError is an exported helper for returning JSON API errors.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeError(w, status, err)
}

// Health reports service liveness and token-store reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	if err := h.Tokens.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
