package streamstub

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Options describes how the fake ingestion backend should behave.
type Options struct {
	// AssetID is returned from successful submissions. Defaults to
	// "asset-stub-1".
	AssetID string

	// State, SizeBytes, Width, Height and Duration populate the asset
	// metadata returned from submissions and lookups.
	State    string
	Size     int64
	Width    int
	Height   int
	Duration float64

	// FailSubmits causes the first N submissions to fail with
	// FailSubmitStatus and FailSubmitBody. Subsequent attempts succeed.
	FailSubmits      int
	FailSubmitStatus int
	FailSubmitBody   string

	// APIToken, when set, is enforced on every request.
	APIToken string
}

// Operation represents a recorded backend interaction.
type Operation struct {
	Kind      string
	AssetID   string
	Filename  string
	BodyBytes int64
	Attempt   int
	Status    int
	Timestamp time.Time
}

// Backend hosts a single httptest.Server that serves all ingestion endpoints.
type Backend struct {
	server *httptest.Server
	opts   Options

	mu         sync.Mutex
	operations []Operation
	submits    int
}

// Start spins up a new backend stub using the provided options.
func Start(opts Options) *Backend {
	if opts.AssetID == "" {
		opts.AssetID = "asset-stub-1"
	}
	if opts.State == "" {
		opts.State = "ready"
	}
	if opts.FailSubmitStatus == 0 {
		opts.FailSubmitStatus = http.StatusBadGateway
	}
	b := &Backend{opts: opts}
	b.server = httptest.NewServer(http.HandlerFunc(b.handle))
	return b
}

// Close shuts down the underlying HTTP server.
func (b *Backend) Close() {
	if b.server != nil {
		b.server.Close()
	}
}

// BaseURL returns the HTTP base URL for all backend endpoints.
func (b *Backend) BaseURL() string {
	return b.server.URL
}

// Operations returns a copy of all recorded operations in order.
func (b *Backend) Operations() []Operation {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Operation, len(b.operations))
	copy(out, b.operations)
	return out
}

// SubmitAttempts reports how many submissions have been received.
func (b *Backend) SubmitAttempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submits
}

func (b *Backend) handle(w http.ResponseWriter, r *http.Request) {
	if !b.expectBearer(w, r) {
		return
	}
	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/stream"):
		b.handleSubmit(w, r)
	case r.Method == http.MethodGet && strings.Contains(path, "/stream/"):
		b.handleVideo(w, r)
	case r.Method == http.MethodDelete && strings.Contains(path, "/stream/"):
		b.handleDelete(w, r)
	default:
		http.Error(w, "unexpected request", http.StatusNotFound)
	}
}

func (b *Backend) handleSubmit(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.submits++
	attempt := b.submits
	b.mu.Unlock()

	op := Operation{Kind: "submit", Attempt: attempt, Status: http.StatusOK, Timestamp: time.Now()}

	reader, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expected multipart body", http.StatusBadRequest)
		return
	}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			http.Error(w, "bad multipart body", http.StatusBadRequest)
			return
		}
		if part.FormName() == "file" {
			op.Filename = part.FileName()
			n, _ := io.Copy(io.Discard, part)
			op.BodyBytes = n
		}
		part.Close()
	}

	if attempt <= b.opts.FailSubmits {
		op.Status = b.opts.FailSubmitStatus
		b.record(op)
		body := b.opts.FailSubmitBody
		if body == "" {
			body = "backend unavailable"
		}
		http.Error(w, body, b.opts.FailSubmitStatus)
		return
	}

	op.AssetID = b.opts.AssetID
	b.record(op)
	b.writeVideo(w)
}

func (b *Backend) handleVideo(w http.ResponseWriter, r *http.Request) {
	assetID := pathAssetID(r.URL.Path)
	b.record(Operation{Kind: "video", AssetID: assetID, Status: http.StatusOK})
	if assetID != b.opts.AssetID {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	b.writeVideo(w)
}

func (b *Backend) handleDelete(w http.ResponseWriter, r *http.Request) {
	assetID := pathAssetID(r.URL.Path)
	b.record(Operation{Kind: "delete", AssetID: assetID, Status: http.StatusNoContent})
	if assetID != b.opts.AssetID {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) writeVideo(w http.ResponseWriter) {
	payload := map[string]interface{}{
		"success": true,
		"result": map[string]interface{}{
			"uid":      b.opts.AssetID,
			"size":     b.opts.Size,
			"duration": b.opts.Duration,
			"status":   map[string]string{"state": b.opts.State},
			"input":    map[string]int{"width": b.opts.Width, "height": b.opts.Height},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (b *Backend) record(op Operation) {
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.operations = append(b.operations, op)
}

func (b *Backend) expectBearer(w http.ResponseWriter, r *http.Request) bool {
	expected := strings.TrimSpace(b.opts.APIToken)
	if expected == "" {
		return true
	}
	if got := r.Header.Get("Authorization"); got != fmt.Sprintf("Bearer %s", expected) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func pathAssetID(path string) string {
	idx := strings.LastIndex(path, "/stream/")
	if idx < 0 {
		return ""
	}
	return path[idx+len("/stream/"):]
}
