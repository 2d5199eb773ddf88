package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
)

// Video describes an ingested asset as reported by the backend.
type Video struct {
	AssetID         string  `json:"assetId"`
	State           string  `json:"state"`
	SizeBytes       int64   `json:"sizeBytes"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// Client is the ingestion backend contract. Implementations must be safe for
// concurrent use.
type Client interface {
	// Submit streams the file to the backend and returns the created asset.
	// Transient failures are retried per the configured policy; the file is
	// rewound to the start before every attempt.
	Submit(ctx context.Context, file io.ReadSeeker, filename string) (Video, error)

	// Video fetches current metadata for an ingested asset.
	Video(ctx context.Context, assetID string) (Video, error)

	// Delete removes the remote asset, best effort. It reports whether the
	// asset is gone; failures are for the caller to log, never to escalate.
	Delete(ctx context.Context, assetID string) bool
}

// HTTPClient talks to the ingestion backend over its REST API.
type HTTPClient struct {
	config Config
	retry  RetryPolicy
	client *http.Client
	logger *slog.Logger
}

// NewHTTPClient constructs a Client backed by the HTTP API.
func (c Config) NewHTTPClient() (*HTTPClient, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPClient{
		config: c,
		retry:  c.Retry.normalized(),
		client: client,
		logger: slog.Default(),
	}, nil
}

// SetLogger replaces the client's logger. Call before first use.
func (h *HTTPClient) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logger
	}
}

type videoEnvelope struct {
	Success bool `json:"success"`
	Result  struct {
		UID      string  `json:"uid"`
		Size     int64   `json:"size"`
		Duration float64 `json:"duration"`
		Status   struct {
			State string `json:"state"`
		} `json:"status"`
		Input struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"input"`
	} `json:"result"`
}

func (e videoEnvelope) video() Video {
	return Video{
		AssetID:         e.Result.UID,
		State:           e.Result.Status.State,
		SizeBytes:       e.Result.Size,
		Width:           e.Result.Input.Width,
		Height:          e.Result.Input.Height,
		DurationSeconds: e.Result.Duration,
	}
}

// Submit implements Client. The whole retry loop runs under one submit
// timeout; the context is also honored while sleeping between attempts.
func (h *HTTPClient) Submit(ctx context.Context, file io.ReadSeeker, filename string) (Video, error) {
	ctx, cancel := context.WithTimeout(ctx, h.config.SubmitTimeout)
	defer cancel()

	var lastErr *Error
	for attempt := 1; attempt <= h.retry.MaxAttempts; attempt++ {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return Video{}, fmt.Errorf("rewind upload file: %w", err)
		}
		video, submitErr := h.submitOnce(ctx, file, filename)
		if submitErr == nil {
			return video, nil
		}
		if !submitErr.Retryable() {
			return Video{}, submitErr
		}
		lastErr = submitErr
		h.logger.Warn("ingestion submit failed",
			"attempt", attempt,
			"maxAttempts", h.retry.MaxAttempts,
			"error", submitErr.Message)
		if attempt == h.retry.MaxAttempts {
			break
		}
		if err := h.retry.Sleep(ctx, h.retry.backoffFor(attempt)); err != nil {
			return Video{}, &Error{Kind: KindTransient, Message: "submit canceled during backoff", wrapped: err}
		}
	}
	return Video{}, lastErr
}

func (h *HTTPClient) submitOnce(ctx context.Context, file io.Reader, filename string) (Video, *Error) {
	pipeReader, pipeWriter := io.Pipe()
	form := multipart.NewWriter(pipeWriter)
	go func() {
		part, err := form.CreateFormFile("file", filename)
		if err != nil {
			pipeWriter.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pipeWriter.CloseWithError(err)
			return
		}
		pipeWriter.CloseWithError(form.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.config.accountURL(), pipeReader)
	if err != nil {
		return Video{}, &Error{Kind: KindFailed, Message: err.Error(), wrapped: err}
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+h.config.APIToken)

	resp, err := h.client.Do(req)
	if err != nil {
		return Video{}, classifyIngestionError(err, 0, nil)
	}
	defer resp.Body.Close()
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if readErr != nil {
		return Video{}, classifyIngestionError(readErr, 0, nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Video{}, classifyIngestionError(nil, resp.StatusCode, body)
	}

	var envelope videoEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Video{}, &Error{Kind: KindFailed, Message: "decode backend response: " + err.Error(), wrapped: err}
	}
	if envelope.Result.UID == "" {
		return Video{}, &Error{Kind: KindFailed, StatusCode: resp.StatusCode, Message: "backend response carries no asset id"}
	}
	return envelope.video(), nil
}

// Video implements Client.
func (h *HTTPClient) Video(ctx context.Context, assetID string) (Video, error) {
	ctx, cancel := context.WithTimeout(ctx, h.config.MetadataTimeout)
	defer cancel()

	url := h.config.accountURL() + "/" + assetID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Video{}, err
	}
	req.Header.Set("Authorization", "Bearer "+h.config.APIToken)

	resp, err := h.client.Do(req)
	if err != nil {
		return Video{}, classifyIngestionError(err, 0, nil)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Video{}, classifyIngestionError(err, 0, nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Video{}, classifyIngestionError(nil, resp.StatusCode, body)
	}

	var envelope videoEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Video{}, fmt.Errorf("decode backend response: %w", err)
	}
	return envelope.video(), nil
}

// Delete implements Client. A 404 counts as deleted.
func (h *HTTPClient) Delete(ctx context.Context, assetID string) bool {
	ctx, cancel := context.WithTimeout(ctx, h.config.MetadataTimeout)
	defer cancel()

	url := h.config.accountURL() + "/" + assetID
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+h.config.APIToken)

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Warn("asset delete failed", "assetId", assetID, "error", err)
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return true
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		h.logger.Warn("asset delete failed", "assetId", assetID, "status", resp.Status)
		return false
	}
	return true
}
