package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/marcus/syncq/internal/models"
)

// HTTPBackend talks to a remote entity API over HTTP/JSON.
//
// Routes:
//
//	GET    /v1/entities/{type}/{id}           -> 200 {data, updated_at} | 404
//	POST   /v1/entities/{type}/{id}           -> create
//	PATCH  /v1/entities/{type}/{id}           -> update
//	DELETE /v1/entities/{type}/{id}           -> delete
//
// Writes carry the mutation ID in the Idempotency-Key header so a retried
// request is recognized and not applied twice.
type HTTPBackend struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewHTTP creates an HTTP backend with a default request timeout.
func NewHTTP(baseURL, apiKey string) *HTTPBackend {
	return &HTTPBackend{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// entityResponse is the wire form of a record.
type entityResponse struct {
	Data      map[string]any `json:"data"`
	UpdatedAt string         `json:"updated_at"`
}

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Read implements Backend.
func (b *HTTPBackend) Read(ctx context.Context, entityType, entityID string) (*Record, error) {
	req, err := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/v1/entities/%s/%s", b.BaseURL, entityType, entityID), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	b.setHeaders(req, "")

	resp, err := b.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil // absent, not an error
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	return decodeRecord(resp.Body)
}

// Apply implements Backend.
func (b *HTTPBackend) Apply(ctx context.Context, m models.PendingMutation) (*Record, error) {
	var method string
	var body io.Reader

	switch m.Operation {
	case models.OpCreate:
		method = "POST"
	case models.OpUpdate:
		method = "PATCH"
	case models.OpDelete:
		method = "DELETE"
	default:
		return nil, fmt.Errorf("apply: invalid operation %q", m.Operation)
	}

	if m.Operation != models.OpDelete {
		data, err := json.Marshal(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("apply %s/%s: marshal payload: %w", m.EntityType, m.EntityID, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method,
		fmt.Sprintf("%s/v1/entities/%s/%s", b.BaseURL, m.EntityType, m.EntityID), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	b.setHeaders(req, m.ID)

	resp, err := b.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	if m.Operation == models.OpDelete {
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	}
	return decodeRecord(resp.Body)
}

func (b *HTTPBackend) setHeaders(req *http.Request, idempotencyKey string) {
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.APIKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
}

// checkStatus maps HTTP status codes onto the error taxonomy.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	var apiErr apiError
	msg := string(body)
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		msg = apiErr.Message
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrValidation, msg)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", ErrServer, resp.StatusCode, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
	}
}

func decodeRecord(r io.Reader) (*Record, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var er entityResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, er.UpdatedAt)
	if err != nil {
		if updatedAt, err = time.Parse(time.RFC3339, er.UpdatedAt); err != nil {
			return nil, fmt.Errorf("parse updated_at %q: %w", er.UpdatedAt, err)
		}
	}
	return &Record{Data: er.Data, UpdatedAt: updatedAt}, nil
}

// Health hits the /healthz endpoint to verify server reachability.
func (b *HTTPBackend) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", b.BaseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := b.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthz: HTTP %d", resp.StatusCode)
	}
	return nil
}
