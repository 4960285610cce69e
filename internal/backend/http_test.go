package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marcus/syncq/internal/models"
)

func TestHTTPReadAndApply(t *testing.T) {
	var gotIdempotencyKey, gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"data":       map[string]any{"title": "from server"},
				"updated_at": time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339Nano),
			})
		case http.MethodPatch:
			gotIdempotencyKey = r.Header.Get("Idempotency-Key")
			json.NewEncoder(w).Encode(map[string]any{
				"data":       map[string]any{"title": "patched"},
				"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	b := NewHTTP(srv.URL, "secret")
	ctx := context.Background()

	rec, err := b.Read(ctx, "note", "n-1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if rec.Data["title"] != "from server" {
		t.Errorf("read mismatch: got %v", rec.Data)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("auth header mismatch: got %q", gotAuth)
	}

	_, err = b.Apply(ctx, models.PendingMutation{
		ID: "m-1", EntityType: "note", EntityID: "n-1", Operation: models.OpUpdate,
		Payload: map[string]any{"title": "patched"},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if gotIdempotencyKey != "m-1" {
		t.Errorf("idempotency key mismatch: got %q, want m-1", gotIdempotencyKey)
	}
}

func TestHTTPReadAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	rec, err := NewHTTP(srv.URL, "").Read(context.Background(), "note", "missing")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil for 404 read, got %v", rec)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrUnauthorized},
		{"not found", http.StatusNotFound, ErrNotFound},
		{"bad request", http.StatusBadRequest, ErrValidation},
		{"unprocessable", http.StatusUnprocessableEntity, ErrValidation},
		{"server error", http.StatusInternalServerError, ErrServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := NewHTTP(srv.URL, "").Apply(context.Background(), models.PendingMutation{
				ID: "m-1", EntityType: "note", EntityID: "n-1", Operation: models.OpUpdate,
				Payload: map[string]any{"title": "x"},
			})
			if !errors.Is(err, tt.want) {
				t.Errorf("error mismatch: got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestHTTPHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := NewHTTP(srv.URL, "").Health(context.Background()); err != nil {
		t.Errorf("Health failed: %v", err)
	}

	srv.Close()
	if err := NewHTTP(srv.URL, "").Health(context.Background()); err == nil {
		t.Error("expected error probing a closed server")
	}
}
