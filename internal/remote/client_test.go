package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hearthapp/hearth/internal/types"
)

func TestCreateReturnsServerID(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		var doc types.Document
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "doc-42"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	id, err := c.Create(context.Background(), "tasks", types.Document{"title": "x"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != "doc-42" {
		t.Errorf("id = %q, want doc-42", id)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/api/v1/collections/tasks" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestStatusCodeMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, ErrNotFound},
		{"conflict", http.StatusConflict, ErrConflict},
		{"bad request", http.StatusBadRequest, ErrInvalidPayload},
		{"unprocessable", http.StatusUnprocessableEntity, ErrInvalidPayload},
		{"server error", http.StatusInternalServerError, ErrUnavailable},
		{"bad gateway", http.StatusBadGateway, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "k")
			err := c.Update(context.Background(), "tasks", "t1", types.Document{"status": "done"})
			if !errors.Is(err, tt.want) {
				t.Errorf("Update error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGetDecodesDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/collections/tasks/t1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(types.Document{"id": "t1", "version": 3})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	doc, err := c.Get(context.Background(), "tasks", "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.ID() != "t1" || doc.Version() != 3 {
		t.Errorf("doc = %v", doc)
	}
}

func TestGetRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(types.Document{"id": "t1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	doc, err := c.Get(context.Background(), "tasks", "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.ID() != "t1" {
		t.Errorf("doc = %v", doc)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestGetDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	if _, err := c.Get(context.Background(), "tasks", "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on permanent errors)", calls.Load())
	}
}

func TestQuerySendsFilters(t *testing.T) {
	var got struct {
		Filters map[string]any `json:"filters"`
		OrderBy string         `json:"order_by"`
		Limit   int            `json:"limit"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/collections/point_history/query" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode query: %v", err)
		}
		json.NewEncoder(w).Encode([]types.Document{{"id": "p1"}, {"id": "p2"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	docs, err := c.Query(context.Background(), "point_history", QueryOptions{
		Filters: []Filter{{Field: "user_id", Value: "alice"}},
		OrderBy: "created_at",
		Limit:   100,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("len(docs) = %d, want 2", len(docs))
	}
	if got.Filters["user_id"] != "alice" || got.OrderBy != "created_at" || got.Limit != 100 {
		t.Errorf("query request = %+v", got)
	}
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewClient(srv.URL, "k")
	err := c.Delete(context.Background(), "tasks", "t1")
	if !IsUnavailable(err) {
		t.Errorf("error = %v, want unavailable", err)
	}
}

func TestDisabledNetworkFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"id": "x"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	if err := c.DisableNetwork(context.Background()); err != nil {
		t.Fatalf("DisableNetwork: %v", err)
	}

	_, err := c.Create(context.Background(), "tasks", types.Document{"title": "x"})
	if !errors.Is(err, ErrNetworkDisabled) {
		t.Fatalf("Create error = %v, want ErrNetworkDisabled", err)
	}
	if calls.Load() != 0 {
		t.Error("disabled client must not touch the wire")
	}

	if err := c.EnableNetwork(context.Background()); err != nil {
		t.Fatalf("EnableNetwork: %v", err)
	}
	if _, err := c.Create(context.Background(), "tasks", types.Document{"title": "x"}); err != nil {
		t.Fatalf("Create after enable: %v", err)
	}
}

func TestCheckHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/health" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	if err := c.CheckHealth(context.Background()); err != nil {
		t.Errorf("CheckHealth: %v", err)
	}
}

func TestCheckHealthDegraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	if err := c.CheckHealth(context.Background()); !IsUnavailable(err) {
		t.Errorf("CheckHealth error = %v, want unavailable", err)
	}
}
