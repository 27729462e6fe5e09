package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hearthapp/hearth/internal/api"
	"github.com/hearthapp/hearth/internal/ledger"
	"github.com/hearthapp/hearth/internal/localstore"
	"github.com/hearthapp/hearth/internal/remote"
	"github.com/hearthapp/hearth/internal/types"
	"github.com/hearthapp/hearth/pkg/offline"
)

const serviceAPIKey = "e2e-api-key"

// docStore is an in-process stand-in for the hosted document-store API. It
// speaks the same wire protocol the remote client does: collection CRUD,
// version-checked patches, query-by-filter, and a health endpoint.
type docStore struct {
	srv *httptest.Server

	mu          sync.Mutex
	collections map[string]map[string]types.Document
	nextID      int
	down        bool
}

func newDocStore() *docStore {
	ds := &docStore{collections: make(map[string]map[string]types.Document)}
	ds.srv = httptest.NewServer(ds)
	return ds
}

func (ds *docStore) Close() { ds.srv.Close() }

// setDown simulates a backend outage: every request returns 503.
func (ds *docStore) setDown(v bool) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.down = v
}

func (ds *docStore) seed(collection string, doc types.Document) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.coll(collection)[doc.ID()] = doc.Clone()
}

func (ds *docStore) get(collection, id string) (types.Document, bool) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	doc, ok := ds.coll(collection)[id]
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}

func (ds *docStore) coll(name string) map[string]types.Document {
	c, ok := ds.collections[name]
	if !ok {
		c = make(map[string]types.Document)
		ds.collections[name] = c
	}
	return c
}

func (ds *docStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1")
	if path == "/health" {
		w.WriteHeader(http.StatusOK)
		return
	}

	parts := strings.Split(strings.TrimPrefix(path, "/collections/"), "/")
	collection := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodPost:
		ds.handleCreate(w, r, collection)
	case len(parts) == 2 && parts[1] == "query" && r.Method == http.MethodPost:
		ds.handleQuery(w, r, collection)
	case len(parts) == 2 && r.Method == http.MethodGet:
		ds.handleGet(w, collection, parts[1])
	case len(parts) == 2 && r.Method == http.MethodPatch:
		ds.handlePatch(w, r, collection, parts[1])
	case len(parts) == 2 && r.Method == http.MethodDelete:
		ds.handleDelete(w, collection, parts[1])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (ds *docStore) handleCreate(w http.ResponseWriter, r *http.Request, collection string) {
	var doc types.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ds.nextID++
	id := fmt.Sprintf("srv-%d", ds.nextID)
	doc["id"] = id
	if doc.Version() == 0 {
		doc["version"] = int64(1)
	}
	ds.coll(collection)[id] = doc
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (ds *docStore) handleGet(w http.ResponseWriter, collection, id string) {
	doc, ok := ds.coll(collection)[id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(doc)
}

func (ds *docStore) handlePatch(w http.ResponseWriter, r *http.Request, collection, id string) {
	existing, ok := ds.coll(collection)[id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var patch types.Document
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if v := patch.Version(); v != 0 && v != existing.Version() {
		w.WriteHeader(http.StatusConflict)
		return
	}
	for k, v := range patch {
		if k == "version" {
			continue
		}
		existing[k] = v
	}
	existing["version"] = existing.Version() + 1
	w.WriteHeader(http.StatusOK)
}

func (ds *docStore) handleDelete(w http.ResponseWriter, collection, id string) {
	if _, ok := ds.coll(collection)[id]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	delete(ds.coll(collection), id)
	w.WriteHeader(http.StatusNoContent)
}

func (ds *docStore) handleQuery(w http.ResponseWriter, r *http.Request, collection string) {
	var req struct {
		Filters map[string]any `json:"filters"`
		OrderBy string         `json:"order_by"`
		Desc    bool           `json:"desc"`
		Limit   int            `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	matched := make([]types.Document, 0)
	for _, doc := range ds.coll(collection) {
		ok := true
		for k, v := range req.Filters {
			if fmt.Sprint(doc[k]) != fmt.Sprint(v) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, doc)
		}
	}

	if req.OrderBy != "" {
		sort.Slice(matched, func(i, j int) bool {
			less := fmt.Sprint(matched[i][req.OrderBy]) < fmt.Sprint(matched[j][req.OrderBy])
			if req.Desc {
				return !less
			}
			return less
		})
	}
	if req.Limit > 0 && len(matched) > req.Limit {
		matched = matched[:req.Limit]
	}
	json.NewEncoder(w).Encode(matched)
}

// harness wires the full service against an in-process backend: SQLite queue
// storage, the HTTP remote client, the offline sync client, the points
// ledger, and the public API server.
type harness struct {
	t       *testing.T
	backend *docStore
	server  *httptest.Server
	client  *offline.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	backend := newDocStore()
	t.Cleanup(backend.Close)

	storage, err := localstore.NewSQLite(filepath.Join(t.TempDir(), "hearth.db"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	remoteClient := remote.NewClientWithTimeout(backend.srv.URL, "remote-key", 2*time.Second)

	client, err := offline.New(offline.Config{
		Storage: storage,
		Remote:  remoteClient,
	})
	if err != nil {
		t.Fatalf("build offline client: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		client.Shutdown(ctx)
	})

	svc := ledger.NewService(remoteClient)
	handler := api.NewHandler(client, svc, serviceAPIKey, "e2e")
	server := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(server.Close)

	return &harness{t: t, backend: backend, server: server, client: client}
}

// do issues an authenticated request against the service API and returns the
// status code and raw body.
func (h *harness) do(method, path string, body any) (int, []byte) {
	h.t.Helper()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request: %v", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, h.server.URL+path, reqBody)
	if err != nil {
		h.t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+serviceAPIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response: %v", err)
	}
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return v
}
