package remote

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/despacho/failure"
	"github.com/pithecene-io/despacho/types"
)

type capturedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]any
}

// fakeServer records requests and answers with a fixed status and body.
type fakeServer struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
	response string
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	f.mu.Lock()
	f.requests = append(f.requests, capturedRequest{
		Method: r.Method,
		Path:   r.URL.EscapedPath(),
		Auth:   r.Header.Get("Authorization"),
		Body:   body,
	})
	status, response := f.status, f.response
	f.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, response)
}

func (f *fakeServer) last(t *testing.T) capturedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatal("no request captured")
	}
	return f.requests[len(f.requests)-1]
}

func newHTTPFixture(t *testing.T, status int, response string) (*HTTPClient, *fakeServer) {
	t.Helper()
	fake := &fakeServer{status: status, response: response}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", "secret", nil), fake
}

func TestHTTPClient_CreateEncodesServerTimestamp(t *testing.T) {
	c, fake := newHTTPFixture(t, http.StatusOK, `{"id":"abc"}`)

	id, err := c.Create(t.Context(), "orders", types.Fields{"client": "Ana", "placed_at": ServerTimestamp})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "abc" {
		t.Errorf("id = %q, want abc", id)
	}

	req := fake.last(t)
	if req.Method != http.MethodPost || req.Path != "/v1/collections/orders/documents" {
		t.Errorf("request = %s %s", req.Method, req.Path)
	}
	if req.Auth != "Bearer secret" {
		t.Errorf("auth = %q", req.Auth)
	}
	fields, _ := req.Body["fields"].(map[string]any)
	placed, _ := fields["placed_at"].(map[string]any)
	if placed["serverTimestamp"] != true {
		t.Errorf("placed_at on the wire = %v", fields["placed_at"])
	}
}

func TestHTTPClient_QueryDecodesTimestamps(t *testing.T) {
	c, fake := newHTTPFixture(t, http.StatusOK, `{"documents":[
		{"id":"o1","fields":{"client":"Ana","placed_at":{"timestampValue":"2026-03-01T09:30:00Z"},"products":["a","b"]}}
	]}`)

	docs, err := c.Query(t.Context(), Query{Collection: "orders", OrderBy: "placed_at", Desc: true, Limit: 30})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "o1" {
		t.Fatalf("docs = %+v", docs)
	}
	ts, ok := docs[0].Fields["placed_at"].(types.Timestamp)
	if !ok {
		t.Fatalf("placed_at = %T, want types.Timestamp", docs[0].Fields["placed_at"])
	}
	if !ts.Equal(time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("placed_at = %v", ts)
	}

	req := fake.last(t)
	if req.Path != "/v1/collections/orders:query" {
		t.Errorf("path = %s", req.Path)
	}
	if req.Body["orderBy"] != "placed_at" || req.Body["desc"] != true || req.Body["limit"] != float64(30) {
		t.Errorf("query body = %v", req.Body)
	}
}

func TestHTTPClient_UpdateAndDeletePaths(t *testing.T) {
	c, fake := newHTTPFixture(t, http.StatusNoContent, "")

	if err := c.Update(t.Context(), "clients", "c 1", types.Fields{"phone": "2"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if req := fake.last(t); req.Method != http.MethodPatch || req.Path != "/v1/collections/clients/documents/c%201" {
		t.Errorf("update request = %s %s", req.Method, req.Path)
	}

	if err := c.Delete(t.Context(), "clients", "c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if req := fake.last(t); req.Method != http.MethodDelete {
		t.Errorf("delete method = %s", req.Method)
	}

	if err := c.Update(t.Context(), "clients", "", nil); !errors.Is(err, ErrInvalidID) {
		t.Errorf("empty id update = %v, want ErrInvalidID", err)
	}
}

func TestHTTPClient_Commit(t *testing.T) {
	c, fake := newHTTPFixture(t, http.StatusOK, `{}`)

	err := c.Commit(t.Context(), []WriteOp{
		SetOp("clients", "a", types.Fields{"name": "A"}),
		DeleteOp("clients", "b"),
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	req := fake.last(t)
	if req.Path != "/v1:commit" {
		t.Errorf("path = %s", req.Path)
	}
	writes, _ := req.Body["writes"].([]any)
	if len(writes) != 2 {
		t.Fatalf("writes = %v", req.Body["writes"])
	}
	first, _ := writes[0].(map[string]any)
	if first["op"] != "set" || first["id"] != "a" {
		t.Errorf("first write = %v", first)
	}
}

func TestHTTPClient_ErrorsAreClassifiable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   failure.Kind
	}{
		{"permission code", http.StatusForbidden, `{"code":"permission-denied","message":"rules"}`, failure.Permission},
		{"unavailable", http.StatusServiceUnavailable, `{"code":"unavailable"}`, failure.Transient},
		{"rate limited", http.StatusTooManyRequests, ``, failure.Transient},
		{"bad request", http.StatusBadRequest, `{"code":"invalid-argument","message":"bad"}`, failure.Fatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newHTTPFixture(t, tt.status, tt.body)
			_, err := c.Query(t.Context(), Query{Collection: "clients"})

			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("expected *StatusError, got %T: %v", err, err)
			}
			if se.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", se.StatusCode, tt.status)
			}
			if got := failure.Classify(err); got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestHTTPClient_NotFound(t *testing.T) {
	c, _ := newHTTPFixture(t, http.StatusNotFound, `{"code":"not-found"}`)
	err := c.Update(t.Context(), "clients", "x", types.Fields{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHTTPClient_ConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewHTTPClient(url, "", nil)
	_, err := c.Query(t.Context(), Query{Collection: "clients"})
	if err == nil {
		t.Fatal("expected error from closed server")
	}
	if failure.Classify(err) != failure.Transient {
		t.Errorf("Classify = %s, want transient (%v)", failure.Classify(err), err)
	}
}
