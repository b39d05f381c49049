package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/dev-tnsq/verbex/internal/errors"
)

func TestDoBodyJSONRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	client := New(2*time.Second, 2)
	if _, err := DoBodyJSON(context.Background(), client, http.MethodGet, srv.URL, nil, nil, &out); err != nil {
		t.Fatalf("DoBodyJSON failed: %v", err)
	}
	if !out.OK {
		t.Fatalf("expected decoded body, got %+v", out)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestDoBodyJSONReplaysBodyAcrossRetries(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		bodies = append(bodies, string(buf[:n]))
		if len(bodies) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 1)
	if _, err := DoBodyJSON(context.Background(), client, http.MethodPost, srv.URL, []byte(`{"a":1}`), nil, nil); err != nil {
		t.Fatalf("DoBodyJSON failed: %v", err)
	}
	if len(bodies) != 2 || bodies[0] != bodies[1] {
		t.Fatalf("expected identical replayed bodies, got %q", bodies)
	}
}

func TestDoBodyJSONMapsAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := New(2*time.Second, 3)
	_, err := DoBodyJSON(context.Background(), client, http.MethodGet, srv.URL, nil, nil, nil)
	typed, ok := clierr.As(err)
	if !ok || typed.Code != clierr.CodeAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestBearerHeaders(t *testing.T) {
	if got := BearerHeaders(""); len(got) != 0 {
		t.Fatalf("expected empty map for empty token, got %v", got)
	}
	got := BearerHeaders("abc")
	if got["Authorization"] != "Bearer abc" {
		t.Fatalf("unexpected headers %v", got)
	}
}
