package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoJSONSendsAuthAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}
		w.Write([]byte(`{"id":"i-1"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", time.Second)
	var out struct {
		ID string `json:"id"`
	}
	if err := c.DoJSON(context.Background(), http.MethodPost, "/things", map[string]string{"a": "b"}, &out); err != nil {
		t.Fatalf("DoJSON: %v", err)
	}
	if out.ID != "i-1" {
		t.Fatalf("decoded %+v", out)
	}
}

func TestDoJSONErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	err := c.DoJSON(context.Background(), http.MethodGet, "/things", nil, nil)
	var ae *APIError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if ae.Code != http.StatusConflict {
		t.Fatalf("Code = %d, want 409", ae.Code)
	}
}

func TestPingAcceptErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "degraded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	// A 503 still proves the endpoint is alive.
	if err := c.Ping(context.Background(), "/health", true); err != nil {
		t.Fatalf("Ping(accept): %v", err)
	}
	if err := c.Ping(context.Background(), "/health", false); err == nil {
		t.Fatal("Ping(strict) accepted an error status")
	}
}

func TestDoWithRetryRecovers(t *testing.T) {
	var calls atomic.Int32
	err := DoWithRetry(context.Background(), func() error {
		if calls.Add(1) < 3 {
			return &APIError{Code: http.StatusServiceUnavailable, Message: "not yet"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("DoWithRetry: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestDoWithRetryStopsOnPermanentError(t *testing.T) {
	var calls atomic.Int32
	perm := &APIError{Code: http.StatusBadRequest, Message: "bad request"}
	err := DoWithRetry(context.Background(), func() error {
		calls.Add(1)
		return perm
	})
	if !errors.Is(err, perm) {
		t.Fatalf("err = %v, want the permanent error", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1 (4xx is not retryable)", calls.Load())
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&APIError{Code: http.StatusInternalServerError}, true},
		{&APIError{Code: http.StatusTooManyRequests}, true},
		{&APIError{Code: http.StatusBadRequest}, false},
		{&APIError{Code: http.StatusNotFound}, false},
		{errors.New("connection refused"), true},
	}
	for _, c := range cases {
		if got := IsRetryable(c.err); got != c.want {
			t.Errorf("IsRetryable(%v) = %t, want %t", c.err, got, c.want)
		}
	}
}
