package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPClientCreateStage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing bearer auth header: %q", r.Header.Get("Authorization"))
		}
		if r.Method != http.MethodPost || r.URL.Path != "/stages" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(stageResponse{Arn: "arn:stage:1", Name: "kid-stream-1"})
	}))
	defer srv.Close()

	client := NewHTTPClient(Config{BaseURL: srv.URL, Token: "test-token"})
	stage, err := client.CreateStage(context.Background(), CreateStageParams{Name: "kid-stream-1"})
	if err != nil {
		t.Fatalf("CreateStage: %v", err)
	}
	if stage.Arn != "arn:stage:1" {
		t.Errorf("got arn %q, want arn:stage:1", stage.Arn)
	}
}

func TestHTTPClientGetStageNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewHTTPClient(Config{BaseURL: srv.URL, Token: "t"})
	stage, found, err := client.GetStage(context.Background(), "arn:missing")
	if err != nil {
		t.Fatalf("GetStage: %v", err)
	}
	if found {
		t.Errorf("expected found=false, got stage %+v", stage)
	}
}

func TestHTTPClientRetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(stageResponse{Arn: "arn:stage:ok"})
	}))
	defer srv.Close()

	client := NewHTTPClient(Config{BaseURL: srv.URL, Token: "t", MaxAttempts: 3, RetryInterval: time.Millisecond})
	stage, err := client.CreateStage(context.Background(), CreateStageParams{Name: "x"})
	if err != nil {
		t.Fatalf("CreateStage: %v", err)
	}
	if attempts != 3 {
		t.Errorf("got %d attempts, want 3", attempts)
	}
	if stage.Arn != "arn:stage:ok" {
		t.Errorf("got arn %q", stage.Arn)
	}
}

func TestHTTPClientExhaustsRetriesReturnsTransientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewHTTPClient(Config{BaseURL: srv.URL, Token: "t", MaxAttempts: 2, RetryInterval: time.Millisecond})
	_, err := client.CreateStage(context.Background(), CreateStageParams{Name: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := err.(*TransientError); !ok {
		t.Errorf("got %T, want *TransientError", err)
	}
}

func TestHTTPClientRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewHTTPClient(Config{BaseURL: srv.URL, Token: "t", MaxAttempts: 1, RetryInterval: time.Millisecond})
	_, err := client.CreateStage(context.Background(), CreateStageParams{Name: "x"})
	rlErr, ok := err.(*RateLimitedError)
	if !ok {
		t.Fatalf("got %T, want *RateLimitedError", err)
	}
	if rlErr.RetryAfter != "5" {
		t.Errorf("got retry-after %q, want 5", rlErr.RetryAfter)
	}
}

func TestHTTPClientPermanentErrorNotRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewHTTPClient(Config{BaseURL: srv.URL, Token: "t", MaxAttempts: 3, RetryInterval: time.Millisecond})
	_, err := client.CreateStage(context.Background(), CreateStageParams{Name: "x"})
	if _, ok := err.(*PermanentError); !ok {
		t.Fatalf("got %T, want *PermanentError", err)
	}
	if attempts != 1 {
		t.Errorf("got %d attempts, want 1 (no retry on permanent error)", attempts)
	}
}
