package opensky

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestFetchStates_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify auth header
		user, pass, ok := r.BasicAuth()
		if !ok || user != "tester" || pass != "secret" {
			t.Errorf("expected basic auth tester/secret, got %q/%q", user, pass)
		}

		if r.URL.Path != "/api/states/all" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		ids := r.URL.Query()["icao24"]
		if len(ids) != 2 || ids[0] != "abc123" || ids[1] != "def456" {
			t.Errorf("unexpected icao24 params: %v", ids)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"time":1700000010,"states":[
			["abc123","SWR123","Switzerland",1700000000,1700000005,8.55,47.45,11000.0,false,230.5,90.0,-2.5,null,11200.0,"1000",false,0]
		]}`))
	}))
	defer server.Close()

	logger, _ := zap.NewDevelopment()
	client := NewClient(server.URL, "tester", "secret", 10, 10*time.Second, logger)

	result, err := client.FetchStates(context.Background(), []string{"abc123", "def456"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Snapshots) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(result.Snapshots))
	}
	if result.Snapshots[0].Icao24 != "abc123" {
		t.Errorf("unexpected id %s", result.Snapshots[0].Icao24)
	}
}

func TestFetchStates_AnonymousSendsNoAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("anonymous tier must not send an Authorization header")
		}
		w.Write([]byte(`{"states":[]}`))
	}))
	defer server.Close()

	logger, _ := zap.NewDevelopment()
	client := NewClient(server.URL, "", "", 10, 10*time.Second, logger)

	if _, err := client.FetchStates(context.Background(), []string{"abc123"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFetchStates_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	logger, _ := zap.NewDevelopment()
	client := NewClient(server.URL, "", "", 10, 10*time.Second, logger)

	_, err := client.FetchStates(context.Background(), []string{"abc123"})
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}

func TestFetchStates_AuthFailure(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		logger, _ := zap.NewDevelopment()
		client := NewClient(server.URL, "tester", "wrong", 10, 10*time.Second, logger)

		_, err := client.FetchStates(context.Background(), []string{"abc123"})
		if !errors.Is(err, ErrAuthFailed) {
			t.Errorf("status %d: expected ErrAuthFailed, got %v", status, err)
		}
		server.Close()
	}
}

func TestFetchStates_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	logger, _ := zap.NewDevelopment()
	client := NewClient(server.URL, "", "", 10, 10*time.Second, logger)

	_, err := client.FetchStates(context.Background(), []string{"abc123"})
	if !errors.Is(err, ErrServer) {
		t.Errorf("expected ErrServer, got %v", err)
	}
}

func TestFetchStates_Timeout(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	logger, _ := zap.NewDevelopment()
	client := NewClient(server.URL, "", "", 10, 50*time.Millisecond, logger)

	_, err := client.FetchStates(context.Background(), []string{"abc123"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
