package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckHealthTrueWhenActive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(healthResponse{Status: 200, Endpoint: "active"})
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Token: "secret"})
	ok, err := c.CheckHealth(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCheckHealthFalseWhenInactive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(healthResponse{Status: 200, Endpoint: "draining"})
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Token: "secret"})
	ok, err := c.CheckHealth(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCheckHealthFalseOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Token: "secret"})
	ok, err := c.CheckHealth(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSendStatusUpdatePostsTaggedEvent(t *testing.T) {
	var received updateEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/update", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Token: "secret"})
	err := c.SendStatusUpdate(context.Background(), "server-1", "running")
	require.NoError(t, err)
	require.Equal(t, "update", received.Event)
	require.Equal(t, "server-1", received.Server)
	require.Equal(t, "running", received.Status)
}

func TestSendBillingUpdatePostsBillingTag(t *testing.T) {
	var received updateEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Token: "secret"})
	err := c.SendBillingUpdate(context.Background(), "server-1", BillingSnapshot{MemoryGB: 2, EstimatedCost: 0.5})
	require.NoError(t, err)
	require.Equal(t, "billing", received.Event)
	require.InDelta(t, 2.0, received.MemoryGB, 0.0001)
	require.InDelta(t, 0.5, received.EstimatedCost, 0.0001)
}

func TestSendEventErrorsOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Token: "secret"})
	err := c.SendStatusUpdate(context.Background(), "server-1", "running")
	require.Error(t, err)
}

func TestNotifyStatusDoesNotBlock(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(done)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mgr := NewSyncManager(New(Config{URL: srv.URL, Token: "secret"}))
	start := time.Now()
	mgr.NotifyStatus("server-1", "running")
	require.Less(t, time.Since(start), 100*time.Millisecond)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected async request to reach server")
	}
}
