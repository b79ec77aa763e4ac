// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, ready ReadinessChecker) *Server {
	t.Helper()
	server := NewServer("127.0.0.1:0", ready)
	_, err := server.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})
	require.NotEmpty(t, server.Addr())
	return server
}

func get(t *testing.T, server *Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get("http://" + server.Addr() + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, strings.TrimSpace(string(body))
}

func auditRouter(m *Metrics, status int) http.Handler {
	router := chi.NewRouter()
	router.Use(m.Middleware)
	router.Get("/v1/worlds/{world}/audit", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	})
	router.Get("/v1/worlds/{world}/permissions", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("[]"))
	})
	return router
}

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		name       string
		ready      ReadinessChecker
		path       string
		wantStatus int
		wantBody   string
	}{
		{"liveness ignores readiness", func() bool { return false }, "/healthz/liveness", http.StatusOK, "ok"},
		{"ready store", func() bool { return true }, "/healthz/readiness", http.StatusOK, "ok"},
		{"unreachable store", func() bool { return false }, "/healthz/readiness", http.StatusServiceUnavailable, "not ready"},
		{"no checker counts as ready", nil, "/healthz/readiness", http.StatusOK, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := startServer(t, tt.ready)
			status, body := get(t, server, tt.path)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestReadinessFollowsChecker(t *testing.T) {
	var storeUp atomic.Bool
	server := startServer(t, storeUp.Load)

	status, _ := get(t, server, "/healthz/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	storeUp.Store(true)
	status, _ = get(t, server, "/healthz/readiness")
	assert.Equal(t, http.StatusOK, status)
}

func TestMetricsEndpointServesRuntimeAndAPIMetrics(t *testing.T) {
	server := startServer(t, nil)
	auditRouter(server.Metrics(), http.StatusForbidden).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/worlds/w1/audit", nil))

	status, body := get(t, server, "/metrics")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "go_goroutines")
	assert.Contains(t, body, `worldgate_http_requests_total{method="GET",route="/v1/worlds/{world}/audit",status="403"} 1`)
	assert.Contains(t, body, "worldgate_http_request_duration_seconds")
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	router := auditRouter(m, http.StatusOK)

	for _, world := range []string{"w1", "w2", "w3"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/worlds/"+world+"/permissions", nil))
	}
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/worlds/w1/audit", nil))

	assert.InDelta(t, 3, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/v1/worlds/{world}/permissions", http.MethodGet, "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/v1/worlds/{world}/audit", http.MethodGet, "200")), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(m.RequestsTotal))
}

func TestMiddlewareUnmatchedRoutesShareOneLabel(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	router := auditRouter(m, http.StatusOK)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing/123", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing/456", nil))

	assert.InDelta(t, 2, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("unmatched", http.MethodGet, "404")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestsTotal))
}

func TestServerLifecycle(t *testing.T) {
	t.Run("second start fails", func(t *testing.T) {
		server := startServer(t, nil)
		_, err := server.Start()
		assert.Error(t, err)
	})

	t.Run("stop before start is a no-op", func(t *testing.T) {
		server := NewServer("127.0.0.1:0", nil)
		assert.NoError(t, server.Stop(context.Background()))
		assert.Empty(t, server.Addr())
	})

	t.Run("serve errors reach the channel", func(t *testing.T) {
		server := NewServer("127.0.0.1:0", nil)
		errCh, err := server.Start()
		require.NoError(t, err)
		t.Cleanup(func() { _ = server.Stop(context.Background()) })

		require.NoError(t, server.listener.Close())
		select {
		case serveErr := <-errCh:
			assert.Error(t, serveErr)
		case <-time.After(2 * time.Second):
			t.Fatal("no error after the listener closed")
		}
	})

	t.Run("clean shutdown closes the channel", func(t *testing.T) {
		server := NewServer("127.0.0.1:0", nil)
		errCh, err := server.Start()
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, server.Stop(ctx))

		select {
		case serveErr, ok := <-errCh:
			assert.False(t, ok && serveErr != nil, "unexpected error: %v", serveErr)
		case <-time.After(2 * time.Second):
			t.Fatal("error channel not closed")
		}
	})
}
