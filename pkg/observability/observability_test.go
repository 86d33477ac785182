package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_MetricsServer(t *testing.T) {
	m := NewManager(Config{MetricsAddr: "127.0.0.1:0"}, nil)

	requests := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_requests_total", Help: "test"})
	m.Registry().MustRegister(requests)
	requests.Add(3)

	require.NoError(t, m.Initialize(context.Background()))
	defer m.Shutdown(context.Background())
	require.NotEmpty(t, m.Addr())

	resp, err := http.Get("http://" + m.Addr() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "test_requests_total 3")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestManager_HealthAndReady(t *testing.T) {
	m := NewManager(Config{}, nil)
	m.SetHealth(func() any { return map[string]int{"running_processes": 1} })
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, map[string]any{"running_processes": float64(1)}, health["components"])

	resp, err = http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	m.SetReady(true)
	resp, err = http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestManager_Tracing(t *testing.T) {
	var out bytes.Buffer
	m := NewManager(Config{ServiceName: "refiner-test", EnableTracing: true, TraceOutput: &out}, nil)
	require.NoError(t, m.Initialize(context.Background()))

	_, span := m.Tracer("test").Start(context.Background(), "refiner.Deploying")
	span.End()

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Contains(t, out.String(), "refiner.Deploying")
	assert.Contains(t, out.String(), "refiner-test")

	// second shutdown is a no-op
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_Disabled(t *testing.T) {
	m := NewManager(Config{}, nil)
	require.NoError(t, m.Initialize(context.Background()))
	assert.Empty(t, m.Addr())
	assert.NotNil(t, m.Tracer("x"))
	assert.NoError(t, m.Shutdown(context.Background()))
}
