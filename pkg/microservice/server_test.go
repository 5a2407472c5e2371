package microservice_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/illmade-knight/go-pubsub-bridge/pkg/microservice"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, s *microservice.BaseServer, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestBaseServer_Probes(t *testing.T) {
	s := microservice.NewBaseServer(zerolog.Nop(), ":0")

	code, body := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)

	code, _ = get(t, s, "/readyz")
	assert.Equal(t, http.StatusOK, code, "ready without a check")

	s.SetReadinessCheck(func() error { return errors.New("mqtt publisher not connected") })
	code, body = get(t, s, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "mqtt publisher not connected")
}

func TestBaseServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "bridge_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)

	s := microservice.NewBaseServer(zerolog.Nop(), ":0")
	s.HandleMetrics(reg)

	code, body := get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(body, "bridge_test_total 3"), body)
}

func TestBaseServer_StartAndShutdown(t *testing.T) {
	s := microservice.NewBaseServer(zerolog.Nop(), ":0")
	require.NoError(t, s.Start())
	port := s.GetHTTPPort()
	require.NotEqual(t, ":0", port)

	resp, err := http.Get("http://localhost" + port + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Shutdown(context.Background()))
}
