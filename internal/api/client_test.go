package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
		Token:   func() string { return "tok123" },
	})
	return c, srv
}

func TestBearerHeaderAttached(t *testing.T) {
	var gotAuth string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	}))

	_, err := c.LatestReadings(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok123", gotAuth)
}

func TestLatestReadingsDecode(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/farms/7/sensordata/latest", r.URL.Path)
		_, _ = w.Write([]byte(`[{"metricType":"TEMPERATURE","value":22.5,"time":"2025-06-01T10:00:00Z"}]`))
	}))

	readings, err := c.LatestReadings(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, "TEMPERATURE", readings[0].MetricType)
	assert.Equal(t, 22.5, readings[0].Value)
}

func TestHistoryQueryParams(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "soil_moisture", r.URL.Query().Get("metricType"))
		assert.Equal(t, "24h", r.URL.Query().Get("range"))
		_, _ = w.Write([]byte(`[{"time":"t1","value":40},{"time":"t2","value":null}]`))
	}))

	pts, err := c.History(context.Background(), 7, "soil_moisture", HistoryRange)
	require.NoError(t, err)
	require.Len(t, pts, 2)
	require.NotNil(t, pts[0].Value)
	assert.Equal(t, 40.0, *pts[0].Value)
	assert.Nil(t, pts[1].Value)
}

func TestServerMessageSurfaced(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"identifier already in use"}`))
	}))

	_, err := c.CreateDevice(context.Background(), 1, DevicePayload{Name: "p", Type: "PUMP", Identifier: "p-1"})
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "identifier already in use", apiErr.Message)
}

func TestUnauthorizedFiresHook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	var hooked atomic.Int32
	c := NewClient(Config{
		BaseURL:       srv.URL,
		Token:         func() string { return "expired" },
		OnAuthFailure: func() { hooked.Add(1) },
	})

	_, err := c.ListRules(context.Background(), 1)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), hooked.Load())
}

func TestBreakerShortCircuits(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{
		BaseURL:         srv.URL,
		Token:           func() string { return "t" },
		BreakerFailures: 1,
		BreakerOpenFor:  time.Minute,
	})

	_, err := c.ListDevices(context.Background(), 1)
	require.Error(t, err)

	// Breaker is open now: the second call must not reach the backend.
	_, err = c.ListDevices(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable")
	assert.Equal(t, int32(1), hits.Load())
}

func TestDeleteRuleHitsEndpoint(t *testing.T) {
	var method, path string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, c.DeleteRule(context.Background(), 4, 11))
	assert.Equal(t, http.MethodDelete, method)
	assert.Equal(t, "/farms/4/rules/11", path)
}

func TestControlCommandBody(t *testing.T) {
	var body string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.WriteHeader(http.StatusAccepted)
	}))

	require.NoError(t, c.Control(context.Background(), 2, 8, "TURN_ON"))
	assert.JSONEq(t, `{"command":"TURN_ON"}`, body)
}
