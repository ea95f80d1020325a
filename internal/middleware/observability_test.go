package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"dispatchq/internal/metrics"
	"dispatchq/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonLogger(buf *bytes.Buffer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	return logger
}

// lastLogLine decodes the final JSON log line written to buf
func lastLogLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestObservabilityMiddleware(t *testing.T) {
	var logs bytes.Buffer
	var seen *tracing.RequestInfo

	handler := ObservabilityMiddleware(jsonLogger(&logs))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = tracing.GetRequestInfo(r.Context())
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id":"x"}`))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.NotNil(t, seen)
	assert.NotEmpty(t, seen.RequestID)
	assert.Len(t, seen.TraceID, 32)
	assert.False(t, seen.StartTime.IsZero())
	assert.Equal(t, seen.RequestID, w.Header().Get(tracing.RequestIDHeader))

	entry := lastLogLine(t, &logs)
	assert.Equal(t, "HTTP request completed", entry["msg"])
	assert.Equal(t, float64(http.StatusAccepted), entry["status_code"])
	assert.Equal(t, float64(len(`{"id":"x"}`)), entry["size_bytes"])
	assert.Equal(t, "192.0.2.10", entry["remote_ip"])
	assert.Equal(t, "info", entry["level"])
}

func TestObservabilityMiddleware_HonoursIncomingRequestID(t *testing.T) {
	var got string
	handler := ObservabilityMiddleware(jsonLogger(&bytes.Buffer{}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = tracing.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(tracing.RequestIDHeader, "caller-supplied-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "caller-supplied-1", got)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(tracing.RequestIDHeader, strings.Repeat("x", 100))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, strings.HasPrefix(got, "req_"))
}

func TestObservabilityMiddleware_LogLevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "info"},
		{http.StatusNotFound, "warning"},
		{http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		var logs bytes.Buffer
		handler := ObservabilityMiddleware(jsonLogger(&logs))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

		assert.Equal(t, tt.level, lastLogLine(t, &logs)["level"], "status %d", tt.status)
	}
}

func TestObservabilityMiddleware_RouteTemplateLabel(t *testing.T) {
	var logs bytes.Buffer
	router := mux.NewRouter()
	router.Use(ObservabilityMiddleware(jsonLogger(&logs)))
	router.HandleFunc("/api/v1/messages/{id}", func(w http.ResponseWriter, r *http.Request) {}).Methods(http.MethodGet)

	before := metrics.GetRegistry().CounterValue("http_requests_total", map[string]string{
		"method": http.MethodGet, "route": "/api/v1/messages/{id}",
	})

	for _, id := range []string{"a", "b", "c"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/messages/"+id, nil))
	}

	after := metrics.GetRegistry().CounterValue("http_requests_total", map[string]string{
		"method": http.MethodGet, "route": "/api/v1/messages/{id}",
	})
	assert.Equal(t, 3.0, after-before)
	assert.Equal(t, "/api/v1/messages/{id}", lastLogLine(t, &logs)["route"])
}

func TestResponseWrapper(t *testing.T) {
	w := httptest.NewRecorder()
	wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

	wrapper.WriteHeader(http.StatusCreated)
	wrapper.WriteHeader(http.StatusInternalServerError)
	assert.Equal(t, http.StatusCreated, wrapper.statusCode)

	n, err := wrapper.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	_, _ = wrapper.Write([]byte(" world"))
	assert.Equal(t, int64(11), wrapper.responseSize)

	assert.NotPanics(t, wrapper.Flush)
	assert.Same(t, w, wrapper.Unwrap())

	_, _, err = wrapper.Hijack()
	assert.Error(t, err, "httptest recorder cannot be hijacked")
}

func TestObservabilityMiddleware_Concurrent(t *testing.T) {
	handler := ObservabilityMiddleware(jsonLogger(&bytes.Buffer{}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	var mu sync.Mutex
	ids := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/concurrent", nil))
			mu.Lock()
			ids[w.Header().Get(tracing.RequestIDHeader)] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 25)
}
