package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetailedLoggingMiddleware_MasksHeadersAndBody(t *testing.T) {
	var logs bytes.Buffer
	logger := jsonLogger(&logs)
	logger.SetLevel(logrus.DebugLevel)

	var handlerBody string
	handler := DetailedLoggingMiddleware(logger, DefaultDetailedLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		handlerBody = string(b)
	}))

	body := `{"recipient":"alice@example.com","message_type":"welcome","correlation_id":"user-123456"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer secret-token")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, body, handlerBody, "handler must still see the full body")

	entry := lastLogLine(t, &logs)
	assert.Equal(t, "Detailed request logging", entry["msg"])
	headers := entry["request_headers"].(map[string]interface{})
	assert.Equal(t, "***MASKED***", headers["Authorization"])

	logged := entry["request_body"].(map[string]interface{})
	assert.NotEqual(t, "alice@example.com", logged["recipient"])
	assert.NotEqual(t, "user-123456", logged["correlation_id"])
	assert.Equal(t, "welcome", logged["message_type"])
	assert.NotContains(t, logs.String(), "secret-token")
}

func TestDetailedLoggingMiddleware_Skips(t *testing.T) {
	var logs bytes.Buffer
	logger := jsonLogger(&logs)

	handler := DetailedLoggingMiddleware(logger, DefaultDetailedLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	// info level: nothing logged
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	assert.Empty(t, logs.String())

	logger.SetLevel(logrus.DebugLevel)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Empty(t, logs.String())
}

func TestDetailedLoggingMiddleware_UnparseableBody(t *testing.T) {
	var logs bytes.Buffer
	logger := jsonLogger(&logs)
	logger.SetLevel(logrus.DebugLevel)

	handler := DetailedLoggingMiddleware(logger, DefaultDetailedLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.NotEmpty(t, logs.String())
	assert.Equal(t, "***UNPARSEABLE***", lastLogLine(t, &logs)["request_body"])
}

func TestIsSensitiveHeader(t *testing.T) {
	sensitive := DefaultDetailedLoggingConfig().SensitiveHeaders
	assert.True(t, isSensitiveHeader("Authorization", sensitive))
	assert.True(t, isSensitiveHeader("X-API-KEY", sensitive))
	assert.False(t, isSensitiveHeader("Content-Type", sensitive))
}
