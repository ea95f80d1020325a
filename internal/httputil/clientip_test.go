package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expectedIP string
	}{
		{"forwarded single", map[string]string{"X-Forwarded-For": "203.0.113.5"}, "10.0.0.1:1234", "203.0.113.5"},
		{"forwarded chain takes first", map[string]string{"X-Forwarded-For": "198.51.100.7, 203.0.113.9"}, "10.0.0.1:1234", "198.51.100.7"},
		{"forwarded ipv6", map[string]string{"X-Forwarded-For": "2001:db8::1"}, "10.0.0.1:1234", "2001:db8::1"},
		{"forwarded garbage skipped", map[string]string{"X-Forwarded-For": "evil\nline, 203.0.113.10"}, "10.0.0.1:1234", "203.0.113.10"},
		{"real ip", map[string]string{"X-Real-IP": "203.0.113.12"}, "10.0.0.1:1234", "203.0.113.12"},
		{"forwarded beats real ip", map[string]string{"X-Forwarded-For": "198.51.100.77", "X-Real-IP": "203.0.113.12"}, "10.0.0.1:1234", "198.51.100.77"},
		{"invalid headers fall back", map[string]string{"X-Forwarded-For": "unknown", "X-Real-IP": "nope"}, "192.0.2.55:4444", "192.0.2.55"},
		{"remote ipv4", nil, "192.0.2.55:4444", "192.0.2.55"},
		{"remote ipv6 bracketed", nil, "[2001:db8::5]:8080", "2001:db8::5"},
		{"malformed remote returned raw", nil, "not_an_ip_port", "not_an_ip_port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/health", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.expectedIP, GetClientIP(r))
		})
	}
}
