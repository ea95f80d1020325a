package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"dispatchq/internal/errors"
	"dispatchq/internal/httputil"
	"dispatchq/internal/metrics"
	"dispatchq/internal/service"
	"dispatchq/internal/tracing"

	"github.com/sirupsen/logrus"
)

// AdminAuth requires "Authorization: Bearer <token>" on every request.
// An empty token disables the check; config validation refuses that in production.
func AdminAuth(token string, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		expected := []byte(token)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := bearerToken(r)
			if presented == "" || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
				metrics.IncrementCounter("http_auth_failures_total", nil, "Admin requests rejected for a missing or wrong token")
				logger.WithFields(logrus.Fields{
					service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
					service.LogFieldRemoteIP:  httputil.GetClientIP(r),
					service.LogFieldURL:       r.URL.Path,
				}).Warn("Rejected admin request with invalid credentials")

				w.Header().Set("WWW-Authenticate", `Bearer realm="dispatchq"`)
				httputil.WriteError(w, r, errors.NewAuthError("missing or invalid bearer token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
