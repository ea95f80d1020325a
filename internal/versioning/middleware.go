package versioning

import (
	"context"
	"fmt"
	"net/http"

	"dispatchq/internal/errors"
	"dispatchq/internal/httputil"

	"github.com/sirupsen/logrus"
)

type contextKey string

const VersionContextKey contextKey = "api_version"

const (
	AcceptVersionHeader = "Accept-Version"
	APIVersionHeader    = "X-API-Version"

	CurrentVersionHeader    = "X-Current-Version"
	SupportedVersionsHeader = "X-Supported-Versions"
)

// VersionMiddleware negotiates the admin API version from request headers
type VersionMiddleware struct {
	logger *logrus.Logger
}

func NewVersionMiddleware(logger *logrus.Logger) *VersionMiddleware {
	return &VersionMiddleware{logger: logger}
}

// VersionHandler advertises the served range and rejects requests for versions outside it
func (vm *VersionMiddleware) VersionHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(CurrentVersionHeader, CurrentVersion.String())
		w.Header().Set(SupportedVersionsHeader, GetVersionRange())

		requested, err := vm.extractVersionFromRequest(r)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}

		if !IsVersionSupported(requested) {
			vm.logger.WithFields(logrus.Fields{
				"requested_version": requested.String(),
				"current_version":   CurrentVersion.String(),
				"path":              r.URL.Path,
			}).Warn("Incompatible API version requested")
			httputil.WriteError(w, r, errors.NewValidationError("api_version", requested.String(),
				fmt.Sprintf("supported versions are %s", GetVersionRange())))
			return
		}

		ctx := context.WithValue(r.Context(), VersionContextKey, requested)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractVersionFromRequest prefers Accept-Version, then X-API-Version, then the current version
func (vm *VersionMiddleware) extractVersionFromRequest(r *http.Request) (APIVersion, error) {
	for _, header := range []string{AcceptVersionHeader, APIVersionHeader} {
		raw := r.Header.Get(header)
		if raw == "" {
			continue
		}
		version, err := ParseVersion(raw)
		if err != nil {
			return APIVersion{}, errors.NewValidationError(header, raw, "invalid API version")
		}
		return version, nil
	}
	return CurrentVersion, nil
}

// GetVersionFromContext extracts the negotiated API version from request context
func GetVersionFromContext(ctx context.Context) (APIVersion, bool) {
	version, ok := ctx.Value(VersionContextKey).(APIVersion)
	return version, ok
}
