package httputil

import (
	"encoding/json"
	"net/http"

	"dispatchq/internal/errors"
	"dispatchq/internal/tracing"
)

// WriteJSON writes v with the given status. Encoding failures after the header is sent cannot be reported.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to its HTTP status and the standard error body, tagged with the request id
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	WriteJSON(w, errors.HTTPStatusCode(err), errors.ToHTTPResponse(err, tracing.GetRequestID(r.Context())))
}
