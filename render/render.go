// Package render writes handler responses.
package render

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// JSON writes v as a JSON body with status. An encoding failure after the
// header has gone out is logged on logger, if any, with the request context.
func JSON(w http.ResponseWriter, r *http.Request, logger *logrus.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil && logger != nil {
		logger.WithContext(r.Context()).WithError(err).Error("failed to encode response")
	}
}

// Text writes body verbatim as text/plain with status.
func Text(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
