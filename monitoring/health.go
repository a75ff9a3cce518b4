package monitoring

import (
	"encoding/json"
	"net/http"
)

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Instance string `json:"instance"`
}

// HealthHandler reports the service as up. It is served outside the
// telemetry pipeline so probes do not produce traces.
func HealthHandler(service, instance string) http.HandlerFunc {
	body := HealthStatus{Status: "ok", Service: service, Instance: instance}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(body)
	}
}

// LivenessHandler answers as long as the process serves HTTP.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}
