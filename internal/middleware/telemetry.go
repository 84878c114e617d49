package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// TelemetryMiddleware answers client telemetry traffic locally so it never
// reaches a backend. Clients pointed at the gateway still try to phone home
// with usage events; those calls are acknowledged here and dropped.
type TelemetryMiddleware struct {
	logger *slog.Logger
}

func NewTelemetryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	tm := &TelemetryMiddleware{
		logger: logger,
	}

	return tm.middleware
}

func (tm *TelemetryMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if host == "" {
			host = r.Header.Get("Host")
		}

		if tm.isTelemetryRequest(host, r.URL.Path) {
			tm.logger.Debug("Telemetry request intercepted", "host", host, "path", r.URL.Path)
			tm.acknowledge(w)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (tm *TelemetryMiddleware) acknowledge(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"success":true}`))
}

func (tm *TelemetryMiddleware) isTelemetryRequest(host, path string) bool {
	if strings.Contains(host, "statsig.anthropic.com") {
		return true
	}

	telemetryPaths := []string{
		"/v1/initialize",
		"/v1/log_event",
		"/v1/rgstr",
		"/statsig",
		"/telemetry",
		"/analytics",
	}

	for _, telemetryPath := range telemetryPaths {
		if strings.HasPrefix(path, telemetryPath) {
			return true
		}
	}

	return false
}
