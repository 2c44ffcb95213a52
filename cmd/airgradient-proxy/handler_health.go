package main

import "net/http"

// healthHandler reports whether the reader connection is usable
func (rm *RouteManager) healthHandler(w http.ResponseWriter, r *http.Request) {
	healthy := rm.store.IsConnectionHealthy()

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{"status": status, "database": healthy})
}
