package server

import (
	"net/http"
)

// DashboardsHandler serves embedded Grafana dashboards by URL path.
func DashboardsHandler(dashboards map[string][]byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := dashboards[r.URL.Path]
		if !ok {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "dashboard not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})
}
