package httpapi

import (
	"net/http"
)

// NewRouter wires the API surface. wsHandler serves the dashboard
// stream; middleware (usually auth) wraps everything.
func NewRouter(svc *Service, wsHandler http.HandlerFunc, middleware func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/robots/data", svc.handleRobotData)
	mux.HandleFunc("/api/dashboard/current", svc.handleDashboardCurrent)
	mux.HandleFunc("/api/zones/status", svc.handleZoneStatus)
	if wsHandler != nil {
		mux.HandleFunc("/ws/dashboard", wsHandler)
	}
	if middleware != nil {
		return middleware(mux)
	}
	return mux
}
