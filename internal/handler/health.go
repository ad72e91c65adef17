package handler

import (
	"net/http"
	"time"
)

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	startTime time.Time
	version   string
	ready     func() (bool, string)
}

// NewHealthHandler creates a health handler. ready reports whether traffic
// can be served and, if not, why.
func NewHealthHandler(version string, ready func() (bool, string)) *HealthHandler {
	return &HealthHandler{
		startTime: time.Now(),
		version:   version,
		ready:     ready,
	}
}

// ReadinessHandler answers 200 while a backend is selected and 503 otherwise
func (h *HealthHandler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ok, reason := true, ""
	if h.ready != nil {
		ok, reason = h.ready()
	}

	response := map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().UTC(),
		"version":   h.version,
		"uptime":    time.Since(h.startTime).String(),
	}
	code := http.StatusOK
	if !ok {
		response["status"] = "not_ready"
		response["reason"] = reason
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, response)
}

// LivenessHandler checks if the application is alive
func (h *HealthHandler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"version":   h.version,
		"uptime":    time.Since(h.startTime).String(),
	})
}
