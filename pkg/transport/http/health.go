package http

import (
	"net/http"

	"github.com/stridefit/stride/pkg/transport"
)

// handleHealth handles GET /health.
func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	transport.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleVersion handles GET /version.
func (a *Adapter) handleVersion(w http.ResponseWriter, r *http.Request) {
	transport.WriteJSON(w, http.StatusOK, map[string]string{"version": a.config.Version})
}
