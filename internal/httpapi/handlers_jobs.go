package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/security-governance-core/infrastructure/httputil"
)

// triggerJob implements POST /jobs/{name}/trigger, a
// system-token-gated, fire-and-forget 202.
func (h *handlers) triggerJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.c.Jobs.Trigger(r.Context(), name); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type toggleJobRequest struct {
	Enabled bool `json:"enabled"`
}

// toggleJob implements PATCH /jobs/{name}/toggle.
func (h *handlers) toggleJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req toggleJobRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, r, "malformed request body")
		return
	}
	if err := h.c.Jobs.Pause(r.Context(), name, !req.Enabled); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"name": name, "enabled": req.Enabled})
}
