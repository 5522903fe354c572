package httpapi

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	apierrors "github.com/r3e-network/security-governance-core/infrastructure/errors"
	"github.com/r3e-network/security-governance-core/infrastructure/httputil"
	"github.com/r3e-network/security-governance-core/internal/ledger"
)

// queryLedger implements GET /ledger/{entityId}.
func (h *handlers) queryLedger(w http.ResponseWriter, r *http.Request) {
	entityID := mux.Vars(r)["entityId"]

	integrity, err := h.c.Ledger.AuditChain(r.Context(), entityID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	events, err := h.c.Ledger.Entries(r.Context(), entityID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"integrity":  integrity,
		"eventCount": len(events),
		"events":     events,
	})
}

// reconstructLedger implements POST /ledger/{entityId}/reconstruct.
func (h *handlers) reconstructLedger(w http.ResponseWriter, r *http.Request) {
	entityID := mux.Vars(r)["entityId"]
	state, err := h.c.Ledger.ReconstructState(r.Context(), entityID, nil)
	if err != nil {
		var broken *ledger.ChainBrokenError
		if errors.As(err, &broken) {
			httputil.WriteServiceError(w, r, apierrors.IntegrityViolation(entityID, broken))
			return
		}
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, state)
}
