package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/security-governance-core/infrastructure/httputil"
	"github.com/r3e-network/security-governance-core/infrastructure/middleware"
	"github.com/r3e-network/security-governance-core/infrastructure/utils"
)

type createInviteRequest struct {
	Email      string `json:"email"`
	Role       string `json:"role"`
	Message    string `json:"message"`
	ExpiryDays int    `json:"expiryDays"`
}

// createInvite implements POST /workspaces/{id}/invites.
func (h *handlers) createInvite(w http.ResponseWriter, r *http.Request) {
	workspaceID := mux.Vars(r)["id"]
	var req createInviteRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, r, "malformed request body")
		return
	}
	if err := utils.ValidateRequired(map[string]string{"email": req.Email, "role": req.Role}); err != nil {
		httputil.BadRequest(w, r, err.Error())
		return
	}
	if !middleware.IsValidEmail(req.Email) {
		httputil.BadRequest(w, r, "malformed email address")
		return
	}

	invite, token, err := h.c.Invites.CreateInvite(r.Context(), workspaceID, req.Email, req.Role, req.Message, req.ExpiryDays)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"invite":     invite,
		"inviteLink": "/join?token=" + token,
	})
}

// previewInvite implements GET /invites/{token} (tracks view).
func (h *handlers) previewInvite(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	invite, err := h.c.Invites.FindByToken(r.Context(), token, true)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, invite)
}

// acceptInvite implements POST /invites/{token}/accept.
func (h *handlers) acceptInvite(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	principalID := principalFromCtx(r.Context())

	membership, alreadyMember, err := h.c.Invites.Accept(r.Context(), token, principalID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if alreadyMember {
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"status": "already a member", "membership": membership})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"membership": membership})
}
