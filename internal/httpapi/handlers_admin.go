package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/security-governance-core/infrastructure/httputil"
	"github.com/r3e-network/security-governance-core/infrastructure/transaction"
	"github.com/r3e-network/security-governance-core/internal/ledger"
	"github.com/r3e-network/security-governance-core/internal/workspace"
)

// listTenants implements GET /admin/tenants.
func (h *handlers) listTenants(w http.ResponseWriter, r *http.Request) {
	ids, err := h.c.WorkspaceStore.ListAllWorkspaceIDs(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	tenants := make([]workspace.Workspace, 0, len(ids))
	for _, id := range ids {
		ws, ok, err := h.c.WorkspaceStore.GetWorkspace(r.Context(), id)
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
		if ok {
			tenants = append(tenants, ws)
		}
	}
	httputil.WriteJSON(w, http.StatusOK, tenants)
}

type patchTenantRequest struct {
	Status *string `json:"status"`
}

// patchTenant implements PATCH /admin/tenants/{workspaceId}. A status
// transition bumps CacheEpoch, matching compliance.freezeWorkspace's
// invalidation of the RBAC effective-permission cache on any
// workspace-level status change.
func (h *handlers) patchTenant(w http.ResponseWriter, r *http.Request) {
	workspaceID := mux.Vars(r)["workspaceId"]
	var req patchTenantRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, r, "malformed request body")
		return
	}

	ws, ok, err := h.c.WorkspaceStore.GetWorkspace(r.Context(), workspaceID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if !ok {
		httputil.WriteErrorResponse(w, r, http.StatusNotFound, "NOT_FOUND", "workspace not found", nil)
		return
	}

	if req.Status == nil {
		httputil.WriteJSON(w, http.StatusOK, ws)
		return
	}

	// Integrity Guard: a workspace whose audit chain no longer verifies
	// must not accept further status writes.
	if err := h.c.Compliance.CheckIntegrity(r.Context(), workspaceID, true); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	previousStatus := ws.Status
	updated := ws
	updated.Status = workspace.Status(*req.Status)
	updated.CacheEpoch++

	// Two steps span the workspace store and the ledger; a failure
	// appending the audit entry must not leave the status change
	// recorded without a trail, so the write is unwound.
	tx := transaction.NewTransaction(h.c.Logger)
	tx.AddStep("update-workspace-status",
		func(ctx context.Context) error {
			return h.c.WorkspaceStore.PutWorkspace(ctx, updated)
		},
		func(ctx context.Context) error {
			return h.c.WorkspaceStore.PutWorkspace(ctx, ws)
		},
	)
	tx.AddStep("append-status-change-entry",
		func(ctx context.Context) error {
			_, err := h.c.Ledger.Append(ctx, ledger.AppendRequest{
				EntityID:    workspaceID,
				EntityModel: "Workspace",
				EventType:   ledger.EventUpdated,
				PerformedBy: principalFromCtx(ctx),
				Payload: map[string]interface{}{"status": map[string]interface{}{
					"old": previousStatus,
					"new": updated.Status,
				}},
			})
			return err
		},
		nil,
	)

	if err := tx.Execute(r.Context()); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, updated)
}

type patchMembershipRequest struct {
	RoleID string `json:"roleId"`
}

// patchMembershipRole implements PATCH
// /admin/tenants/{workspaceId}/memberships/{principalId}, reassigning a
// principal's role and recording the transition on the ledger via
// rbac.Evaluator.AssignRole.
func (h *handlers) patchMembershipRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	workspaceID := vars["workspaceId"]
	principalID := vars["principalId"]

	var req patchMembershipRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.RoleID == "" {
		httputil.BadRequest(w, r, "malformed request body")
		return
	}

	// Integrity Guard over the membership chain the reassignment will
	// extend; a broken chain rejects the write before any state moves.
	if err := h.c.Compliance.CheckIntegrity(r.Context(), principalID, true); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	if err := h.c.RBAC.AssignRole(r.Context(), principalID, workspaceID, req.RoleID, principalFromCtx(r.Context())); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"workspaceId": workspaceID,
		"principalId": principalID,
		"roleId":      req.RoleID,
	})
}

// liquidityAudit implements GET /admin/workspaces/{id}/liquidity-audit,
// surfacing the velocityCalculator job's last computed figure alongside
// the workspace's current circuit-breaker status.
func (h *handlers) liquidityAudit(w http.ResponseWriter, r *http.Request) {
	workspaceID := mux.Vars(r)["id"]
	ws, ok, err := h.c.WorkspaceStore.GetWorkspace(r.Context(), workspaceID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if !ok {
		httputil.WriteErrorResponse(w, r, http.StatusNotFound, "NOT_FOUND", "workspace not found", nil)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"workspaceId":   workspaceID,
		"status":        ws.Status,
		"dailyVelocity": h.c.Velocity.DailyVelocity(workspaceID),
	})
}
