package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	apierrors "github.com/r3e-network/security-governance-core/infrastructure/errors"
	"github.com/r3e-network/security-governance-core/infrastructure/httputil"
	"github.com/r3e-network/security-governance-core/internal/compliance"
	"github.com/r3e-network/security-governance-core/internal/ledger"
)

type createExpenseRequest struct {
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
}

// createExpense implements POST /workspaces/{id}/expenses, the
// representative mutation route carrying the full ingress decoration:
// RBAC authorizes the write, the Integrity Guard verifies the tenant's
// audit chain, the compliance orchestrator evaluates the mutation with
// the current daily velocity, and the accepted expense lands on the
// ledger as a CREATED event — the same entries velocityCalculator sums
// back into tomorrow's compliance context.
func (h *handlers) createExpense(w http.ResponseWriter, r *http.Request) {
	workspaceID := mux.Vars(r)["id"]
	principalID := principalFromCtx(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.BadRequest(w, r, "unreadable request body")
		return
	}
	var req createExpenseRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.BadRequest(w, r, "malformed request body")
		return
	}
	if req.Amount <= 0 {
		httputil.BadRequest(w, r, "amount must be positive")
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	reqCtx := rbacRequestContext(r)
	reqCtx.Amount = req.Amount
	decision, err := h.c.RBAC.Check(r.Context(), principalID, workspaceID, "EXPENSE_CREATE", reqCtx)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if !decision.Allow {
		httputil.WriteErrorResponse(w, r, http.StatusForbidden, "PERMISSION_DENIED", decision.Reason,
			map[string]interface{}{"required": "EXPENSE_CREATE"})
		return
	}

	if err := h.c.Compliance.CheckIntegrity(r.Context(), workspaceID, true); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	complianceCtx := compliance.RequestContext{
		TenantID:     workspaceID,
		ResourceType: "expense",
		User:         principalID,
		IP:           httputil.ClientIP(r),
		Method:       r.Method,
		Time:         time.Now(),
		Metrics:      map[string]float64{"dailyVelocity": h.c.Velocity.DailyVelocity(workspaceID)},
	}
	verdict, cerr := h.c.Compliance.Evaluate(r.Context(), workspaceID, "expense", body, complianceCtx)
	if cerr != nil {
		if svcErr := apierrors.GetServiceError(cerr); svcErr != nil && verdict.PolicyID != "" {
			svcErr.WithDetails("policyId", verdict.PolicyID)
		}
		httputil.WriteServiceError(w, r, cerr)
		return
	}

	expenseID := "exp_" + uuid.NewString()
	entry, err := h.c.Ledger.Append(r.Context(), ledger.AppendRequest{
		EntityID:    expenseID,
		EntityModel: "expense",
		EventType:   ledger.EventCreated,
		WorkspaceID: workspaceID,
		PerformedBy: principalID,
		IPAddress:   complianceCtx.IP,
		Payload: map[string]interface{}{
			"amount":      req.Amount,
			"description": req.Description,
			"category":    req.Category,
		},
		ComplianceFlag: verdict.ComplianceFlag,
	})
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	response := map[string]interface{}{
		"id":       expenseID,
		"sequence": entry.Sequence,
	}
	if verdict.ComplianceFlag != "" {
		response["complianceFlag"] = verdict.ComplianceFlag
	}
	httputil.WriteJSON(w, http.StatusCreated, response)
}
