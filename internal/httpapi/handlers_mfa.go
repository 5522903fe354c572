package httpapi

import (
	"net/http"
	"time"

	"github.com/r3e-network/security-governance-core/infrastructure/httputil"
	"github.com/r3e-network/security-governance-core/infrastructure/redaction"
	"github.com/r3e-network/security-governance-core/internal/principal"
)

// initiateSetup implements POST /2fa/setup/initiate.
func (h *handlers) initiateSetup(w http.ResponseWriter, r *http.Request) {
	principalID := principalFromCtx(r.Context())
	result, err := h.c.MFA.InitiateSetup(r.Context(), principalID, "SecurityGovernance", h.c.MasterKey)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"secret":         result.Secret,
		"qrCode":         result.QRCode,
		"manualEntryKey": result.ManualEntryKey,
	})
}

type verifySetupRequest struct {
	Code string `json:"code"`
}

// verifySetup implements POST /2fa/setup/verify: confirms the code against
// the pending secret and, on success, transitions the principal to
// ENABLED with a fresh backup-code set.
func (h *handlers) verifySetup(w http.ResponseWriter, r *http.Request) {
	principalID := principalFromCtx(r.Context())
	var req verifySetupRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, r, "malformed request body")
		return
	}

	ok, err := h.c.MFA.VerifyTOTPCode(r.Context(), principalID, req.Code, h.c.MasterKey, time.Now())
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if _, verr := h.c.MFA.VerifyChallenge(r.Context(), principalID, principal.MethodTOTP, ok, time.Now()); verr != nil {
		httputil.WriteServiceError(w, r, verr)
		return
	}
	if !ok {
		httputil.WriteErrorResponse(w, r, http.StatusBadRequest, "MFA_VERIFICATION_FAILED", "code did not match", map[string]interface{}{"nextAction": "retry"})
		return
	}

	codes, err := h.c.MFA.EnableTwoFactor(r.Context(), principalID, principal.MethodTOTP)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"backupCodes": codes})
}

type verifyChallengeRequest struct {
	Code          string `json:"code"`
	ChallengeData string `json:"challengeData"`
	Method        string `json:"method"`
}

// verifyChallenge implements POST /2fa/verify. It accepts a TOTP code or
// a backup code, named by an optional "method" field (defaults to totp).
func (h *handlers) verifyChallenge(w http.ResponseWriter, r *http.Request) {
	principalID := principalFromCtx(r.Context())
	var req verifyChallengeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, r, "malformed request body")
		return
	}

	method := principal.Method(req.Method)
	if method == "" {
		method = principal.MethodTOTP
	}

	var ok bool
	var err error
	switch method {
	case principal.MethodTOTP:
		ok, err = h.c.MFA.VerifyTOTPCode(r.Context(), principalID, req.Code, h.c.MasterKey, time.Now())
	default:
		ok, err = h.c.MFA.VerifyBackupCode(r.Context(), principalID, req.Code)
	}
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	outcome, verr := h.c.MFA.VerifyChallenge(r.Context(), principalID, method, ok, time.Now())
	if verr != nil {
		httputil.WriteServiceError(w, r, verr)
		return
	}
	if !outcome.Success {
		cfg := redaction.DefaultConfig()
		cfg.BlockedFields = append(cfg.BlockedFields, "code")
		redactor := redaction.NewRedactor(cfg)
		h.c.Logger.WithFields(redactor.RedactMap(map[string]interface{}{
			"principalId": principalID,
			"method":      method,
			"code":        req.Code,
			"reasoning":   outcome.Reasoning,
		})).Warn("mfa challenge rejected")
		httputil.WriteErrorResponse(w, r, http.StatusBadRequest, "MFA_VERIFICATION_FAILED", "challenge failed", map[string]interface{}{
			"nextAction": outcome.NextAction,
			"reasoning":  outcome.Reasoning,
		})
		return
	}

	h.c.MFA.RecordChallengeSuccess(principalID, r.Header.Get("x-device-fingerprint"), httputil.ClientIP(r), "", time.Now())
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true, "reasoning": outcome.Reasoning})
}
