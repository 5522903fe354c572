package mfa

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/security-governance-core/internal/principal"
)

func TestInitiateSetup_GeneratesSecretAndPendingState(t *testing.T) {
	store := principal.NewMemoryStore()
	o := New(store)
	masterKey := make([]byte, 32)

	result, err := o.InitiateSetup(context.Background(), "p-1", "SecurityGovernance", masterKey)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Secret)
	assert.Contains(t, result.QRCode, "otpauth://totp/")
	assert.Contains(t, result.QRCode, "SecurityGovernance")
	assert.NotEmpty(t, result.ManualEntryKey)

	cfg, ok, err := store.GetTwoFactorConfig(context.Background(), "p-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, principal.MFASetupPending, cfg.State)
	assert.NotEmpty(t, cfg.TOTPSecretEncrypted)
	// The encrypted-at-rest form must never equal the plaintext secret.
	assert.NotContains(t, string(cfg.TOTPSecretEncrypted), result.Secret)
}

func TestFormatManualEntry_GroupsInFours(t *testing.T) {
	got := formatManualEntry("ABCDEFGH")
	assert.Equal(t, "ABCD EFGH", got)
	assert.True(t, strings.Contains(got, " "))
}
