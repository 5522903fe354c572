package mfa

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"sync"

	serr "github.com/r3e-network/security-governance-core/infrastructure/errors"
	"github.com/r3e-network/security-governance-core/internal/principal"
)

// backupCodeCount is the number of single-use codes generated at
// enablement.
const backupCodeCount = 10

// backupCodeEncoding uses Crockford's base32 alphabet, which leaves out the
// letters I, L, O and U so codes avoid the 0/O and 1/I/L confusions.
var backupCodeEncoding = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ").WithPadding(base32.NoPadding)

// GenerateBackupCodes mints backupCodeCount fresh single-use codes;
// regeneration invalidates the prior set wholesale.
func GenerateBackupCodes() ([]principal.BackupCode, []string, error) {
	codes := make([]principal.BackupCode, backupCodeCount)
	plaintext := make([]string, backupCodeCount)

	for i := 0; i < backupCodeCount; i++ {
		buf := make([]byte, 5)
		if _, err := rand.Read(buf); err != nil {
			return nil, nil, fmt.Errorf("generate backup code: %w", err)
		}
		code := backupCodeEncoding.EncodeToString(buf)
		plaintext[i] = code
		codes[i] = principal.BackupCode{Code: code, Used: false}
	}
	return codes, plaintext, nil
}

// backupCodeLocks serializes backup-code verification per principal so the
// used-flag flip is atomic even under concurrent verification attempts
// for the same code.
var backupCodeLocks sync.Map // principalID -> *sync.Mutex

func lockForPrincipal(principalID string) *sync.Mutex {
	actual, _ := backupCodeLocks.LoadOrStore(principalID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// VerifyBackupCode flips a matching unused code's Used flag exactly
// once. A second attempt with the same code returns invalid, even when
// raced concurrently against the first.
func (o *Orchestrator) VerifyBackupCode(ctx context.Context, principalID, code string) (bool, error) {
	lock := lockForPrincipal(principalID)
	lock.Lock()
	defer lock.Unlock()

	cfg, ok, err := o.store.GetTwoFactorConfig(ctx, principalID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, serr.NotFound("TwoFactorConfig", principalID)
	}

	found := false
	for i := range cfg.BackupCodes {
		if cfg.BackupCodes[i].Code == code {
			if cfg.BackupCodes[i].Used {
				return false, nil // already used: invalid
			}
			cfg.BackupCodes[i].Used = true
			cfg.BackupCodes[i].UsedAt = o.now()
			found = true
			break
		}
	}
	if !found {
		return false, nil
	}

	if err := o.store.PutTwoFactorConfig(ctx, cfg); err != nil {
		return false, err
	}
	return true, nil
}
