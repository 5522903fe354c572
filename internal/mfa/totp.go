package mfa

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"time"

	gcrypto "github.com/r3e-network/security-governance-core/infrastructure/crypto"
	"github.com/r3e-network/security-governance-core/internal/principal"
)

// totpSecretBytes is the RFC 4226/6238-recommended minimum secret
// length (160 bits) for HMAC-SHA1-based TOTP.
const totpSecretBytes = 20

var totpSecretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// SetupInitiation is the response to `POST /2fa/setup/initiate`
//: a fresh TOTP secret, an otpauth:// URI suitable for
// rendering as a QR code, and the same secret formatted for manual
// entry.
type SetupInitiation struct {
	Secret        string
	QRCode        string
	ManualEntryKey string
}

// InitiateSetup generates a fresh TOTP secret, encrypts it at rest
//, and
// transitions the principal's MFA state to SETUP_PENDING pending
// confirmation via EnableTwoFactor. The plaintext secret is returned
// exactly once, for display to the principal; it is never logged or
// persisted unencrypted.
func (o *Orchestrator) InitiateSetup(ctx context.Context, principalID, issuer string, masterKey []byte) (SetupInitiation, error) {
	secretBytes := make([]byte, totpSecretBytes)
	if _, err := rand.Read(secretBytes); err != nil {
		return SetupInitiation{}, fmt.Errorf("generate totp secret: %w", err)
	}
	secret := totpSecretEncoding.EncodeToString(secretBytes)

	encrypted, err := gcrypto.EncryptEnvelope(masterKey, []byte(principalID), "totp-secret", []byte(secret))
	if err != nil {
		return SetupInitiation{}, fmt.Errorf("encrypt totp secret: %w", err)
	}

	cfg, ok, err := o.store.GetTwoFactorConfig(ctx, principalID)
	if err != nil {
		return SetupInitiation{}, err
	}
	if !ok {
		cfg = principal.TwoFactorConfig{PrincipalID: principalID}
	}
	cfg.State = principal.MFASetupPending
	cfg.TOTPSecretEncrypted = encrypted
	if err := o.store.PutTwoFactorConfig(ctx, cfg); err != nil {
		return SetupInitiation{}, err
	}

	return SetupInitiation{
		Secret:         secret,
		QRCode:         totpURI(issuer, principalID, secret),
		ManualEntryKey: formatManualEntry(secret),
	}, nil
}

// totpURI builds the otpauth:// URI an authenticator app scans as a QR
// code (RFC key-uri-format).
func totpURI(issuer, account, secret string) string {
	label := url.PathEscape(issuer) + ":" + url.PathEscape(account)
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", "6")
	q.Set("period", "30")
	return fmt.Sprintf("otpauth://totp/%s?%s", label, q.Encode())
}

// totpStep and totpDigits match the otpauth:// parameters totpURI
// advertises: SHA1, 30-second steps, 6 digits.
const (
	totpStep   = 30 * time.Second
	totpDigits = 6
)

// VerifyTOTPCode decrypts principalID's stored secret and checks code
// against the current and adjacent 30-second windows (±1 step), the
// standard tolerance for clock drift between server and authenticator.
func (o *Orchestrator) VerifyTOTPCode(ctx context.Context, principalID, code string, masterKey []byte, now time.Time) (bool, error) {
	cfg, ok, err := o.store.GetTwoFactorConfig(ctx, principalID)
	if err != nil {
		return false, err
	}
	if !ok || len(cfg.TOTPSecretEncrypted) == 0 {
		return false, nil
	}
	secretBytes, err := gcrypto.DecryptEnvelope(masterKey, []byte(principalID), "totp-secret", cfg.TOTPSecretEncrypted)
	if err != nil {
		return false, fmt.Errorf("decrypt totp secret: %w", err)
	}
	secret, err := totpSecretEncoding.DecodeString(string(secretBytes))
	if err != nil {
		return false, fmt.Errorf("decode totp secret: %w", err)
	}

	counter := now.Unix() / int64(totpStep.Seconds())
	for _, skew := range []int64{0, -1, 1} {
		if generateTOTP(secret, counter+skew) == code {
			return true, nil
		}
	}
	return false, nil
}

// generateTOTP implements RFC 6238 over the RFC 4226 HOTP construction:
// HMAC-SHA1 of the 8-byte big-endian counter, dynamically truncated to
// totpDigits decimal digits.
func generateTOTP(secret []byte, counter int64) string {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(counter))

	mac := hmac.New(sha1.New, secret)
	mac.Write(buf)
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	truncated := (uint32(sum[offset])&0x7f)<<24 |
		uint32(sum[offset+1])<<16 |
		uint32(sum[offset+2])<<8 |
		uint32(sum[offset+3])

	mod := uint32(1)
	for i := 0; i < totpDigits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", totpDigits, truncated%mod)
}

// formatManualEntry groups the secret into 4-character blocks for
// easier manual transcription.
func formatManualEntry(secret string) string {
	out := make([]byte, 0, len(secret)+len(secret)/4)
	for i, c := range secret {
		if i > 0 && i%4 == 0 {
			out = append(out, ' ')
		}
		out = append(out, byte(c))
	}
	return string(out)
}
