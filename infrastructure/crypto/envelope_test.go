package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMasterKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestDeriveEnvelopeKey_Deterministic(t *testing.T) {
	key1, err := deriveEnvelopeKey(testMasterKey(), []byte("principal-1"), "totp-secret")
	require.NoError(t, err)
	require.Len(t, key1, 32)

	key2, err := deriveEnvelopeKey(testMasterKey(), []byte("principal-1"), "totp-secret")
	require.NoError(t, err)
	assert.Equal(t, key1, key2)
}

func TestDeriveEnvelopeKey_SeparatesSubjectsAndPurposes(t *testing.T) {
	base, _ := deriveEnvelopeKey(testMasterKey(), []byte("principal-1"), "totp-secret")

	otherSubject, _ := deriveEnvelopeKey(testMasterKey(), []byte("principal-2"), "totp-secret")
	assert.NotEqual(t, base, otherSubject)

	otherPurpose, _ := deriveEnvelopeKey(testMasterKey(), []byte("principal-1"), "push-token")
	assert.NotEqual(t, base, otherPurpose)
}

func TestDeriveEnvelopeKey_RejectsShortMasterKey(t *testing.T) {
	_, err := deriveEnvelopeKey(make([]byte, 16), []byte("s"), "info")
	assert.Error(t, err)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	plaintext := []byte("JBSWY3DPEHPK3PXP")

	ciphertext, err := EncryptEnvelope(testMasterKey(), []byte("principal-1"), "totp-secret", plaintext)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(ciphertext, []byte("v1:")))

	decrypted, err := DecryptEnvelope(testMasterKey(), []byte("principal-1"), "totp-secret", ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEnvelopeEmptyInputsPassThrough(t *testing.T) {
	ciphertext, err := EncryptEnvelope(testMasterKey(), []byte("s"), "info", nil)
	require.NoError(t, err)
	assert.Nil(t, ciphertext)

	plaintext, err := DecryptEnvelope(testMasterKey(), []byte("s"), "info", nil)
	require.NoError(t, err)
	assert.Nil(t, plaintext)
}

func TestEnvelopeBindsSubjectInfoAndKey(t *testing.T) {
	ciphertext, err := EncryptEnvelope(testMasterKey(), []byte("principal-1"), "totp-secret", []byte("seed"))
	require.NoError(t, err)

	_, err = DecryptEnvelope(testMasterKey(), []byte("principal-2"), "totp-secret", ciphertext)
	assert.Error(t, err, "other subject must not decrypt")

	_, err = DecryptEnvelope(testMasterKey(), []byte("principal-1"), "push-token", ciphertext)
	assert.Error(t, err, "other purpose must not decrypt")

	wrongKey := testMasterKey()
	wrongKey[0] ^= 0xFF
	_, err = DecryptEnvelope(wrongKey, []byte("principal-1"), "totp-secret", ciphertext)
	assert.Error(t, err, "other master key must not decrypt")
}

func TestEnvelopeRejectsMalformedCiphertext(t *testing.T) {
	for name, blob := range map[string][]byte{
		"bad base64": []byte("v1:!!!not-base64!!!"),
		"too short":  []byte("v1:YWJj"),
	} {
		_, err := DecryptEnvelope(testMasterKey(), []byte("s"), "info", blob)
		assert.Error(t, err, name)
	}
}

func TestEnvelopeRejectsTampering(t *testing.T) {
	ciphertext, err := EncryptEnvelope(testMasterKey(), []byte("s"), "info", []byte("seed"))
	require.NoError(t, err)

	tampered := append([]byte{}, ciphertext...)
	tampered[len(tampered)-1] ^= 0xFF
	_, err = DecryptEnvelope(testMasterKey(), []byte("s"), "info", tampered)
	assert.Error(t, err)
}

func TestEnvelopeAcceptsLegacyUnprefixedForm(t *testing.T) {
	ciphertext, err := EncryptEnvelope(testMasterKey(), []byte("s"), "info", []byte("seed"))
	require.NoError(t, err)

	unprefixed := bytes.TrimPrefix(ciphertext, []byte("v1:"))
	decrypted, err := DecryptEnvelope(testMasterKey(), []byte("s"), "info", unprefixed)
	require.NoError(t, err)
	assert.Equal(t, []byte("seed"), decrypted)
}

func TestEnvelopeNoncesAreFresh(t *testing.T) {
	ct1, err := EncryptEnvelope(testMasterKey(), []byte("s"), "info", []byte("same"))
	require.NoError(t, err)
	ct2, err := EncryptEnvelope(testMasterKey(), []byte("s"), "info", []byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, ct1, ct2)
}
