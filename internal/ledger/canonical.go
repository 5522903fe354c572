package ledger

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// canonicalPayload renders payload as deterministic JSON: keys sorted
// lexicographically at every nesting level, numbers without trailing
// zeros. Used identically by Append (to hash) and AuditChain (to
// re-hash).
func canonicalPayload(payload map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonicalValue(&buf, payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonicalValue(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		return writeCanonicalObject(buf, val)
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case float64:
		buf.WriteString(canonicalNumber(val))
		return nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return err
		}
		buf.WriteString(canonicalNumber(f))
		return nil
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(encoded)
		return nil
	}
}

func writeCanonicalObject(buf *bytes.Buffer, obj map[string]interface{}) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		if err := writeCanonicalValue(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// canonicalNumber strips trailing zeros from a float64's decimal form
// while staying round-trippable, e.g. 10.50 -> "10.5", 10.0 -> "10".
func canonicalNumber(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	return s
}

// computeHash implements currentHash = H(previousHash || canonicalJSON(payload)
// || sequence || timestamp || entityId || eventType).
func computeHash(previousHash string, canonicalJSONPayload []byte, sequence int64, timestampRFC3339 string, entityID string, eventType EventType) string {
	h := sha256.New()
	h.Write([]byte(previousHash))
	h.Write(canonicalJSONPayload)
	h.Write([]byte(fmt.Sprintf("%d", sequence)))
	h.Write([]byte(timestampRFC3339))
	h.Write([]byte(entityID))
	h.Write([]byte(eventType))
	return hex.EncodeToString(h.Sum(nil))
}

// sign computes signature = HMAC(k, currentHash) with the operator-held key.
func sign(key []byte, currentHash string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(currentHash))
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature reports whether signature is a valid HMAC of currentHash under key.
func verifySignature(key []byte, currentHash, signature string) bool {
	expected, err := hex.DecodeString(sign(key, currentHash))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}
