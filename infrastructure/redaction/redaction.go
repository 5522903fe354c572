// Package redaction strips secrets out of values bound for logs. The MFA
// handlers run every logged payload through a Redactor so TOTP secrets,
// backup codes, and signing material can never leak through log pipelines.
package redaction

import (
	"regexp"
	"strings"
)

// secretValuePatterns match key=value shapes whose value must be masked
// even when the whole payload is a flat string.
var secretValuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(secret|token|auth|otpauth)["']?\s*[:=]\s*["']?([^"'\s,}]+)["']?`),
	regexp.MustCompile(`(?i)(password|passwd)["']?\s*[:=]\s*["']?([^"'\s,}]+)["']?`),
	regexp.MustCompile(`(?i)(api[_-]?key|signing[_-]?key|private[_-]?key)["']?\s*[:=]\s*["']?([^"'\s,}]+)["']?`),
	regexp.MustCompile(`(?i)(backup[_-]?code)["']?\s*[:=]\s*["']?([^"'\s,}]+)["']?`),
	regexp.MustCompile(`(?i)(Bearer)\s+[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
}

// SecretConfig controls what the Redactor masks.
type SecretConfig struct {
	Enabled       bool
	RedactionText string
	// BlockedFields are masked wholesale when they appear as map keys,
	// substring-matched case-insensitively with '_' and '-' ignored, so
	// "backup_code" also masks "backupCode".
	BlockedFields []string
}

func DefaultConfig() SecretConfig {
	return SecretConfig{
		Enabled:       true,
		RedactionText: "***REDACTED***",
		BlockedFields: []string{
			"password",
			"secret",
			"token",
			"signing_key",
			"backup_code",
			"credential",
			"totp",
		},
	}
}

type Redactor struct {
	config SecretConfig
}

func NewRedactor(cfg SecretConfig) *Redactor {
	if cfg.RedactionText == "" {
		cfg.RedactionText = "***REDACTED***"
	}
	return &Redactor{config: cfg}
}

// RedactString masks secret-shaped substrings in s.
func (r *Redactor) RedactString(s string) string {
	if !r.config.Enabled {
		return s
	}
	result := s
	for _, pattern := range secretValuePatterns {
		result = pattern.ReplaceAllString(result, "${1}: "+r.config.RedactionText)
	}
	return result
}

// RedactMap returns a copy of m with blocked fields masked and nested
// maps/slices/strings recursively redacted. The input is never mutated:
// callers log the copy and keep working with the original.
func (r *Redactor) RedactMap(m map[string]interface{}) map[string]interface{} {
	if !r.config.Enabled {
		return m
	}

	result := make(map[string]interface{}, len(m))
	for k, v := range m {
		switch {
		case r.isSecretField(k):
			result[k] = r.config.RedactionText
		case v == nil:
			result[k] = v
		default:
			switch val := v.(type) {
			case string:
				result[k] = r.RedactString(val)
			case map[string]interface{}:
				result[k] = r.RedactMap(val)
			case []interface{}:
				result[k] = r.redactSlice(val)
			default:
				result[k] = v
			}
		}
	}
	return result
}

func (r *Redactor) redactSlice(s []interface{}) []interface{} {
	result := make([]interface{}, len(s))
	for i, v := range s {
		switch val := v.(type) {
		case string:
			result[i] = r.RedactString(val)
		case map[string]interface{}:
			result[i] = r.RedactMap(val)
		default:
			result[i] = val
		}
	}
	return result
}

func (r *Redactor) isSecretField(fieldName string) bool {
	sep := strings.NewReplacer("_", "", "-", "")
	lowerName := sep.Replace(strings.ToLower(fieldName))
	for _, blocked := range r.config.BlockedFields {
		if strings.Contains(lowerName, sep.Replace(strings.ToLower(blocked))) {
			return true
		}
	}
	return false
}
