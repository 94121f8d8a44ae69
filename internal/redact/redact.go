package redact

import (
	"regexp"
	"strings"
)

var sensitivePatterns = []*regexp.Regexp{
	// Bearer tokens (Authorization headers pasted into arguments or errors)
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]{20,}`),

	// JWTs, including Entra ID access and id tokens
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`),

	// OAuth and Entra ID app credentials
	regexp.MustCompile(`(?i)(client_secret|clientsecret|client-secret|refresh_token|access_token|id_token|auth_token)\s*[=:]\s*['"]?[^\s'"&]{8,}['"]?`),

	// Generic API keys
	regexp.MustCompile(`(?i)(api_key|apikey|api-key|secret_key|secretkey|secret-key)\s*[=:]\s*['"]?[A-Za-z0-9_-]{16,}['"]?`),

	// Azure storage account keys and SAS signatures
	regexp.MustCompile(`(?i)accountkey=[A-Za-z0-9+/=]{40,}`),
	regexp.MustCompile(`(?i)([?&])sig=[A-Za-z0-9%+/=]{20,}`),

	// Private keys
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY-----`),

	// Basic auth in URLs
	regexp.MustCompile(`https?://[^:/\s]+:[^@/\s]+@`),

	// Passwords and generic secrets
	regexp.MustCompile(`(?i)(password|passwd|pwd|secret)\s*[=:]\s*['"]?[^\s'"]{8,}['"]?`),
}

// sensitiveKeys are object keys whose values are replaced outright,
// compared case-insensitively with '_' and '-' removed.
var sensitiveKeys = map[string]bool{
	"authorization":   true,
	"password":        true,
	"newpassword":     true,
	"currentpassword": true,
	"clientsecret":    true,
	"secrettext":      true,
	"accesstoken":     true,
	"refreshtoken":    true,
	"idtoken":         true,
	"apikey":          true,
	"cookie":          true,
	"setcookie":       true,
}

const redactedPlaceholder = "[REDACTED]"

func Redact(input string) string {
	result := input
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, redactedPlaceholder)
	}
	return result
}

// IsSensitiveKey reports whether values stored under key are always
// redacted.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	k = strings.ReplaceAll(k, "_", "")
	k = strings.ReplaceAll(k, "-", "")
	return sensitiveKeys[k]
}

// RedactMap returns a deep copy of m with sensitive keys replaced and every
// string value scrubbed with Redact. m is not modified.
func RedactMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if IsSensitiveKey(k) {
			out[k] = redactedPlaceholder
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v interface{}) interface{} {
	switch x := v.(type) {
	case string:
		return Redact(x)
	case map[string]interface{}:
		return RedactMap(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, item := range x {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}
