package log

import (
	"strings"
)

// sensitiveKeywords marks log field keys whose values must be masked.
// The pool's credential triple (session_token, session_index, config_id)
// is included alongside the usual secret-bearing names.
var sensitiveKeywords = []string{
	"password", "passwd", "pwd",
	"api_key", "apikey", "api-key",
	"token", "access_token", "session_token",
	"session_index", "config_id", "cookie",
	"secret", "auth", "authorization",
	"credential", "private_key", "privatekey",
}

// SanitizeField checks if the key names a sensitive field and masks the value.
// Email-like fields keep only a short prefix and the domain.
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}

	lowerKey := strings.ToLower(key)

	// Email fields get their own masking before the generic secret check,
	// since "mail_password" must be treated as a secret, not an address.
	if !strings.Contains(lowerKey, "password") &&
		(strings.Contains(lowerKey, "email") || strings.Contains(lowerKey, "mail")) {
		return sanitizeEmail(value)
	}

	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lowerKey, keyword) {
			return sanitizeSecret(value)
		}
	}

	return value
}

// sanitizeSecret masks secret values showing only first 4 and last 4 characters.
func sanitizeSecret(value string) string {
	if len(value) <= 8 {
		if len(value) <= 2 {
			return strings.Repeat("*", len(value))
		}
		return string(value[0]) + strings.Repeat("*", len(value)-2) + string(value[len(value)-1])
	}

	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// sanitizeEmail masks an address showing first 3 characters + @domain.
func sanitizeEmail(value string) string {
	parts := strings.Split(value, "@")
	if len(parts) != 2 {
		return strings.Repeat("*", len(value))
	}

	localPart := parts[0]
	domain := parts[1]

	if len(localPart) <= 3 {
		if len(localPart) == 0 {
			return "@" + domain
		}
		return string(localPart[0]) + strings.Repeat("*", len(localPart)-1) + "@" + domain
	}

	return localPart[:3] + "***@" + domain
}
