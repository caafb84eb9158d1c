package logger

import (
	"log/slog"
	"strings"
)

// Values with these prefixes are document access tokens.
var sensitiveValuePrefixes = []string{
	"dst1.",
}

// Attribute keys containing one of these are redacted.
var sensitiveKeyPatterns = []string{
	"password",
	"secret",
	"token",
	"credential",
	"authorization",
	"admin_key",
	"api_key",
	"dsn",
}

// redactedValue is the placeholder for redacted sensitive data.
const redactedValue = "***REDACTED***"

// redactSensitive masks an attribute that looks like a credential.
func redactSensitive(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		v := a.Value.String()
		for _, prefix := range sensitiveValuePrefixes {
			if strings.HasPrefix(v, prefix) {
				return slog.String(a.Key, maskValue(v, prefix))
			}
		}
		if v != "" && IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
	}
	return a
}

// maskValue keeps the prefix and the first and last three characters.
func maskValue(value, prefix string) string {
	body := value[len(prefix):]
	if len(body) <= 6 {
		return prefix + "***"
	}
	return prefix + body[:3] + "..." + body[len(body)-3:]
}

// IsSensitiveKey checks if a key name suggests sensitive content.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}
