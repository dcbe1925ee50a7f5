package logging

import "go.uber.org/zap"

// RedactedValue replaces secrets in log output.
const RedactedValue = "[redacted]"

// Redacted returns a field that records the presence of a secret without its value.
func Redacted(key string) zap.Field {
	return zap.String(key, RedactedValue)
}
