// Package masking redacts identifiers before they are written to audit metadata.
package masking

import "strings"

const maskToken = "****"

// MaskSecret keeps at most the last four characters of value.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 4 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskFields returns a copy of metadata with the string values under keys masked.
func MaskFields(metadata map[string]any, keys ...string) map[string]any {
	if metadata == nil {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	for _, key := range keys {
		if value, ok := out[key].(string); ok {
			out[key] = MaskSecret(value)
		}
	}
	return out
}
