package textutil

import "strings"

// NormalizeStringMap trims keys and values and drops entries whose key
// becomes empty. Message attribute maps pass through here before publishing
// so whitespace-only attributes never reach the broker.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		result[key] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
