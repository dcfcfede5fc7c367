package openstack

import "fmt"

const (
	MaxTagKeyLength   = 255
	MaxTagValueLength = 255
)

// trimTag prepares a metadata pair for the provider. Keys and values longer than the
// provider limit are truncated. ok is false when there is nothing to write.
func trimTag(key string, value any) (trimmedKey, trimmedValue string, ok bool) {
	if key == "" || value == nil {
		return "", "", false
	}

	var s string
	switch v := value.(type) {
	case string:
		s = v
	default:
		s = fmt.Sprint(v)
	}

	return truncate(key, MaxTagKeyLength), truncate(s, MaxTagValueLength), true
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
