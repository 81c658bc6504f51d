package api

import (
	"strings"
	"unicode/utf8"

	"flexiID/internal/storage"
)

var readablePrefixes = []string{storage.PhotoPrefix, storage.TemplatePrefix, storage.CardPrefix}

// isReadableObjectKey 只允许访问已知前缀下的图片对象。
func isReadableObjectKey(key string) bool {
	if key == "" || len(key) > 512 || !utf8.ValidString(key) {
		return false
	}
	if strings.Contains(key, "..") || strings.Contains(key, "\\") || strings.Contains(key, "//") {
		return false
	}
	prefixed := false
	for _, p := range readablePrefixes {
		if strings.HasPrefix(key, p) {
			prefixed = true
			break
		}
	}
	if !prefixed {
		return false
	}
	lower := strings.ToLower(key)
	return strings.HasSuffix(lower, ".png") ||
		strings.HasSuffix(lower, ".jpg") ||
		strings.HasSuffix(lower, ".jpeg") ||
		strings.HasSuffix(lower, ".webp")
}

// isPhotoObjectKey 只接受 photos/ 下的图片，员工记录只能引用这类对象。
func isPhotoObjectKey(key string) bool {
	return strings.HasPrefix(key, storage.PhotoPrefix) && isReadableObjectKey(key)
}
