package extract

import (
	"path/filepath"
	"strings"
)

// MimeForPath maps a file name to the mime type the providers receive.
// Detection happens once here; provider adapters never re-detect.
func MimeForPath(path string) (string, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg", true
	case ".png":
		return "image/png", true
	case ".pdf":
		return "application/pdf", true
	}
	return "", false
}
