package resultstore

import (
	"fmt"
	"strings"
)

// FormatURL renders a store directory as a file:// URL. Backslashes are
// normalized to forward slashes, and Windows drive-letter paths take
// the file:///<letter>:/ form so the URL round-trips through parsers
// that require a normalized authority.
func FormatURL(dir string) string {
	p := strings.ReplaceAll(dir, `\`, "/")
	if isDriveLetterPath(p) {
		return "file:///" + p
	}
	if strings.HasPrefix(p, "/") {
		return "file://" + p
	}
	return "file://" + p
}

// ParseURL extracts the directory path from a file:// URL, undoing the
// normalization applied by FormatURL. Plain paths pass through.
func ParseURL(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("empty result store URL")
	}
	if !strings.HasPrefix(raw, "file://") {
		// Treat anything else as a plain path.
		return strings.ReplaceAll(raw, `\`, "/"), nil
	}

	p := strings.TrimPrefix(raw, "file://")
	p = strings.ReplaceAll(p, `\`, "/")

	// file:///C:/... keeps the drive letter after stripping the third slash.
	if strings.HasPrefix(p, "/") && isDriveLetterPath(p[1:]) {
		p = p[1:]
	}
	if p == "" {
		return "", fmt.Errorf("result store URL has no path: %s", raw)
	}
	return p, nil
}

func isDriveLetterPath(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
