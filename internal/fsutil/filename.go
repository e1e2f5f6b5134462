package fsutil

import "strings"

const maxFilenameLen = 128

// SanitizeFilename makes a file name from an arbitrary identifier such as a
// scene name. Runs of characters other than ASCII letters, digits, dot,
// underscore and dash become one underscore. Leading and trailing dots and
// underscores are trimmed and the result is capped at 128 bytes. An empty
// result is "unknown".
func SanitizeFilename(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
			underscore = false
		case !underscore:
			b.WriteByte('_')
			underscore = true
		}
	}
	if out := strings.Trim(b.String(), "._"); out != "" {
		return out
	}
	return "unknown"
}
