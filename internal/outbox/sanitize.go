package outbox

import (
	"regexp"
	"strings"
)

const maxErrorLength = 512

const truncatedSuffix = "... (truncated)"

var secretPatterns = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.-]*://[^:\s/]+):([^@\s]+)@`), `$1:[REDACTED]@`},
	{regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9\-._~+/]+=*`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`(?i)\b(api[-_ ]?key|secret|password|client[-_]?secret)\s*[:=]\s*([^\s,;]+)`), `$1=[REDACTED]`},
}

// sanitizeError redacts credentials and bounds the text stored in last_error.
func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.Join(strings.Fields(err.Error()), " ")
	for _, p := range secretPatterns {
		msg = p.pattern.ReplaceAllString(msg, p.replacement)
	}
	if len(msg) <= maxErrorLength {
		return msg
	}
	cut := maxErrorLength - len(truncatedSuffix)
	// do not split a multi-byte rune
	for cut > 0 && !isRuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut] + truncatedSuffix
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
