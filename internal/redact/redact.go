// Package redact scrubs secrets and bulky payloads from text that ends up in
// logs, error messages or exports.
package redact

import (
	"fmt"
	"regexp"
)

var (
	// .env style VAR=value lines; the name is kept
	envRegex    = regexp.MustCompile(`(?m)^([A-Z_]+)=\S+$`)
	bearerRegex = regexp.MustCompile(`(?i)(bearer\s+)[a-zA-Z0-9._\-]+`)
	jwtRegex    = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`)
	skRegex     = regexp.MustCompile(`sk-[a-zA-Z0-9\-]{20,}`)
	aizaRegex   = regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`)
	ghpRegex    = regexp.MustCompile(`ghp_[a-zA-Z0-9]{36}`)
	// long base64 runs, e.g. inline screenshots
	blobRegex = regexp.MustCompile(`[A-Za-z0-9+/]{512,}={0,2}`)
)

// Clean scrubs credentials from text.
func Clean(input string) string {
	input = envRegex.ReplaceAllString(input, "${1}=[REDACTED]")
	input = bearerRegex.ReplaceAllString(input, "${1}[REDACTED]")
	input = skRegex.ReplaceAllString(input, "[REDACTED_KEY]")
	input = jwtRegex.ReplaceAllString(input, "[REDACTED_JWT]")
	input = aizaRegex.ReplaceAllString(input, "[REDACTED_KEY]")
	input = ghpRegex.ReplaceAllString(input, "[REDACTED_KEY]")
	return input
}

// Compact is Clean plus replacing base64 blobs with a size marker and
// capping the result at max bytes (0 means no cap).
func Compact(input string, max int) string {
	input = Clean(input)
	input = blobRegex.ReplaceAllStringFunc(input, func(s string) string {
		return fmt.Sprintf("[BLOB %d bytes]", len(s))
	})
	if max > 0 && len(input) > max {
		input = input[:max] + "..."
	}
	return input
}
