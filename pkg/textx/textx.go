// Package textx provides small text utilities shared by the analyzer and
// aggregator when they render defect descriptions and markdown verdicts.
package textx

import (
	"strings"
)

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Truncate shortens s to at most maxLen bytes, appending "..." when cut.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// TrimSentence shortens s to at most maxLen bytes, preferring to cut at the
// last sentence-ending period before the limit so defect descriptions don't
// end mid-word in the rendered markdown.
func TrimSentence(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	if idx := strings.LastIndex(s[:maxLen], "."); idx > 20 {
		return s[:idx+1]
	}
	if maxLen > len(s) {
		maxLen = len(s)
	}
	return s[:maxLen]
}

// LimitSentences splits s into naive sentences on '.', '!', '?' and keeps at
// most maxCount of them, returning s unchanged if it has fewer than minCount.
func LimitSentences(s string, minCount, maxCount int) string {
	s = strings.TrimSpace(s)
	if s == "" || maxCount <= 0 {
		return s
	}

	var parts []string
	var curr strings.Builder
	for i := 0; i < len(s); i++ {
		curr.WriteByte(s[i])
		if s[i] == '.' || s[i] == '!' || s[i] == '?' {
			if seg := strings.TrimSpace(curr.String()); seg != "" {
				parts = append(parts, seg)
			}
			curr.Reset()
			for i+1 < len(s) && (s[i+1] == ' ' || s[i+1] == '\n' || s[i+1] == '\t') {
				i++
			}
		}
	}
	if tail := strings.TrimSpace(curr.String()); tail != "" {
		parts = append(parts, tail)
	}

	if len(parts) == 0 || len(parts) < minCount {
		return s
	}
	if len(parts) > maxCount {
		parts = parts[:maxCount]
	}
	return strings.Join(parts, " ")
}
