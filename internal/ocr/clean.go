package ocr

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const minLineLen = 3

// Platform UI chrome that OCR picks up from screenshots and frames.
var uiNoise = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^@[\w.]+$`),
	regexp.MustCompile(`(?i)\b\d+(?:[.,]\d+)?[kmb]?\s*(?:likes?|views?|comments?|plays?)\b`),
	regexp.MustCompile(`(?i)^(?:share|save|like|comment|follow|following|send|reply|more)s?$`),
	regexp.MustCompile(`(?i)\b\d+\s*[smhdw]\s*ago\b`),
	regexp.MustCompile(`(?i)instagram\.com`),
	regexp.MustCompile(`(?i)^(?:story|stories|reels?|posts?|igtv)$`),
	regexp.MustCompile(`(?i)^(?:liked by|view all \d+)`),
}

// Clean splits raw OCR output into lines, NFC-normalizes them and drops
// short lines and UI noise.
func Clean(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(norm.NFC.String(line))
		line = strings.Join(strings.Fields(line), " ")
		if len([]rune(line)) < minLineLen || isNoise(line) {
			continue
		}
		out = append(out, line)
	}
	return out
}

func isNoise(line string) bool {
	for _, re := range uiNoise {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// Merge concatenates line groups in order, keeping the first occurrence of
// each line. Comparison ignores case.
func Merge(groups ...[]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, g := range groups {
		for _, line := range g {
			k := strings.ToLower(line)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, line)
		}
	}
	return out
}
