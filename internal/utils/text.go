package utils

import "strings"

const codeFence = "```"

// StripCodeFences removes markdown fence lines, such as those wrapping a model's JSON reply.
func StripCodeFences(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), codeFence) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// TruncateRunes returns at most limit characters of text without splitting a multi-byte character.
func TruncateRunes(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	runeCount := 0
	for byteIndex := range text {
		if runeCount == limit {
			return text[:byteIndex]
		}
		runeCount++
	}
	return text
}
