package storage

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	maxFilenameBytes = 255
	forbiddenChars   = `/\:*?"<>|`
)

var reservedNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {}, "COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {}, "LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// SanitizeFilename makes name safe to use as a single path component on
// common filesystems while keeping it readable. Letters of any script,
// digits, spaces and punctuation other than path and wildcard characters
// are kept as is.
func SanitizeFilename(name string) string {
	name = norm.NFC.String(name)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r == utf8.RuneError || unicode.IsControl(r) || strings.ContainsRune(forbiddenChars, r) {
			continue
		}
		b.WriteRune(r)
	}

	cleaned := strings.TrimRight(strings.TrimSpace(b.String()), ". ")
	if cleaned == "" {
		return "_"
	}

	ext := filepath.Ext(cleaned)
	stem := strings.TrimSuffix(cleaned, ext)
	if _, reserved := reservedNames[strings.ToUpper(stem)]; reserved {
		stem += "_"
	}

	if len(stem)+len(ext) > maxFilenameBytes {
		if len(ext) >= maxFilenameBytes/2 {
			ext = ""
		}
		stem = truncateBytes(stem, maxFilenameBytes-len(ext))
	}
	return stem + ext
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := 0
	for i := range s {
		if i > n {
			break
		}
		cut = i
	}
	return s[:cut]
}
