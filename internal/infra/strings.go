// Package infra holds small, dependency-free string helpers shared by
// packages that need to bound a generated string's length without
// splitting a multi-byte rune.
package infra

// TruncateRunes truncates a string to a maximum number of runes (Unicode
// code points). This is safer than slicing by byte count, which can land
// inside a multi-byte rune and produce invalid UTF-8.
func TruncateRunes(input string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}

	runes := []rune(input)
	if len(runes) <= maxRunes {
		return input
	}

	return string(runes[:maxRunes])
}
