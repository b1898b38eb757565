package hierarchy

import (
	"strings"
	"unicode/utf8"
)

// MaxSegmentLength is the maximum number of bytes in a path segment. Most
// filesystems limit a path component to 255 bytes, and the materializer may
// still append a suffix and extension.
const MaxSegmentLength = 200

// UntitledName replaces names that are empty after sanitization.
const UntitledName = "Untitled"

var unsafeReplacer = strings.NewReplacer(
	"/", "-",
	`\`, "-",
	":", " -",
)

// Sanitize converts a visible name into a string that is safe to use as a
// single path component.
func Sanitize(name string) string {
	name = unsafeReplacer.Replace(strings.TrimSpace(name))
	name = truncate(name, MaxSegmentLength)

	name = strings.TrimSpace(name)
	switch name {
	case "", ".", "..":
		return UntitledName
	}
	return name
}

// truncate cuts `s` to at most `n` bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
