package upload

import (
	"strings"
	"time"
)

// timestampLayout sorts lexicographically in submission order.
const timestampLayout = "20060102150405"

// Sanitize keeps ASCII letters, digits, dots, dashes and underscores, drops
// everything else including spaces, and lower-cases the result.
// Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	return b.String()
}

// IsSanitized reports whether name is a fixed point of Sanitize and so safe to
// join onto the storage path.
func IsSanitized(name string) bool {
	return name != "" && name != "." && name != ".." && Sanitize(name) == name
}

// withTimestampPrefix prepends a sortable UTC timestamp. The prefix only uses
// characters Sanitize keeps.
func withTimestampPrefix(name string, now time.Time) string {
	return now.UTC().Format(timestampLayout) + "_" + name
}
