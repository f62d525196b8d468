package logging

import "strings"

// MaxLoggedCommand caps how much caller text ends up in a log line.
const MaxLoggedCommand = 256

// Sanitize flattens newlines, tabs and other control characters so caller
// supplied text cannot forge extra log entries, and caps its length.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	n := 0
	for _, r := range s {
		if n == MaxLoggedCommand {
			b.WriteString("...")
			break
		}
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r < 32 || r == 127:
			continue
		default:
			b.WriteRune(r)
		}
		n++
	}
	return b.String()
}
