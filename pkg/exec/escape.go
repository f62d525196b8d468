package exec

import "strings"

var escaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	`$`, `\$`,
	"`", "\\`",
)

// Escape prefixes every double quote, dollar sign, backtick and backslash
// with a backslash so the result can sit inside a double-quoted shell word.
// Nothing else is touched: ';', '|', '&' and single quotes pass through, so
// this does not stop command chaining on the remote side.
func Escape(command string) string {
	return escaper.Replace(command)
}

// Quote wraps the escaped command in double quotes.
func Quote(command string) string {
	return `"` + Escape(command) + `"`
}
