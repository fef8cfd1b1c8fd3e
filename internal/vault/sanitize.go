package vault

import "strings"

// StripControl removes control characters that break downstream JSON/text
// serialization, keeping tab, newline and carriage return.
func StripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
