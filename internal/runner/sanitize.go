package runner

import "unicode"

// FilterPrintable strips control bytes from a raw console line, keeping
// printable runes plus tab. Container output routinely carries ANSI
// sequences and carriage returns that would corrupt a persisted transcript.
func FilterPrintable(input []byte) string {
	out := make([]rune, 0, len(input))
	for _, r := range string(input) {
		if unicode.IsPrint(r) || r == '\t' {
			out = append(out, r)
		}
	}
	return string(out)
}
