package sqlmock

import "strings"

// SplitStatements splits a script on semicolons outside quotes and comments.
// Blank statements are dropped.
func SplitStatements(script string) []string {
	var (
		out     []string
		current strings.Builder
		quote   rune
		comment bool
	)
	runes := []rune(script)
	flush := func() {
		if statement := strings.TrimSpace(current.String()); statement != "" {
			out = append(out, statement)
		}
		current.Reset()
	}
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case comment:
			if r == '\n' {
				comment = false
				current.WriteRune(r)
			}
			continue
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			comment = true
			continue
		case r == ';':
			flush()
			continue
		}
		current.WriteRune(r)
	}
	flush()
	return out
}
