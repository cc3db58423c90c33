package command

import (
	"strconv"
	"strings"
)

// ParseArgs splits args on spaces and tabs. Quotes group words and are
// removed; an unterminated quote runs to the end of the input.
func ParseArgs(args string) []string {
	var (
		result  []string
		current strings.Builder
		quote   rune
	)
	for _, ch := range args {
		if quote != 0 {
			if ch == quote {
				quote = 0
			} else {
				current.WriteRune(ch)
			}
			continue
		}
		switch ch {
		case '"', '\'':
			quote = ch
		case ' ', '\t':
			if current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(ch)
		}
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// Substitute replaces $1..$N with the positional arguments and $ARGUMENTS
// and $@ with all of them. Positional references are replaced first.
func Substitute(template string, args []string) string {
	var b strings.Builder
	b.Grow(len(template))

	for i := 0; i < len(template); i++ {
		if template[i] != '$' {
			b.WriteByte(template[i])
			continue
		}
		j := i + 1
		for j < len(template) && template[j] >= '0' && template[j] <= '9' {
			j++
		}
		if j == i+1 {
			b.WriteByte('$')
			continue
		}
		if n, err := strconv.Atoi(template[i+1 : j]); err == nil && n > 0 && n <= len(args) {
			b.WriteString(args[n-1])
		}
		i = j - 1
	}

	joined := strings.Join(args, " ")
	out := strings.ReplaceAll(b.String(), "$ARGUMENTS", joined)
	return strings.ReplaceAll(out, "$@", joined)
}
