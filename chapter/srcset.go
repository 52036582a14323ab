package chapter

import "strings"

// candidate is one entry of responsive image candidate list.
type candidate struct {
	url        string
	descriptor string
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

// parseSrcset splits srcset attribute value into candidates. URL runs to the
// first whitespace (trailing commas terminate candidate), descriptor runs to
// the first comma outside parentheses.
func parseSrcset(s string) []candidate {
	var out []candidate
	i := 0
	for i < len(s) {
		for i < len(s) && (isSpace(s[i]) || s[i] == ',') {
			i++
		}
		if i >= len(s) {
			break
		}
		start := i
		for i < len(s) && !isSpace(s[i]) {
			i++
		}
		u := s[start:i]
		if trimmed := strings.TrimRight(u, ","); len(trimmed) != len(u) {
			if trimmed != "" {
				out = append(out, candidate{url: trimmed})
			}
			continue
		}

		start, depth := i, 0
	descriptor:
		for ; i < len(s); i++ {
			switch s[i] {
			case '(':
				depth++
			case ')':
				if depth > 0 {
					depth--
				}
			case ',':
				if depth == 0 {
					break descriptor
				}
			}
		}
		out = append(out, candidate{url: u, descriptor: strings.Join(strings.Fields(s[start:i]), " ")})
		if i < len(s) {
			i++ // comma
		}
	}
	return out
}

func formatSrcset(cs []candidate) string {
	var sb strings.Builder
	for i, c := range cs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(c.url)
		if c.descriptor != "" {
			sb.WriteByte(' ')
			sb.WriteString(c.descriptor)
		}
	}
	return sb.String()
}
