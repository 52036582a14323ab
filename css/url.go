// Package css finds and rewrites resource references (url() values and
// @import strings) in stylesheets and inline style attributes. Text is
// processed token by token, everything which is not a reference is copied
// verbatim.
package css

import (
	"bytes"
	"strings"

	parse "github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

// Ref is a resource reference found in CSS text. Start and End are byte
// offsets of the whole token (url(...) or quoted @import string).
type Ref struct {
	URL   string
	Start int
	End   int
}

type token struct {
	tt   css.TokenType
	data []byte
}

func tokenize(data []byte) []token {
	l := css.NewLexer(parse.NewInput(bytes.NewReader(data)))
	var tokens []token
	for {
		tt, text := l.Next()
		if tt == css.ErrorToken {
			return tokens
		}
		tokens = append(tokens, token{tt: tt, data: bytes.Clone(text)})
	}
}

// scan calls fn for every reference found in tokens. For url( function form
// (escaped or spelled with whitespace) the string argument is reported and
// span covers tokens from function name to closing parenthesis.
func scan(tokens []token, fn func(ref string, first, last int)) {
	afterImport := false
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		switch t.tt {
		case css.URLToken:
			fn(URLValue(t.data), i, i)
		case css.FunctionToken:
			if !strings.EqualFold(string(t.data), "url(") {
				break
			}
			j := skipWhitespace(tokens, i+1)
			if j >= len(tokens) || tokens[j].tt != css.StringToken {
				break
			}
			k := skipWhitespace(tokens, j+1)
			if k >= len(tokens) || tokens[k].tt != css.RightParenthesisToken {
				break
			}
			fn(unquote(string(tokens[j].data)), i, k)
			i = k
		case css.AtKeywordToken:
			afterImport = strings.EqualFold(string(t.data), "@import")
			continue
		case css.StringToken:
			if afterImport {
				fn(unquote(string(t.data)), i, i)
			}
		case css.WhitespaceToken, css.CommentToken:
			continue
		}
		afterImport = false
	}
}

func skipWhitespace(tokens []token, i int) int {
	for i < len(tokens) && (tokens[i].tt == css.WhitespaceToken || tokens[i].tt == css.CommentToken) {
		i++
	}
	return i
}

// Refs returns all references in data in document order. Comments are never
// looked into.
func Refs(data []byte) []Ref {
	tokens := tokenize(data)
	offsets := make([]int, len(tokens)+1)
	for i, t := range tokens {
		offsets[i+1] = offsets[i] + len(t.data)
	}

	var refs []Ref
	scan(tokens, func(ref string, first, last int) {
		if ref != "" {
			refs = append(refs, Ref{URL: ref, Start: offsets[first], End: offsets[last+1]})
		}
	})
	return refs
}

// URLs returns reference values only.
func URLs(data []byte) []string {
	refs := Refs(data)
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.URL)
	}
	return out
}

// Rewrite calls fn for every reference in data, when fn returns true the
// reference is replaced with returned value, otherwise original text is
// kept. Result is always written as url("...") for url values and quoted
// string for @import.
func Rewrite(data []byte, fn func(ref string) (string, bool)) []byte {
	tokens := tokenize(data)

	replace := make(map[int]string)
	skip := make(map[int]int)
	scan(tokens, func(ref string, first, last int) {
		if ref == "" {
			return
		}
		repl, ok := fn(ref)
		if !ok {
			return
		}
		if tokens[first].tt == css.StringToken {
			replace[first] = `"` + escapeDoubleQuoted(repl) + `"`
		} else {
			replace[first] = `url("` + escapeDoubleQuoted(repl) + `")`
		}
		skip[first] = last
	})
	if len(replace) == 0 {
		return data
	}

	var out bytes.Buffer
	out.Grow(len(data))
	for i := 0; i < len(tokens); i++ {
		if repl, ok := replace[i]; ok {
			out.WriteString(repl)
			i = skip[i]
			continue
		}
		out.Write(tokens[i].data)
	}
	return out.Bytes()
}

// RewriteString is Rewrite for strings.
func RewriteString(s string, fn func(ref string) (string, bool)) string {
	return string(Rewrite([]byte(s), fn))
}

// URLValue extracts reference from url(...) token text.
func URLValue(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) >= 4 && strings.EqualFold(s[:4], "url(") {
		s = s[4:]
	}
	s = strings.TrimSuffix(s, ")")
	return unescape(unquote(s))
}

// unquote removes surrounding quotes from a string.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return s
	}
	if (s[0] == '"' && s[len(s)-1] == '"') ||
		(s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}

// unescape drops CSS escapes of quotes, parentheses and backslashes.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && strings.IndexByte(`"'()\ `, s[i+1]) >= 0 {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// escapeDoubleQuoted escapes a string for use inside CSS double quotes.
func escapeDoubleQuoted(s string) string {
	if !strings.ContainsAny(s, "\"\\\n") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\a `)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
