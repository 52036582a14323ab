package chapter

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

var (
	xmlEncodingRe = regexp.MustCompile(`^\s*<\?xml[^>]*\sencoding\s*=\s*["']([A-Za-z0-9._-]+)["']`)
	// XHTML allows any element to be self-closed, HTML parser ignores the
	// slash and would put the rest of the document inside non void ones.
	selfClosedRe = regexp.MustCompile(`<([A-Za-z][A-Za-z0-9:_.-]*)(\s[^<>]*?)?\s*/>`)
)

// elements without content in HTML, self-closed form is already correct
var voidElements = map[string]struct{}{
	"area": {}, "base": {}, "basefont": {}, "bgsound": {}, "br": {}, "col": {},
	"embed": {}, "frame": {}, "hr": {}, "image": {}, "img": {}, "input": {},
	"keygen": {}, "link": {}, "meta": {}, "param": {}, "source": {},
	"track": {}, "wbr": {},
}

// expandSelfClosed rewrites <name .../> of non void elements into
// <name ...></name>.
func expandSelfClosed(data []byte) []byte {
	return selfClosedRe.ReplaceAllFunc(data, func(m []byte) []byte {
		sub := selfClosedRe.FindSubmatch(m)
		name := sub[1]
		if _, void := voidElements[string(bytes.ToLower(name))]; void {
			return m
		}
		out := make([]byte, 0, len(m)+len(name)+3)
		out = append(out, '<')
		out = append(out, name...)
		out = append(out, sub[2]...)
		out = append(out, '>', '<', '/')
		out = append(out, name...)
		return append(out, '>')
	})
}

// decode converts markup to UTF-8 using XML declaration, BOM or meta charset.
func decode(markup []byte) ([]byte, error) {
	var r io.Reader
	if m := xmlEncodingRe.FindSubmatch(markup); m != nil {
		label := string(m[1])
		if utf8.Valid(markup) && (bytes.EqualFold(m[1], []byte("utf-8")) || bytes.EqualFold(m[1], []byte("utf8"))) {
			return markup, nil
		}
		var err error
		if r, err = charset.NewReaderLabel(label, bytes.NewReader(markup)); err != nil {
			return nil, fmt.Errorf("unsupported encoding %q: %w", label, err)
		}
	} else {
		if utf8.Valid(markup) {
			return bytes.TrimPrefix(markup, []byte("\xef\xbb\xbf")), nil
		}
		var err error
		if r, err = charset.NewReader(bytes.NewReader(markup), "text/html"); err != nil {
			return nil, err
		}
	}
	return io.ReadAll(r)
}

// parse builds mutable tree of full document.
func parse(markup []byte) (*html.Node, error) {
	data, err := decode(markup)
	if err != nil {
		return nil, err
	}
	data = expandSelfClosed(data)
	return html.Parse(bytes.NewReader(data))
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

// render serializes extra nodes followed by body content.
func render(root *html.Node, extra []*html.Node) (string, error) {
	var buf bytes.Buffer
	for _, n := range extra {
		if err := html.Render(&buf, n); err != nil {
			return "", err
		}
	}
	body := findElement(root, atom.Body)
	if body == nil {
		return buf.String(), nil
	}
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
