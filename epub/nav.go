package epub

import (
	"bytes"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// parseNavXHTML parses EPUB 3 navigation document and returns entries of
// <nav epub:type="toc">.
func parseNavXHTML(content []byte) ([]TOCEntry, bool) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, false
	}

	nav := findNode(doc, func(n *html.Node) bool {
		if n.DataAtom != atom.Nav {
			return false
		}
		for _, a := range n.Attr {
			if (a.Key == "epub:type" || a.Key == "type" || a.Key == "role") && strings.Contains(a.Val, "toc") {
				return true
			}
		}
		return false
	})
	if nav == nil {
		return nil, false
	}
	ol := findNode(nav, func(n *html.Node) bool { return n.DataAtom == atom.Ol })
	if ol == nil {
		return nil, true
	}
	return parseOLEntries(ol), true
}

func findNode(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, match); found != nil {
			return found
		}
	}
	return nil
}

func parseOLEntries(ol *html.Node) []TOCEntry {
	var entries []TOCEntry
	for c := ol.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Li {
			if entry := parseLIEntry(c); entry.Title != "" || entry.Href != "" || len(entry.Children) > 0 {
				entries = append(entries, entry)
			}
		}
	}
	return entries
}

func parseLIEntry(li *html.Node) TOCEntry {
	var entry TOCEntry
	for c := li.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.A:
			entry.Title = nodeText(c)
			for _, a := range c.Attr {
				if a.Key == "href" {
					entry.Href = strings.TrimSpace(a.Val)
				}
			}
		case atom.Span:
			if entry.Title == "" {
				entry.Title = nodeText(c)
			}
		case atom.Ol:
			entry.Children = parseOLEntries(c)
		}
	}
	return entry
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// parseNCX parses EPUB 2 NCX navMap.
func parseNCX(content []byte) ([]TOCEntry, bool) {
	doc, err := readXML(content)
	if err != nil {
		return nil, false
	}
	navMap := doc.FindElement("//navMap")
	if navMap == nil {
		return nil, false
	}
	return convertNavPoints(navMap), true
}

func convertNavPoints(parent *etree.Element) []TOCEntry {
	points := parent.SelectElements("navPoint")
	entries := make([]TOCEntry, 0, len(points))
	for _, p := range points {
		entry := TOCEntry{Children: convertNavPoints(p)}
		if label := p.FindElement("navLabel/text"); label != nil {
			entry.Title = strings.Join(strings.Fields(label.Text()), " ")
		}
		if content := p.SelectElement("content"); content != nil {
			entry.Href = strings.TrimSpace(content.SelectAttrValue("src", ""))
		}
		entries = append(entries, entry)
	}
	return entries
}
