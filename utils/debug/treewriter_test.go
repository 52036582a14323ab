package debug

import (
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"ketav/cache"
	"ketav/epub"
	"ketav/href"
	"ketav/spine"
)

func TestTreeWriter(t *testing.T) {
	tw := NewTreeWriter()
	if tw.String() != "" {
		t.Fatalf("new writer is not empty: %q", tw.String())
	}
	tw.Line(0, "root %d", 1)
	tw.Line(2, "leaf")
	tw.TextBlock(1, "empty", "")
	tw.TextBlock(1, "text", "a \"b\"\nc")

	want := "root 1\n    leaf\n  empty: \n  text: \"a \\\"b\\\"\\nc\"\n"
	if got := tw.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

type pathResolver map[string]bool

func (p pathResolver) ResolvePath(raw, current string) (string, bool) {
	if p[raw] {
		return raw, true
	}
	return "", false
}

func (p pathResolver) ContentRoot() string { return "" }

func TestTOC(t *testing.T) {
	docs := []string{"a.xhtml", "b.xhtml", "c.xhtml"}
	toc := []epub.TOCEntry{
		{Title: "Part", Href: "a.xhtml", Children: []epub.TOCEntry{
			{Title: "Second", Href: "c.xhtml"},
		}},
		{Title: "Lost", Href: "missing.xhtml"},
		{Title: "Heading"},
	}
	log := zaptest.NewLogger(t)
	res := href.NewResolver(pathResolver{"a.xhtml": true, "b.xhtml": true, "c.xhtml": true}, log)
	ranges := spine.Build(toc, "nav.xhtml", docs, res, log)

	got := TOC(toc, ranges, docs)
	for _, want := range []string{
		"toc: 3 entries, spine: 3 documents\n",
		"  title: \"Part\"\n    href a.xhtml [0,2)\n      0: a.xhtml\n      1: b.xhtml\n",
		"    title: \"Second\"\n      href c.xhtml [2,3)\n        2: c.xhtml\n",
		"    href missing.xhtml (unresolved)\n",
		"  title: \"Heading\"\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("TOC() missing %q in\n%s", want, got)
		}
	}
}

func TestCache(t *testing.T) {
	url := "data:image/png;base64," + strings.Repeat("A", 100)
	got := Cache([]cache.EntryInfo{
		{Path: "img/a.png", MediaType: "image/png", URL: url, Size: 75, Count: 2},
	})
	want := "cache: 1 entries\n  img/a.png [image/png] 75 bytes, refs 2\n    url: \"" + url[:64] + "...\"\n"
	if got != want {
		t.Errorf("Cache() = %q, want %q", got, want)
	}
}
