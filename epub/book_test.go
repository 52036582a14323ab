package epub

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	"go.uber.org/zap/zaptest"

	"ketav/epub/epubtest"
)

func openTestBook(t *testing.T, b *epubtest.Builder) *Book {
	t.Helper()

	data := b.Bytes(t)
	book, err := OpenReader(bytes.NewReader(data), int64(len(data)), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	return book
}

func sampleBuilder() *epubtest.Builder {
	return &epubtest.Builder{
		Title:   "Sample Book",
		Creator: "Jane Doe",
		Items: []epubtest.Item{
			epubtest.Nav("nav.xhtml", "One", "text/ch1.xhtml", "Two", "text/ch2.xhtml#part"),
			epubtest.Doc("ch1", "text/ch1.xhtml", `<p><img src="../images/cover.jpg"/></p>`),
			epubtest.Doc("ch2", "text/ch2.xhtml", `<p id="part">two</p>`),
			epubtest.Resource("cover", "images/cover.jpg", "image/jpeg", "JPEG"),
			epubtest.Resource("css", "styles/main.css", "text/css", "p{}"),
		},
	}
}

func TestOpenReader(t *testing.T) {
	b := sampleBuilder()
	b.Items[3].Properties = "cover-image"
	book := openTestBook(t, b)

	if got := book.ContentRoot(); got != "OEBPS/" {
		t.Errorf("ContentRoot() = %q, want %q", got, "OEBPS/")
	}
	if got := book.PackagePath(); got != "OEBPS/content.opf" {
		t.Errorf("PackagePath() = %q", got)
	}
	if got := book.Version(); got != "3.0" {
		t.Errorf("Version() = %q", got)
	}

	want := []string{"OEBPS/text/ch1.xhtml", "OEBPS/text/ch2.xhtml"}
	if got := book.SpineDocuments(); !slices.Equal(got, want) {
		t.Errorf("SpineDocuments() = %v, want %v", got, want)
	}

	meta := book.Metadata()
	if meta.Title != "Sample Book" || len(meta.Creator) != 1 || meta.Creator[0] != "Jane Doe" {
		t.Errorf("Metadata() = %+v", meta)
	}
	if meta.Language != "en" || meta.Modified.IsZero() {
		t.Errorf("Metadata() language/modified = %q/%v", meta.Language, meta.Modified)
	}

	if got := book.CoverPath(); got != "OEBPS/images/cover.jpg" {
		t.Errorf("CoverPath() = %q", got)
	}
	if got := book.MediaTypeOf("OEBPS/styles/main.css"); got != "text/css" {
		t.Errorf("MediaTypeOf() = %q", got)
	}
	if got := book.MediaTypeOf("OEBPS/unknown.bin"); got != "" {
		t.Errorf("MediaTypeOf(unknown) = %q, want empty", got)
	}

	toc := book.TableOfContents()
	if len(toc) != 2 || toc[0].Title != "One" || toc[1].Href != "text/ch2.xhtml#part" {
		t.Errorf("TableOfContents() = %+v", toc)
	}
	if got := book.TocBase(); got != "OEBPS/nav.xhtml" {
		t.Errorf("TocBase() = %q", got)
	}
}

func TestReadBytes(t *testing.T) {
	book := openTestBook(t, sampleBuilder())

	data, err := book.ReadBytes("OEBPS/images/cover.jpg")
	if err != nil {
		t.Fatalf("ReadBytes() error = %v", err)
	}
	if string(data) != "JPEG" {
		t.Errorf("ReadBytes() = %q", data)
	}

	if _, err := book.ReadBytes("OEBPS/images/missing.jpg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadBytes(missing) error = %v, want ErrNotFound", err)
	}
	if !book.Has("OEBPS/styles/main.css") || book.Has("styles/main.css") {
		t.Error("Has() mismatch")
	}
}

func TestResolvePath(t *testing.T) {
	book := openTestBook(t, sampleBuilder())

	tests := []struct {
		name    string
		raw     string
		current string
		want    string
		ok      bool
	}{
		{"parent directory", "../images/cover.jpg", "OEBPS/text/ch1.xhtml", "OEBPS/images/cover.jpg", true},
		{"same directory", "ch2.xhtml", "OEBPS/text/ch1.xhtml", "OEBPS/text/ch2.xhtml", true},
		{"fragment dropped", "ch2.xhtml#part", "OEBPS/text/ch1.xhtml", "OEBPS/text/ch2.xhtml", true},
		{"query dropped", "ch2.xhtml?x=1", "OEBPS/text/ch1.xhtml", "OEBPS/text/ch2.xhtml", true},
		{"percent encoded", "my%20file.xhtml", "OEBPS/text/ch1.xhtml", "OEBPS/text/my file.xhtml", true},
		{"content root", "images/cover.jpg", "", "OEBPS/images/cover.jpg", true},
		{"archive absolute", "/OEBPS/styles/main.css", "OEBPS/text/ch1.xhtml", "OEBPS/styles/main.css", true},
		{"dot segments", "./a/../b.png", "OEBPS/text/ch1.xhtml", "OEBPS/text/b.png", true},
		{"escape", "../../../etc/passwd", "OEBPS/text/ch1.xhtml", "", false},
		{"empty", "", "OEBPS/text/ch1.xhtml", "", false},
		{"fragment only", "#top", "OEBPS/text/ch1.xhtml", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := book.ResolvePath(tt.raw, tt.current)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ResolvePath(%q, %q) = %q, %v; want %q, %v", tt.raw, tt.current, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestOpenReader_RootOPF(t *testing.T) {
	b := sampleBuilder()
	b.OPF = "content.opf"
	book := openTestBook(t, b)

	if got := book.ContentRoot(); got != "" {
		t.Errorf("ContentRoot() = %q, want empty", got)
	}
	if got := book.SpineDocuments()[0]; got != "text/ch1.xhtml" {
		t.Errorf("SpineDocuments()[0] = %q", got)
	}
	if p, ok := book.ResolvePath("images/cover.jpg", ""); !ok || p != "images/cover.jpg" {
		t.Errorf("ResolvePath() = %q, %v", p, ok)
	}
}

func TestOpenReader_NCX(t *testing.T) {
	ncx := `<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
<navMap>
  <navPoint id="p1"><navLabel><text>Part  One</text></navLabel><content src="text/ch1.xhtml"/>
    <navPoint id="p1a"><navLabel><text>Section</text></navLabel><content src="text/ch1.xhtml#s"/></navPoint>
  </navPoint>
  <navPoint id="p2"><navLabel><text>Part Two</text></navLabel><content src="text/ch2.xhtml"/></navPoint>
</navMap>
</ncx>`
	b := &epubtest.Builder{
		Title: "NCX Book",
		NCXID: "ncx",
		Items: []epubtest.Item{
			epubtest.Resource("ncx", "toc.ncx", "application/x-dtbncx+xml", ncx),
			epubtest.Doc("ch1", "text/ch1.xhtml", "<p>1</p>"),
			epubtest.Doc("ch2", "text/ch2.xhtml", "<p>2</p>"),
			epubtest.Resource("img", "img/c.png", "image/png", "PNG"),
		},
		CoverID: "img",
	}
	book := openTestBook(t, b)

	toc := book.TableOfContents()
	if len(toc) != 2 {
		t.Fatalf("TableOfContents() len = %d, want 2", len(toc))
	}
	if toc[0].Title != "Part One" || len(toc[0].Children) != 1 || toc[0].Children[0].Href != "text/ch1.xhtml#s" {
		t.Errorf("TableOfContents()[0] = %+v", toc[0])
	}
	if got := book.TocBase(); got != "OEBPS/toc.ncx" {
		t.Errorf("TocBase() = %q", got)
	}
	if got := book.CoverPath(); got != "OEBPS/img/c.png" {
		t.Errorf("CoverPath() = %q", got)
	}
}

func TestOpenReader_SynthesizedTOC(t *testing.T) {
	b := &epubtest.Builder{
		Title: "No TOC",
		Items: []epubtest.Item{
			epubtest.Doc("a", "a.xhtml", "<p>a</p>"),
			epubtest.Doc("b", "b.xhtml", "<p>b</p>"),
		},
	}
	b.Items[1].NonLinear = true
	book := openTestBook(t, b)

	toc := book.TableOfContents()
	if len(toc) != 1 || toc[0].Href != "a.xhtml" {
		t.Fatalf("TableOfContents() = %+v", toc)
	}
	if got := book.TocBase(); got != book.PackagePath() {
		t.Errorf("TocBase() = %q, want %q", got, book.PackagePath())
	}
	if book.Spine()[1].Linear {
		t.Error("Spine()[1].Linear = true, want false")
	}
}

func TestOpenReader_Errors(t *testing.T) {
	t.Run("not a zip", func(t *testing.T) {
		data := []byte("definitely not zip")
		if _, err := OpenReader(bytes.NewReader(data), int64(len(data)), nil); err == nil {
			t.Error("OpenReader() error = nil")
		}
	})
	t.Run("empty spine", func(t *testing.T) {
		b := &epubtest.Builder{Items: []epubtest.Item{epubtest.Resource("css", "a.css", "text/css", "")}}
		data := b.Bytes(t)
		if _, err := OpenReader(bytes.NewReader(data), int64(len(data)), nil); !errors.Is(err, ErrEmptySpine) {
			t.Errorf("OpenReader() error = %v, want ErrEmptySpine", err)
		}
	})
	t.Run("missing file", func(t *testing.T) {
		if _, err := Open("/definitely/missing.epub", nil); err == nil {
			t.Error("Open() error = nil")
		}
	})
}

func TestOpen(t *testing.T) {
	name := sampleBuilder().Write(t)
	book, err := Open(name, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := book.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := book.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
