// Package epubtest builds small in-memory books for tests.
package epubtest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

// Item is a manifest entry of generated book. Path is relative to OPF folder.
type Item struct {
	ID         string
	Href       string
	MediaType  string
	Properties string
	Content    string
	Spine      bool
	NonLinear  bool
}

// Builder describes book to generate.
type Builder struct {
	// OPF path, "OEBPS/content.opf" when empty
	OPF        string
	Title      string
	Creator    string
	Items      []Item
	Extra      map[string]string // archive entries outside manifest
	CoverID    string            // EPUB 2 <meta name="cover">
	NCXID      string
	NoMimetype bool
}

func (b *Builder) opf() string {
	if b.OPF == "" {
		return "OEBPS/content.opf"
	}
	return b.OPF
}

func (b *Builder) packageDocument() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	sb.WriteString(`<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="id">` + "\n")
	sb.WriteString(`<metadata xmlns:dc="http://purl.org/dc/elements/1.1/">`)
	fmt.Fprintf(&sb, `<dc:identifier id="id">urn:test:%s</dc:identifier>`, b.Title)
	if b.Title != "" {
		fmt.Fprintf(&sb, `<dc:title>%s</dc:title>`, b.Title)
	}
	if b.Creator != "" {
		fmt.Fprintf(&sb, `<dc:creator>%s</dc:creator>`, b.Creator)
	}
	sb.WriteString(`<dc:language>en</dc:language>`)
	sb.WriteString(`<meta property="dcterms:modified">2024-01-02T03:04:05Z</meta>`)
	if b.CoverID != "" {
		fmt.Fprintf(&sb, `<meta name="cover" content="%s"/>`, b.CoverID)
	}
	sb.WriteString("</metadata>\n<manifest>\n")
	for _, it := range b.Items {
		fmt.Fprintf(&sb, `<item id="%s" href="%s" media-type="%s"`, it.ID, it.Href, it.MediaType)
		if it.Properties != "" {
			fmt.Fprintf(&sb, ` properties="%s"`, it.Properties)
		}
		sb.WriteString("/>\n")
	}
	sb.WriteString("</manifest>\n")
	if b.NCXID != "" {
		fmt.Fprintf(&sb, `<spine toc="%s">`, b.NCXID)
	} else {
		sb.WriteString("<spine>")
	}
	for _, it := range b.Items {
		if !it.Spine {
			continue
		}
		if it.NonLinear {
			fmt.Fprintf(&sb, `<itemref idref="%s" linear="no"/>`, it.ID)
		} else {
			fmt.Fprintf(&sb, `<itemref idref="%s"/>`, it.ID)
		}
	}
	sb.WriteString("</spine>\n</package>\n")
	return sb.String()
}

// Bytes returns zip image of the book.
func (b *Builder) Bytes(t testing.TB) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	add := func(name, content string, method uint16) {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
		if err != nil {
			t.Fatalf("unable to create entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("unable to write entry %s: %v", name, err)
		}
	}

	if !b.NoMimetype {
		add("mimetype", "application/epub+zip", zip.Store)
	}
	add("META-INF/container.xml", fmt.Sprintf(`<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
<rootfiles><rootfile full-path="%s" media-type="application/oebps-package+xml"/></rootfiles>
</container>`, b.opf()), zip.Deflate)
	add(b.opf(), b.packageDocument(), zip.Deflate)

	dir := filepath.ToSlash(filepath.Dir(b.opf()))
	for _, it := range b.Items {
		name := it.Href
		if dir != "." {
			name = dir + "/" + it.Href
		}
		add(name, it.Content, zip.Deflate)
	}
	keys := make([]string, 0, len(b.Extra))
	for k := range b.Extra {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		add(k, b.Extra[k], zip.Deflate)
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("unable to close archive: %v", err)
	}
	return buf.Bytes()
}

// Write stores book in t.TempDir and returns its path.
func (b *Builder) Write(t testing.TB) string {
	t.Helper()

	name := filepath.Join(t.TempDir(), "book.epub")
	if err := os.WriteFile(name, b.Bytes(t), 0o644); err != nil {
		t.Fatalf("unable to write book: %v", err)
	}
	return name
}

// XHTML wraps body into minimal XHTML document.
func XHTML(title, body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops"><head><title>` + title + `</title></head><body>` + body + `</body></html>`
}

// Doc returns spine document item.
func Doc(id, href, body string) Item {
	return Item{ID: id, Href: href, MediaType: "application/xhtml+xml", Content: XHTML(id, body), Spine: true}
}

// Nav returns EPUB 3 navigation document item with list entries given as
// (title, href) pairs.
func Nav(href string, entries ...string) Item {
	var sb strings.Builder
	sb.WriteString(`<nav epub:type="toc"><ol>`)
	for i := 0; i+1 < len(entries); i += 2 {
		fmt.Fprintf(&sb, `<li><a href="%s">%s</a></li>`, entries[i+1], entries[i])
	}
	sb.WriteString(`</ol></nav>`)
	return Item{ID: "nav", Href: href, MediaType: "application/xhtml+xml", Properties: "nav", Content: XHTML("nav", sb.String())}
}

// Resource returns non spine item.
func Resource(id, href, mediaType, content string) Item {
	return Item{ID: id, Href: href, MediaType: mediaType, Content: content}
}
