package epub

import (
	"errors"
	"path"
	"strings"
	"time"

	"github.com/beevik/etree"
)

// OPF-related errors.
var (
	ErrNoOPF      = errors.New("epub: missing package document (OPF)")
	ErrInvalidOPF = errors.New("epub: invalid package document")
	ErrEmptySpine = errors.New("epub: no content in spine")
)

// packageDoc is intermediate result of package document parsing, paths are
// already normalized against OPF location.
type packageDoc struct {
	version  string
	meta     Metadata
	manifest map[string]ManifestItem // keyed by ID
	order    []string                // manifest IDs in document order
	spine    []SpineItem
	tocID    string // NCX manifest ID (EPUB 2)
	coverID  string // <meta name="cover"> (EPUB 2)
}

func parseOPF(data []byte, opfPath string) (*packageDoc, error) {
	doc, err := readXML(data)
	if err != nil {
		return nil, ErrInvalidOPF
	}
	root := doc.SelectElement("package")
	if root == nil {
		return nil, ErrInvalidOPF
	}

	pkg := &packageDoc{
		version:  root.SelectAttrValue("version", ""),
		manifest: make(map[string]ManifestItem),
	}

	base := path.Dir(opfPath)
	if md := root.SelectElement("metadata"); md != nil {
		pkg.meta, pkg.coverID = convertMetadata(md)
	}
	if mf := root.SelectElement("manifest"); mf != nil {
		for _, item := range mf.SelectElements("item") {
			href := item.SelectAttrValue("href", "")
			mi := ManifestItem{
				ID:         item.SelectAttrValue("id", ""),
				Href:       href,
				Path:       joinArchivePath(base, href),
				MediaType:  strings.TrimSpace(item.SelectAttrValue("media-type", "")),
				Properties: strings.Fields(item.SelectAttrValue("properties", "")),
			}
			if mi.ID == "" || mi.Path == "" {
				continue
			}
			if _, dup := pkg.manifest[mi.ID]; !dup {
				pkg.order = append(pkg.order, mi.ID)
			}
			pkg.manifest[mi.ID] = mi
		}
	}
	if sp := root.SelectElement("spine"); sp != nil {
		pkg.tocID = sp.SelectAttrValue("toc", "")
		for _, ref := range sp.SelectElements("itemref") {
			idref := ref.SelectAttrValue("idref", "")
			item, ok := pkg.manifest[idref]
			if !ok {
				// skip dangling references
				continue
			}
			pkg.spine = append(pkg.spine, SpineItem{
				IDRef:  idref,
				Path:   item.Path,
				Linear: ref.SelectAttrValue("linear", "yes") != "no",
			})
		}
	}
	if len(pkg.spine) == 0 {
		return nil, ErrEmptySpine
	}
	return pkg, nil
}

func firstText(md *etree.Element, tag string) string {
	if e := md.SelectElement(tag); e != nil {
		return strings.TrimSpace(e.Text())
	}
	return ""
}

func allText(md *etree.Element, tag string) []string {
	var out []string
	for _, e := range md.SelectElements(tag) {
		if s := strings.TrimSpace(e.Text()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func convertMetadata(md *etree.Element) (Metadata, string) {
	meta := Metadata{
		Title:       firstText(md, "title"),
		Creator:     allText(md, "creator"),
		Language:    firstText(md, "language"),
		Identifier:  firstText(md, "identifier"),
		Publisher:   firstText(md, "publisher"),
		Date:        firstText(md, "date"),
		Description: firstText(md, "description"),
		Subjects:    allText(md, "subject"),
	}

	var coverID string
	for _, m := range md.SelectElements("meta") {
		switch {
		case m.SelectAttrValue("property", "") == "dcterms:modified":
			if t, err := time.Parse(time.RFC3339, strings.TrimSpace(m.Text())); err == nil {
				meta.Modified = t
			}
		case m.SelectAttrValue("name", "") == "cover":
			coverID = m.SelectAttrValue("content", "")
		}
	}
	return meta, coverID
}
