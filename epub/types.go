// Package epub implements zip-backed e-book archive access: container and
// package document parsing, reading order, table of contents, path
// resolution and lazy byte access to archive entries.
package epub

import "time"

// Metadata contains Dublin Core metadata of the book.
type Metadata struct {
	Title       string
	Creator     []string
	Language    string
	Identifier  string
	Publisher   string
	Date        string
	Description string
	Subjects    []string
	Modified    time.Time
}

// ManifestItem is a single resource declared by the package document. Path
// is normalized (archive root relative).
type ManifestItem struct {
	ID         string
	Href       string
	Path       string
	MediaType  string
	Properties []string
}

// HasProperty reports whether item declares property.
func (m ManifestItem) HasProperty(prop string) bool {
	for _, p := range m.Properties {
		if p == prop {
			return true
		}
	}
	return false
}

// SpineItem is one document in reading order.
type SpineItem struct {
	IDRef  string
	Path   string
	Linear bool
}

// TOCEntry is a node of table of contents tree. Href is kept as written in
// the navigation document, relative to TocBase of the book.
type TOCEntry struct {
	Title    string
	Href     string
	Children []TOCEntry
}
