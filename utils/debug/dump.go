package debug

import (
	"ketav/cache"
	"ketav/epub"
	"ketav/spine"
)

// TOC renders table of contents tree with spine range of every entry.
// Entries without range are marked as unresolved.
func TOC(toc []epub.TOCEntry, ranges *spine.Ranges, spineDocs []string) string {
	tw := NewTreeWriter()
	tw.Line(0, "toc: %d entries, spine: %d documents", len(spine.Flatten(toc)), len(spineDocs))
	var walk func(depth int, entries []epub.TOCEntry)
	walk = func(depth int, entries []epub.TOCEntry) {
		for _, e := range entries {
			tw.TextBlock(depth, "title", e.Title)
			switch r, ok := ranges.Lookup(e.Href); {
			case e.Href == "":
			case !ok:
				tw.Line(depth+1, "href %s (unresolved)", e.Href)
			default:
				tw.Line(depth+1, "href %s %s", e.Href, r)
				for i := r.Start; i < r.End && i < len(spineDocs); i++ {
					tw.Line(depth+2, "%d: %s", i, spineDocs[i])
				}
			}
			walk(depth+1, e.Children)
		}
	}
	walk(1, toc)
	return tw.String()
}

// Cache renders resource cache snapshot.
func Cache(entries []cache.EntryInfo) string {
	tw := NewTreeWriter()
	tw.Line(0, "cache: %d entries", len(entries))
	for _, e := range entries {
		tw.Line(1, "%s [%s] %d bytes, refs %d", e.Path, e.MediaType, e.Size, e.Count)
		tw.TextBlock(2, "url", truncate(e.URL, 64))
	}
	return tw.String()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
