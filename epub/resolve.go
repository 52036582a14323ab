package epub

import (
	"net/url"
	"path"
	"strings"
)

// joinArchivePath resolves href (which may carry fragment, query and percent
// encoding) against directory dir. Result is archive root relative, empty
// when href is empty or escapes archive root.
func joinArchivePath(dir, href string) string {
	href = strings.TrimSpace(href)
	if i := strings.IndexAny(href, "#?"); i >= 0 {
		href = href[:i]
	}
	if href == "" {
		return ""
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	if rest, ok := strings.CutPrefix(href, "/"); ok {
		// absolute inside archive
		dir, href = "", rest
	}
	if dir == "." {
		dir = ""
	}

	p := path.Join(dir, href)
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return ""
	}
	return p
}

// ResolvePath resolves raw reference found in document current (archive
// path) into normalized archive path. When current is empty reference is
// resolved against content root. Fragment and query are dropped. Returns
// false when nothing sensible could be produced.
func (b *Book) ResolvePath(raw, current string) (string, bool) {
	dir := strings.TrimSuffix(b.root, "/")
	if current != "" {
		dir = path.Dir(current)
	}
	p := joinArchivePath(dir, raw)
	return p, p != ""
}

// ContentRoot returns directory of the package document with trailing slash,
// empty when package document is at archive root.
func (b *Book) ContentRoot() string {
	return b.root
}
