package epub

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gosimple/slug"
)

// BookID returns stable library identifier for book: slugs of first author
// and title followed by short hash of both. Books without title are keyed by
// cover path and file name.
func BookID(meta Metadata, coverPath, fileName string) string {
	var author string
	if len(meta.Creator) > 0 {
		author = meta.Creator[0]
	}
	title := meta.Title
	if strings.TrimSpace(title) == "" {
		title = coverPath + " " + strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	}

	a, t := slug.Make(author), slug.Make(title)
	key := a + "_" + t

	var h uint32
	for i := 0; i < len(key); i++ {
		h = h*31 + uint32(key[i])
	}
	sum := fmt.Sprintf("%08x", h)[:6]

	switch {
	case a == "" && t == "":
		return sum
	case a == "":
		return t + "-" + sum
	case t == "":
		return a + "-" + sum
	}
	return a + "-" + t + "-" + sum
}

// TrimTitle shortens title to at most limit runes cutting at the last word
// boundary and appending ellipsis.
func TrimTitle(title string, limit int) string {
	title = strings.Join(strings.Fields(title), " ")
	if limit <= 0 || utf8.RuneCountInString(title) <= limit {
		return title
	}
	cut := string([]rune(title)[:limit])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:-") + "…"
}
