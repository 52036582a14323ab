// Package spine computes, for table of contents entries, contiguous ranges of
// reading order documents they cover.
package spine

import (
	"fmt"
	"maps"

	"go.uber.org/zap"

	"ketav/epub"
	"ketav/href"
)

// Range is [Start, End) of spine indexes.
type Range struct {
	Start int
	End   int
}

// Len returns number of documents in range.
func (r Range) Len() int {
	return max(r.End-r.Start, 0)
}

// Empty reports degenerate (zero length) range.
func (r Range) Empty() bool {
	return r.End <= r.Start
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// Resolver maps raw reference found in document into archive path.
type Resolver interface {
	Resolve(raw, current string) (href.Resolution, error)
}

// Ranges is result of Build.
type Ranges struct {
	byHref   map[string]Range
	order    []string
	dropped  []string
	spineLen int
}

// Flatten returns hrefs of toc in pre-order, entries without href are
// skipped.
func Flatten(toc []epub.TOCEntry) []string {
	var out []string
	var walk func([]epub.TOCEntry)
	walk = func(entries []epub.TOCEntry) {
		for _, e := range entries {
			if e.Href != "" {
				out = append(out, e.Href)
			}
			walk(e.Children)
		}
	}
	walk(toc)
	return out
}

// Build computes ranges for toc. Hrefs are resolved against base (document
// toc was read from) and looked up in spine. Entries which do not resolve to
// spine document are dropped. Range of every entry ends where the next
// entry starts when that is further in reading order, or at the end of the
// spine otherwise. Entries sharing spine index with the following entry get
// empty range.
func Build(toc []epub.TOCEntry, base string, spine []string, res Resolver, log *zap.Logger) *Ranges {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("spine")

	index := make(map[string]int, len(spine))
	for i, p := range spine {
		if _, ok := index[p]; !ok {
			index[p] = i
		}
	}

	type resolved struct {
		href  string
		start int
	}
	var (
		list []resolved
		seen = make(map[string]struct{})
		rs   = &Ranges{byHref: make(map[string]Range), spineLen: len(spine)}
	)
	for _, h := range Flatten(toc) {
		// repeated href keeps its first position, a later copy would cut
		// range of the entry before it short
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}

		r, err := res.Resolve(h, base)
		if err != nil || r.Kind != href.Internal {
			rs.dropped = append(rs.dropped, h)
			log.Warn("TOC entry does not point into archive, ignoring", zap.String("href", h), zap.Error(err))
			continue
		}
		i, ok := index[r.Path]
		if !ok {
			rs.dropped = append(rs.dropped, h)
			log.Warn("TOC entry points outside of spine, ignoring", zap.String("href", h), zap.String("path", r.Path))
			continue
		}
		list = append(list, resolved{href: h, start: i})
	}

	for n, e := range list {
		end := len(spine)
		if n+1 < len(list) {
			switch next := list[n+1].start; {
			case next > e.start:
				end = next
			case next == e.start:
				end = e.start
				log.Debug("TOC entry shares document with the next one, empty range", zap.String("href", e.href), zap.Int("index", e.start))
			}
		}
		rs.byHref[e.href] = Range{Start: e.start, End: end}
		rs.order = append(rs.order, e.href)
	}
	if len(rs.order) == 0 && len(rs.dropped) > 0 {
		log.Warn("No TOC entry could be mapped to spine, ranges disabled", zap.Int("entries", len(rs.dropped)))
	}
	return rs
}

// Lookup returns range for href as it appears in toc.
func (rs *Ranges) Lookup(tocHref string) (Range, bool) {
	r, ok := rs.byHref[tocHref]
	return r, ok
}

// Hrefs returns mapped toc hrefs in reading order.
func (rs *Ranges) Hrefs() []string {
	return rs.order
}

// Dropped returns toc hrefs which could not be mapped.
func (rs *Ranges) Dropped() []string {
	return rs.dropped
}

// Len returns number of mapped entries.
func (rs *Ranges) Len() int {
	return len(rs.order)
}

// SpineLen returns length of spine ranges were built for.
func (rs *Ranges) SpineLen() int {
	return rs.spineLen
}

// Map returns copy of href to range mapping.
func (rs *Ranges) Map() map[string]Range {
	return maps.Clone(rs.byHref)
}
