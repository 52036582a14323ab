// Package chapter prepares book documents for presentation: resource
// references in markup are resolved, materialized through the resource cache
// and rewritten to point at cache handles.
package chapter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"ketav/cache"
	"ketav/css"
	"ketav/href"
)

type usageKind uint8

const (
	// whole attribute value is a reference
	kindAttr usageKind = iota
	// responsive image candidate list
	kindSrcset
	// inline style attribute
	kindStyleAttr
	// content of style element
	kindStyleText
)

// usage is a flat record of single resource reference. Node is index into
// scanner arena, attr is index into node attributes (-1 for element text).
// References of removed nodes keep node -1, they are counted but never
// rewritten.
type usage struct {
	node     int
	attr     int
	kind     usageKind
	raw      string
	path     string
	fragment string
}

// Options control preparation.
type Options struct {
	// SuppressStyles removes embedded style elements and stylesheet links
	// from output, their references are still cached.
	SuppressStyles bool
}

// Result of document preparation. Release gives back every cache reference
// taken for this result, it is safe to call any number of times.
type Result struct {
	Path    string
	Markup  string
	Missing []string
	// Usages is number of internal references counted against cache.
	Usages int

	lease *cache.Lease
}

// Release returns cache references taken while preparing the result.
func (r *Result) Release() {
	if r != nil && r.lease != nil {
		r.lease.Release()
	}
}

// Lease returns cache lease result references are recorded in.
func (r *Result) Lease() *cache.Lease {
	return r.lease
}

// Preparer rewrites documents of a single open book.
type Preparer struct {
	log   *zap.Logger
	res   *href.Resolver
	cache *cache.Cache
	opts  Options
}

// New returns preparer resolving references with res and materializing them
// through c.
func New(res *href.Resolver, c *cache.Cache, opts Options, log *zap.Logger) *Preparer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Preparer{log: log.Named("chapter"), res: res, cache: c, opts: opts}
}

// Options returns preparer options.
func (p *Preparer) Options() Options {
	return p.opts
}

// Prepare rewrites markup of document docPath. References are recorded in
// new lease which is released when preparation fails.
func (p *Preparer) Prepare(ctx context.Context, markup []byte, docPath string) (*Result, error) {
	lease := p.cache.NewLease()
	r, err := p.PrepareWithLease(ctx, lease, markup, docPath)
	if err != nil {
		lease.Release()
		return nil, err
	}
	return r, nil
}

// PrepareWithLease is Prepare recording references in caller owned lease.
// Fetch and handle creation failures are reported in Result.Missing, error is
// returned only for unparsable markup, cancelled context or lease released
// while preparation was in progress.
func (p *Preparer) PrepareWithLease(ctx context.Context, lease *cache.Lease, markup []byte, docPath string) (*Result, error) {
	root, err := parse(markup)
	if err != nil {
		return nil, fmt.Errorf("unable to parse '%s': %w", docPath, err)
	}

	s := &scanner{suppress: p.opts.SuppressStyles}
	s.walk(root, false)
	s.detach()

	res := &Result{Path: docPath, lease: lease}
	missing := newOrderedSet()

	// group by normalized path keeping first occurrence order
	groups := newOrderedSet()
	perPath := make(map[string]int)
	for i := range s.usages {
		u := &s.usages[i]
		r, err := p.res.Resolve(u.raw, docPath)
		if err != nil {
			p.log.Debug("Unable to resolve reference", zap.String("doc", docPath), zap.String("ref", u.raw), zap.Error(err))
			missing.add(u.raw)
			continue
		}
		if r.Kind != href.Internal {
			continue
		}
		u.path, u.fragment = r.Path, r.Fragment
		groups.add(u.path)
		perPath[u.path]++
	}

	handles := make(map[string]*cache.Handle, len(groups.items))
	for _, path := range groups.items {
		n := perPath[path]
		h, err := lease.Acquire(ctx, path, n)
		switch {
		case err == nil:
			handles[path] = h
			res.Usages += n
		case errors.Is(err, cache.ErrFetch), errors.Is(err, cache.ErrHandleCreation):
			p.log.Warn("Resource is missing", zap.String("doc", docPath), zap.String("path", path), zap.Error(err))
			missing.add(path)
		default:
			return nil, err
		}
	}

	p.rewrite(s, handles, docPath)

	var extra []*html.Node
	if !p.opts.SuppressStyles {
		extra = s.headStyles
	}
	if res.Markup, err = render(root, extra); err != nil {
		return nil, fmt.Errorf("unable to render '%s': %w", docPath, err)
	}
	res.Missing = missing.items

	p.log.Debug("Document prepared",
		zap.String("doc", docPath),
		zap.Int("references", len(s.usages)),
		zap.Int("resources", len(handles)),
		zap.Int("missing", len(res.Missing)))
	return res, nil
}

// replacement returns handle URL for reference if it was acquired.
func (p *Preparer) replacement(raw, docPath string, handles map[string]*cache.Handle) (string, bool) {
	r, err := p.res.Resolve(raw, docPath)
	if err != nil || r.Kind != href.Internal {
		return "", false
	}
	h, ok := handles[r.Path]
	if !ok {
		return "", false
	}
	if r.Fragment != "" {
		return h.URL + "#" + r.Fragment, true
	}
	return h.URL, true
}

func (p *Preparer) rewrite(s *scanner, handles map[string]*cache.Handle, docPath string) {
	type site struct{ node, attr int }
	done := make(map[site]struct{})

	for _, u := range s.usages {
		if u.node < 0 || u.path == "" {
			continue
		}
		n := s.nodes[u.node]
		switch u.kind {
		case kindAttr:
			h, ok := handles[u.path]
			if !ok {
				continue
			}
			v := h.URL
			if u.fragment != "" {
				v += "#" + u.fragment
			}
			n.Attr[u.attr].Val = v
			continue
		}

		key := site{u.node, u.attr}
		if _, ok := done[key]; ok {
			continue
		}
		done[key] = struct{}{}

		fn := func(ref string) (string, bool) { return p.replacement(ref, docPath, handles) }
		switch u.kind {
		case kindSrcset:
			cs := parseSrcset(n.Attr[u.attr].Val)
			for i := range cs {
				if v, ok := fn(cs[i].url); ok {
					cs[i].url = v
				}
			}
			n.Attr[u.attr].Val = formatSrcset(cs)
		case kindStyleAttr:
			n.Attr[u.attr].Val = css.RewriteString(n.Attr[u.attr].Val, fn)
		case kindStyleText:
			setText(n, css.RewriteString(textOf(n), fn))
		}
	}
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (o *orderedSet) add(s string) {
	if _, ok := o.seen[s]; ok {
		return
	}
	o.seen[s] = struct{}{}
	o.items = append(o.items, s)
}

// scanner collects usages into flat arena.
type scanner struct {
	suppress   bool
	nodes      []*html.Node
	usages     []usage
	removed    []*html.Node
	headStyles []*html.Node
}

func (s *scanner) node(n *html.Node) int {
	s.nodes = append(s.nodes, n)
	return len(s.nodes) - 1
}

func (s *scanner) add(idx, attr int, kind usageKind, raw string) {
	if raw = strings.TrimSpace(raw); raw == "" {
		return
	}
	s.usages = append(s.usages, usage{node: idx, attr: attr, kind: kind, raw: raw})
}

func attrIndex(n *html.Node, key string) int {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return i
		}
	}
	return -1
}

func isStylesheetLink(n *html.Node) bool {
	var rel, as string
	if i := attrIndex(n, "rel"); i >= 0 {
		rel = strings.ToLower(n.Attr[i].Val)
	}
	if i := attrIndex(n, "as"); i >= 0 {
		as = strings.ToLower(n.Attr[i].Val)
	}
	for _, r := range strings.Fields(rel) {
		if r == "stylesheet" || r == "style" || (r == "preload" && as == "style") {
			return true
		}
	}
	return false
}

func (s *scanner) walk(n *html.Node, inHead bool) {
	if n.Type == html.ElementNode {
		s.element(n, inHead)
		if n.DataAtom == atom.Head {
			inHead = true
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		s.walk(c, inHead)
	}
}

func (s *scanner) element(n *html.Node, inHead bool) {
	if n.Namespace == "svg" && n.Data == "image" {
		idx := s.node(n)
		for i, a := range n.Attr {
			if a.Key == "href" && (a.Namespace == "" || a.Namespace == "xlink") {
				s.add(idx, i, kindAttr, a.Val)
			}
		}
		s.styleAttr(n, idx)
		return
	}

	switch n.DataAtom {
	case atom.Style:
		idx := -1
		if s.suppress {
			s.removed = append(s.removed, n)
		} else {
			idx = s.node(n)
			if inHead {
				s.headStyles = append(s.headStyles, n)
			}
		}
		for _, ref := range css.URLs([]byte(textOf(n))) {
			s.add(idx, -1, kindStyleText, ref)
		}
		return
	case atom.Link:
		if !isStylesheetLink(n) {
			return
		}
		idx, i := -1, attrIndex(n, "href")
		if s.suppress {
			s.removed = append(s.removed, n)
		} else {
			idx = s.node(n)
			if inHead {
				s.headStyles = append(s.headStyles, n)
			}
		}
		if i >= 0 {
			s.add(idx, i, kindAttr, n.Attr[i].Val)
		}
		return
	}

	idx := -1
	ensure := func() int {
		if idx < 0 {
			idx = s.node(n)
		}
		return idx
	}
	direct := func(key string) {
		if i := attrIndex(n, key); i >= 0 {
			s.add(ensure(), i, kindAttr, n.Attr[i].Val)
		}
	}
	srcset := func() {
		if i := attrIndex(n, "srcset"); i >= 0 {
			for _, c := range parseSrcset(n.Attr[i].Val) {
				s.add(ensure(), i, kindSrcset, c.url)
			}
		}
	}

	switch n.DataAtom {
	case atom.Img:
		direct("src")
		srcset()
	case atom.Source:
		direct("src")
		srcset()
	case atom.Video, atom.Audio:
		direct("src")
		direct("poster")
	case atom.Object:
		direct("data")
	case atom.Embed, atom.Iframe:
		direct("src")
	}
	// only body children are rendered, html and body attributes are dropped
	if !inHead && n.DataAtom != atom.Body && n.DataAtom != atom.Html {
		s.styleAttr(n, idx)
	}
}

func (s *scanner) styleAttr(n *html.Node, idx int) {
	i := attrIndex(n, "style")
	if i < 0 {
		return
	}
	refs := css.URLs([]byte(n.Attr[i].Val))
	if len(refs) == 0 {
		return
	}
	if idx < 0 {
		idx = s.node(n)
	}
	for _, ref := range refs {
		s.add(idx, i, kindStyleAttr, ref)
	}
}

// detach removes suppressed nodes from tree.
func (s *scanner) detach() {
	for _, n := range s.removed {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

func setText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}
