// Package href classifies and resolves resource references found in book
// documents into normalized archive paths.
package href

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// ErrUnresolvable is returned when reference could not be mapped to an
// archive path by any means.
var ErrUnresolvable = errors.New("unresolvable reference")

// Kind of resolved reference.
type Kind int

const (
	// Internal reference points to archive resource.
	Internal Kind = iota
	// FragmentOnly reference points into current document.
	FragmentOnly
	// External reference must be left untouched.
	External
)

func (k Kind) String() string {
	switch k {
	case Internal:
		return "internal"
	case FragmentOnly:
		return "fragment"
	case External:
		return "external"
	}
	return "unknown"
}

// Resolution is result of reference resolution.
type Resolution struct {
	Kind     Kind
	Path     string // normalized archive path, Internal only
	Fragment string // without leading '#'
	// Degraded is set when archive resolver failed and path was produced by
	// concatenation with content root.
	Degraded bool
}

// PathResolver is implemented by archive provider.
type PathResolver interface {
	ResolvePath(raw, current string) (string, bool)
	ContentRoot() string
}

var schemeRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)

// IsExternal reports whether raw carries URI scheme (including data:, blob:
// and handle URLs) or is network-path reference.
func IsExternal(raw string) bool {
	return schemeRe.MatchString(raw) || strings.HasPrefix(raw, "//")
}

// Resolver resolves references against single open archive. Resolution is
// deterministic: the same arguments always produce the same result.
type Resolver struct {
	log *zap.Logger
	pr  PathResolver
}

// NewResolver returns resolver for archive pr.
func NewResolver(pr PathResolver, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{log: log.Named("href"), pr: pr}
}

// Resolve classifies raw found in document current.
func (r *Resolver) Resolve(raw, current string) (Resolution, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Resolution{}, ErrUnresolvable
	}
	if IsExternal(raw) {
		return Resolution{Kind: External}, nil
	}
	if frag, ok := strings.CutPrefix(raw, "#"); ok {
		return Resolution{Kind: FragmentOnly, Fragment: frag}, nil
	}

	ref, frag, _ := strings.Cut(raw, "#")
	if p, ok := r.pr.ResolvePath(ref, current); ok {
		return Resolution{Kind: Internal, Path: p, Fragment: frag}, nil
	}

	// degraded path: content root + reference
	ref, _, _ = strings.Cut(ref, "?")
	p := collapseSlashes(strings.TrimPrefix(r.pr.ContentRoot()+ref, "/"))
	if p == "" || strings.HasSuffix(p, "/") {
		return Resolution{}, ErrUnresolvable
	}
	r.log.Debug("Reference resolved by concatenation", zap.String("raw", raw), zap.String("document", current), zap.String("path", p))
	return Resolution{Kind: Internal, Path: p, Fragment: frag, Degraded: true}, nil
}

func collapseSlashes(s string) string {
	for strings.Contains(s, "//") {
		s = strings.ReplaceAll(s, "//", "/")
	}
	return s
}

// Variants returns alternative spellings of normalized path p to try when
// direct lookup fails: percent decoded and encoded forms, NFC and NFD
// unicode normalizations and content root prefixed form. p itself is not
// included, order is stable and duplicates are removed.
func Variants(p, contentRoot string) []string {
	seen := map[string]struct{}{p: {}}
	var out []string
	add := func(v string) {
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	if d, err := url.PathUnescape(p); err == nil {
		add(d)
	}
	add(escapePath(p))
	add(norm.NFC.String(p))
	add(norm.NFD.String(p))
	if contentRoot != "" && !strings.HasPrefix(p, contentRoot) {
		add(contentRoot + p)
	}
	return out
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
