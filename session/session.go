// Package session ties together everything needed to present one open book:
// archive, resource cache, document preparer, table of contents ranges and
// navigation guard. Sessions are independent, nothing is shared between
// them.
package session

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"ketav/cache"
	"ketav/chapter"
	"ketav/config"
	"ketav/epub"
	"ketav/href"
	"ketav/spine"
)

// ErrStale is returned by navigation when load was superseded by a newer one.
// Its resources are already released.
var ErrStale = errors.New("load superseded")

// ErrClosed is returned when navigating closed session.
var ErrClosed = errors.New("session closed")

// Prepared is markup ready for presentation. Release must be called when it
// is no longer shown, calling it more than once is safe.
type Prepared struct {
	Markup    string
	Missing   []string
	Documents []string
	// Fragment to scroll to, without '#'.
	Fragment string
	Range    spine.Range

	lease *cache.Lease
}

// Release gives back cache references held by prepared markup.
func (p *Prepared) Release() {
	if p != nil && p.lease != nil {
		p.lease.Release()
	}
}

// Session is one open book.
type Session struct {
	log   *zap.Logger
	cfg   config.ReaderConfig
	book  *epub.Book
	res   *href.Resolver
	cache *cache.Cache
	prep  *chapter.Preparer
	guard Guard

	factory      cache.Factory
	closeFactory func() error

	rangesOnce sync.Once
	ranges     *spine.Ranges

	mu      sync.Mutex
	current *cache.Lease
	closed  bool
}

// Open opens book file and creates session for it.
func Open(name string, cfg config.ReaderConfig, log *zap.Logger) (*Session, error) {
	book, err := epub.Open(name, log)
	if err != nil {
		return nil, err
	}
	s, err := New(book, cfg, log)
	if err != nil {
		return nil, multierr.Append(err, book.Close())
	}
	return s, nil
}

// New creates session for already opened book. Session takes ownership of
// the book.
func New(book *epub.Book, cfg config.ReaderConfig, log *zap.Logger) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}
	factory, closer, err := cache.NewFactory(cfg.Handles.Mode, cfg.Handles.Directory, log)
	if err != nil {
		return nil, err
	}

	s := &Session{
		log:          log.Named("session"),
		cfg:          cfg,
		book:         book,
		res:          href.NewResolver(book, log),
		factory:      factory,
		closeFactory: closer,
	}
	s.cache = cache.New(book, factory, cfg.Handles.InlineLimit, log)
	s.prep = chapter.New(s.res, s.cache, chapter.Options{SuppressStyles: cfg.SuppressStyles}, log)
	return s, nil
}

// Book returns underlying archive.
func (s *Session) Book() *epub.Book { return s.book }

// Cache returns session resource cache.
func (s *Session) Cache() *cache.Cache { return s.cache }

// Factory returns handle factory, presentation layer uses it to serve memory
// handles.
func (s *Session) Factory() cache.Factory { return s.factory }

// Guard returns session navigation guard.
func (s *Session) Guard() *Guard { return &s.guard }

// Resolver returns session reference resolver.
func (s *Session) Resolver() *href.Resolver { return s.res }

// PrepareChapter rewrites markup of document docPath.
func (s *Session) PrepareChapter(ctx context.Context, markup []byte, docPath string) (*Prepared, error) {
	lease := s.cache.NewLease()
	p, err := s.prepareMarkup(ctx, lease, markup, docPath)
	if err != nil {
		lease.Release()
		return nil, err
	}
	return p, nil
}

// PrepareDocument reads document docPath from archive and prepares it.
func (s *Session) PrepareDocument(ctx context.Context, docPath string) (*Prepared, error) {
	lease := s.cache.NewLease()
	p, err := s.prepareDocument(ctx, lease, docPath)
	if err != nil {
		lease.Release()
		return nil, err
	}
	return p, nil
}

// PrepareRange prepares spine documents of r one by one and concatenates
// them, each wrapped into boundary element carrying its path. Empty range
// degrades to the single document at r.Start.
func (s *Session) PrepareRange(ctx context.Context, r spine.Range) (*Prepared, error) {
	lease := s.cache.NewLease()
	p, err := s.prepareRange(ctx, lease, r)
	if err != nil {
		lease.Release()
		return nil, err
	}
	return p, nil
}

// BuildTocRanges computes (once) ranges of spine documents covered by table
// of contents entries.
func (s *Session) BuildTocRanges() *spine.Ranges {
	s.rangesOnce.Do(func() {
		s.ranges = spine.Build(s.book.TableOfContents(), s.book.TocBase(), s.book.SpineDocuments(), s.res, s.log)
	})
	return s.ranges
}

// PrepareTocEntry prepares content of table of contents entry: its spine
// range when it spans documents, otherwise the single document it points to.
func (s *Session) PrepareTocEntry(ctx context.Context, tocHref string) (*Prepared, error) {
	lease := s.cache.NewLease()
	p, err := s.prepareTocEntry(ctx, lease, tocHref)
	if err != nil {
		lease.Release()
		return nil, err
	}
	return p, nil
}

// FirstTocHref returns href of the first table of contents entry which has
// one, empty string if there is none.
func (s *Session) FirstTocHref() string {
	if hrefs := spine.Flatten(s.book.TableOfContents()); len(hrefs) > 0 {
		return hrefs[0]
	}
	return ""
}

// Navigate makes toc entry current. Previous load is released immediately,
// even if it is still in progress. If another navigation begins before this
// one completes, its resources are released and ErrStale is returned.
// Otherwise caller owns returned Prepared until the next navigation or
// Close.
func (s *Session) Navigate(ctx context.Context, tocHref string) (*Prepared, error) {
	return s.navigate(ctx, func(ctx context.Context, lease *cache.Lease) (*Prepared, error) {
		return s.prepareTocEntry(ctx, lease, tocHref)
	})
}

// NavigateSpine is Navigate to spine document by index.
func (s *Session) NavigateSpine(ctx context.Context, index int) (*Prepared, error) {
	return s.navigate(ctx, func(ctx context.Context, lease *cache.Lease) (*Prepared, error) {
		return s.prepareRange(ctx, lease, spine.Range{Start: index, End: index + 1})
	})
}

func (s *Session) navigate(ctx context.Context, load func(context.Context, *cache.Lease) (*Prepared, error)) (*Prepared, error) {
	id := s.guard.Begin()
	lease := s.cache.NewLease()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	prev := s.current
	s.current = lease
	s.mu.Unlock()

	if prev != nil {
		prev.Release()
	}

	p, err := load(ctx, lease)
	if s.guard.IsStale(id) || errors.Is(err, cache.ErrLeaseReleased) {
		lease.Release()
		s.log.Debug("Stale load discarded", zap.Uint64("load", id), zap.Uint64("current", s.guard.Current()))
		return nil, ErrStale
	}
	if err != nil {
		lease.Release()
		return nil, err
	}
	return p, nil
}

// Close releases everything session holds and closes the book.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cur := s.current
	s.current = nil
	s.mu.Unlock()

	if cur != nil {
		cur.Release()
	}
	if n := s.cache.Len(); n > 0 {
		s.log.Debug("Closing session with live resources", zap.Int("entries", n))
	}
	err := s.cache.Close()
	if s.closeFactory != nil {
		err = multierr.Append(err, s.closeFactory())
	}
	return multierr.Append(err, s.book.Close())
}

func (s *Session) prepareMarkup(ctx context.Context, lease *cache.Lease, markup []byte, docPath string) (*Prepared, error) {
	r, err := s.prep.PrepareWithLease(ctx, lease, markup, docPath)
	if err != nil {
		return nil, err
	}
	p := &Prepared{
		Markup:    r.Markup,
		Missing:   r.Missing,
		Documents: []string{docPath},
		lease:     lease,
	}
	if idx := s.spineIndex(docPath); idx >= 0 {
		p.Range = spine.Range{Start: idx, End: idx + 1}
	}
	return p, nil
}

func (s *Session) prepareDocument(ctx context.Context, lease *cache.Lease, docPath string) (*Prepared, error) {
	data, err := s.book.ReadBytes(docPath)
	if err != nil {
		return nil, err
	}
	return s.prepareMarkup(ctx, lease, data, docPath)
}

func (s *Session) prepareRange(ctx context.Context, lease *cache.Lease, r spine.Range) (*Prepared, error) {
	docs := s.book.SpineDocuments()
	if r.Start < 0 || r.Start >= len(docs) {
		return nil, fmt.Errorf("spine index %d out of range [0,%d)", r.Start, len(docs))
	}
	if r.Empty() {
		r.End = r.Start + 1
	}
	r.End = min(r.End, len(docs))

	out := &Prepared{Range: r, lease: lease}
	var sb strings.Builder
	missing := make(map[string]struct{})
	for _, p := range docs[r.Start:r.End] {
		data, err := s.book.ReadBytes(p)
		if err != nil {
			return nil, err
		}
		res, err := s.prep.PrepareWithLease(ctx, lease, data, p)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&sb, `<div class="%s" data-doc-path="%s">`, html.EscapeString(s.cfg.BoundaryClass), html.EscapeString(p))
		sb.WriteString(res.Markup)
		sb.WriteString("</div>")

		out.Documents = append(out.Documents, p)
		for _, m := range res.Missing {
			if _, ok := missing[m]; !ok {
				missing[m] = struct{}{}
				out.Missing = append(out.Missing, m)
			}
		}
	}
	out.Markup = sb.String()
	return out, nil
}

func (s *Session) prepareTocEntry(ctx context.Context, lease *cache.Lease, tocHref string) (*Prepared, error) {
	res, err := s.res.Resolve(tocHref, s.book.TocBase())
	if err != nil {
		return nil, fmt.Errorf("toc entry '%s': %w", tocHref, err)
	}
	if res.Kind != href.Internal {
		return nil, fmt.Errorf("toc entry '%s': %w", tocHref, href.ErrUnresolvable)
	}

	var p *Prepared
	if r, ok := s.BuildTocRanges().Lookup(tocHref); ok && !r.Empty() {
		p, err = s.prepareRange(ctx, lease, r)
	} else {
		if idx := s.spineIndex(res.Path); idx >= 0 {
			p, err = s.prepareRange(ctx, lease, spine.Range{Start: idx, End: idx + 1})
		} else {
			p, err = s.prepareDocument(ctx, lease, res.Path)
		}
	}
	if err != nil {
		return nil, err
	}
	p.Fragment = res.Fragment
	return p, nil
}

func (s *Session) spineIndex(p string) int {
	for i, d := range s.book.SpineDocuments() {
		if d == p {
			return i
		}
	}
	return -1
}
