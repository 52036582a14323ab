package session

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"ketav/cache"
	"ketav/common"
	"ketav/config"
	"ketav/epub"
	"ketav/epub/epubtest"
	"ketav/spine"
)

const png = "\x89PNG\r\n\x1a\n"

func readerConfig() config.ReaderConfig {
	return config.ReaderConfig{
		SuppressStyles: true,
		BoundaryClass:  "ketav-doc",
		Handles:        config.HandlesConfig{Mode: common.HandleModeMemory, InlineLimit: 1024},
	}
}

func testBook() *epubtest.Builder {
	return &epubtest.Builder{
		Title:   "Session",
		Creator: "Tester",
		Items: []epubtest.Item{
			epubtest.Nav("nav.xhtml", "Cover", "text/cover.xhtml", "One", "text/ch1.xhtml", "Two", "text/ch2.xhtml#two", "Broken", "text/none.xhtml"),
			epubtest.Doc("cover", "text/cover.xhtml", `<img src="../images/cover.jpg"/>`),
			epubtest.Doc("ch1", "text/ch1.xhtml", `<h1>One</h1><img src="../images/a.png"/>`),
			epubtest.Doc("ch1b", "text/ch1b.xhtml", `<p>one continued</p><img src="../images/a.png"/><img src="../images/b.png"/>`),
			epubtest.Doc("ch2", "text/ch2.xhtml", `<h1 id="two">Two</h1><img src="../images/b.png"/>`),
			epubtest.Resource("cover-img", "images/cover.jpg", "image/jpeg", "JPEG"),
			epubtest.Resource("a", "images/a.png", "image/png", png+"a"),
			epubtest.Resource("b", "images/b.png", "image/png", png+"b"),
		},
	}
}

func newSession(t *testing.T, b *epubtest.Builder, cfg config.ReaderConfig) *Session {
	t.Helper()

	data := b.Bytes(t)
	book, err := epub.OpenReader(bytes.NewReader(data), int64(len(data)), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	s, err := New(book, cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return s
}

func TestBuildTocRanges(t *testing.T) {
	s := newSession(t, testBook(), readerConfig())

	rs := s.BuildTocRanges()
	if rs != s.BuildTocRanges() {
		t.Error("BuildTocRanges() must be computed once")
	}
	want := map[string]spine.Range{
		"text/cover.xhtml":   {Start: 0, End: 1},
		"text/ch1.xhtml":     {Start: 1, End: 3},
		"text/ch2.xhtml#two": {Start: 3, End: 4},
	}
	got := rs.Map()
	if len(got) != len(want) {
		t.Fatalf("BuildTocRanges() = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("range[%s] = %v, want %v", k, got[k], v)
		}
	}
	if d := rs.Dropped(); len(d) != 1 || d[0] != "text/none.xhtml" {
		t.Errorf("Dropped() = %v", d)
	}
	if got := s.FirstTocHref(); got != "text/cover.xhtml" {
		t.Errorf("FirstTocHref() = %q", got)
	}
}

func TestPrepareRange(t *testing.T) {
	s := newSession(t, testBook(), readerConfig())
	ctx := context.Background()

	p, err := s.PrepareRange(ctx, spine.Range{Start: 1, End: 3})
	if err != nil {
		t.Fatalf("PrepareRange() error = %v", err)
	}
	if !strings.HasPrefix(p.Markup, `<div class="ketav-doc" data-doc-path="OEBPS/text/ch1.xhtml"><h1>One</h1>`) {
		t.Errorf("Markup = %s", p.Markup)
	}
	if !strings.Contains(p.Markup, `</div><div class="ketav-doc" data-doc-path="OEBPS/text/ch1b.xhtml">`) {
		t.Errorf("second document boundary missing: %s", p.Markup)
	}
	if len(p.Documents) != 2 {
		t.Errorf("Documents = %v", p.Documents)
	}
	c := s.Cache()
	if c.Count("OEBPS/images/a.png") != 2 || c.Count("OEBPS/images/b.png") != 1 {
		t.Errorf("counts a=%d b=%d, want 2/1", c.Count("OEBPS/images/a.png"), c.Count("OEBPS/images/b.png"))
	}
	p.Release()
	p.Release()
	if c.Len() != 0 {
		t.Errorf("Len() = %d after release", c.Len())
	}

	// empty range degrades to single document
	p, err = s.PrepareRange(ctx, spine.Range{Start: 2, End: 2})
	if err != nil {
		t.Fatalf("PrepareRange() error = %v", err)
	}
	if len(p.Documents) != 1 || p.Documents[0] != "OEBPS/text/ch1b.xhtml" || p.Range != (spine.Range{Start: 2, End: 3}) {
		t.Errorf("Documents = %v, Range = %v", p.Documents, p.Range)
	}
	p.Release()

	if _, err := s.PrepareRange(ctx, spine.Range{Start: 10, End: 11}); err == nil {
		t.Error("PrepareRange() out of bounds error = nil")
	}
}

func TestPrepareTocEntry(t *testing.T) {
	s := newSession(t, testBook(), readerConfig())
	ctx := context.Background()

	p, err := s.PrepareTocEntry(ctx, "text/ch2.xhtml#two")
	if err != nil {
		t.Fatalf("PrepareTocEntry() error = %v", err)
	}
	if p.Fragment != "two" || len(p.Documents) != 1 || p.Documents[0] != "OEBPS/text/ch2.xhtml" {
		t.Errorf("Prepared = %+v", p)
	}
	p.Release()

	p, err = s.PrepareTocEntry(ctx, "text/ch1.xhtml")
	if err != nil {
		t.Fatalf("PrepareTocEntry() error = %v", err)
	}
	if len(p.Documents) != 2 {
		t.Errorf("Documents = %v, want whole range", p.Documents)
	}
	p.Release()

	if _, err := s.PrepareTocEntry(ctx, "https://example.org"); err == nil {
		t.Error("PrepareTocEntry(external) error = nil")
	}
	if s.Cache().Len() != 0 {
		t.Errorf("Len() = %d", s.Cache().Len())
	}
}

func TestPrepareChapterAndDocument(t *testing.T) {
	s := newSession(t, testBook(), readerConfig())
	ctx := context.Background()

	p, err := s.PrepareChapter(ctx, []byte(`<img src="../images/missing.png"/>`), "OEBPS/text/ch1.xhtml")
	if err != nil {
		t.Fatalf("PrepareChapter() error = %v", err)
	}
	if len(p.Missing) != 1 || p.Missing[0] != "OEBPS/images/missing.png" {
		t.Errorf("Missing = %v", p.Missing)
	}
	if p.Range != (spine.Range{Start: 1, End: 2}) {
		t.Errorf("Range = %v", p.Range)
	}
	p.Release()

	p, err = s.PrepareDocument(ctx, "OEBPS/text/cover.xhtml")
	if err != nil {
		t.Fatalf("PrepareDocument() error = %v", err)
	}
	h, ok := s.Cache().Lookup("OEBPS/images/cover.jpg")
	if !ok || !strings.Contains(p.Markup, h.URL) {
		t.Errorf("Markup = %s", p.Markup)
	}
	store, ok := s.Factory().(*cache.MemoryStore)
	if !ok {
		t.Fatalf("Factory() = %T", s.Factory())
	}
	if data, mt, err := store.Open(h.URL); err != nil || string(data) != "JPEG" || mt != "image/jpeg" {
		t.Errorf("Open() = %q, %q, %v", data, mt, err)
	}
	p.Release()

	if _, err := s.PrepareDocument(ctx, "OEBPS/text/none.xhtml"); !errors.Is(err, epub.ErrNotFound) {
		t.Errorf("PrepareDocument(missing) error = %v", err)
	}
}

func TestNavigate(t *testing.T) {
	s := newSession(t, testBook(), readerConfig())
	ctx := context.Background()
	c := s.Cache()

	first, err := s.Navigate(ctx, "text/ch1.xhtml")
	if err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	if c.Count("OEBPS/images/a.png") != 2 {
		t.Errorf("Count(a) = %d, want 2", c.Count("OEBPS/images/a.png"))
	}

	second, err := s.Navigate(ctx, "text/ch2.xhtml#two")
	if err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	// previous load is released by navigation itself
	if c.Count("OEBPS/images/a.png") != 0 || c.Count("OEBPS/images/b.png") != 1 {
		t.Errorf("counts a=%d b=%d, want 0/1", c.Count("OEBPS/images/a.png"), c.Count("OEBPS/images/b.png"))
	}
	first.Release() // late release by presentation layer is harmless
	if c.Count("OEBPS/images/b.png") != 1 {
		t.Errorf("Count(b) = %d after stale release", c.Count("OEBPS/images/b.png"))
	}
	if s.Guard().Current() != 2 {
		t.Errorf("Guard().Current() = %d, want 2", s.Guard().Current())
	}

	if _, err := s.NavigateSpine(ctx, 0); err != nil {
		t.Fatalf("NavigateSpine() error = %v", err)
	}
	if c.Count("OEBPS/images/b.png") != 0 || c.Count("OEBPS/images/cover.jpg") != 1 {
		t.Errorf("counts b=%d cover=%d, want 0/1", c.Count("OEBPS/images/b.png"), c.Count("OEBPS/images/cover.jpg"))
	}
	second.Release()
}

// TestNavigate_Superseded starts load A which stops halfway, begins load B and
// lets A finish: A must observe it is stale and leave nothing behind.
func TestNavigate_Superseded(t *testing.T) {
	s := newSession(t, testBook(), readerConfig())
	ctx := context.Background()
	c := s.Cache()

	acquired := make(chan struct{})
	resume := make(chan struct{})
	var (
		wg   sync.WaitGroup
		errA error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errA = s.navigate(ctx, func(ctx context.Context, lease *cache.Lease) (*Prepared, error) {
			if _, err := lease.Acquire(ctx, "OEBPS/images/a.png", 1); err != nil {
				return nil, err
			}
			close(acquired)
			<-resume
			// finishes its work after being superseded
			if _, err := lease.Acquire(ctx, "OEBPS/images/cover.jpg", 1); err != nil {
				return nil, err
			}
			return &Prepared{Markup: "A", lease: lease}, nil
		})
	}()

	<-acquired
	if c.Count("OEBPS/images/a.png") != 1 {
		t.Fatalf("Count(a) = %d, want 1", c.Count("OEBPS/images/a.png"))
	}

	b, err := s.Navigate(ctx, "text/ch2.xhtml#two")
	if err != nil {
		t.Fatalf("Navigate(B) error = %v", err)
	}
	// beginning B released what A had so far
	if c.Count("OEBPS/images/a.png") != 0 {
		t.Errorf("Count(a) = %d after B began, want 0", c.Count("OEBPS/images/a.png"))
	}

	close(resume)
	wg.Wait()
	if !errors.Is(errA, ErrStale) {
		t.Errorf("load A error = %v, want ErrStale", errA)
	}
	if c.Count("OEBPS/images/cover.jpg") != 0 {
		t.Errorf("Count(cover) = %d, stale load leaked", c.Count("OEBPS/images/cover.jpg"))
	}
	if c.Count("OEBPS/images/b.png") != 1 {
		t.Errorf("Count(b) = %d, want 1", c.Count("OEBPS/images/b.png"))
	}
	b.Release()
}

func TestNavigate_StaleWithoutLeaseRelease(t *testing.T) {
	s := newSession(t, testBook(), readerConfig())
	ctx := context.Background()

	// guard advanced by somebody else while load was running
	_, err := s.navigate(ctx, func(ctx context.Context, lease *cache.Lease) (*Prepared, error) {
		if _, err := lease.Acquire(ctx, "OEBPS/images/a.png", 3); err != nil {
			return nil, err
		}
		s.Guard().Begin()
		return &Prepared{lease: lease}, nil
	})
	if !errors.Is(err, ErrStale) {
		t.Errorf("navigate() error = %v, want ErrStale", err)
	}
	if s.Cache().Len() != 0 {
		t.Errorf("Len() = %d, stale load leaked", s.Cache().Len())
	}
}

func TestGuard(t *testing.T) {
	var g Guard
	if g.Current() != 0 {
		t.Errorf("Current() = %d", g.Current())
	}
	a := g.Begin()
	if g.IsStale(a) {
		t.Error("IsStale(a) = true before next load")
	}
	b := g.Begin()
	if !g.IsStale(a) || g.IsStale(b) || b != 2 {
		t.Errorf("a=%d b=%d stale(a)=%v stale(b)=%v", a, b, g.IsStale(a), g.IsStale(b))
	}
}

func TestSessionsIndependent(t *testing.T) {
	s1 := newSession(t, testBook(), readerConfig())
	s2 := newSession(t, testBook(), readerConfig())
	ctx := context.Background()

	p1, err := s1.PrepareDocument(ctx, "OEBPS/text/ch1.xhtml")
	if err != nil {
		t.Fatalf("PrepareDocument() error = %v", err)
	}
	if s2.Cache().Len() != 0 || s2.Guard().Current() != 0 {
		t.Error("sessions share state")
	}
	p1.Release()
}

func TestClose(t *testing.T) {
	for _, mode := range common.HandleModeValues() {
		t.Run(mode.String(), func(t *testing.T) {
			cfg := readerConfig()
			cfg.Handles.Mode = mode
			cfg.Handles.Directory = t.TempDir()

			data := testBook().Bytes(t)
			book, err := epub.OpenReader(bytes.NewReader(data), int64(len(data)), zaptest.NewLogger(t))
			if err != nil {
				t.Fatalf("OpenReader() error = %v", err)
			}
			s, err := New(book, cfg, zaptest.NewLogger(t))
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if _, err := s.Navigate(context.Background(), "text/ch1.xhtml"); err != nil {
				t.Fatalf("Navigate() error = %v", err)
			}
			// leaked by presentation layer
			if _, err := s.PrepareDocument(context.Background(), "OEBPS/text/ch2.xhtml"); err != nil {
				t.Fatalf("PrepareDocument() error = %v", err)
			}
			if err := s.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}
			if s.Cache().Len() != 0 {
				t.Errorf("Len() = %d after Close", s.Cache().Len())
			}
			if err := s.Close(); err != nil {
				t.Errorf("second Close() error = %v", err)
			}
			if _, err := s.Navigate(context.Background(), "text/ch1.xhtml"); !errors.Is(err, ErrClosed) {
				t.Errorf("Navigate() after Close error = %v", err)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	name := testBook().Write(t)
	s, err := Open(name, readerConfig(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if got := len(s.Book().SpineDocuments()); got != 4 {
		t.Errorf("spine length = %d", got)
	}
	if _, err := Open(name+".missing", readerConfig(), nil); err == nil {
		t.Error("Open(missing) error = nil")
	}
	if s.Resolver() == nil {
		t.Error("Resolver() = nil")
	}
}
