package epub

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"ketav/archive"
)

// ErrNotFound is returned by ReadBytes for paths absent from archive.
var ErrNotFound = errors.New("epub: entry not found")

var charsetReader = charset.NewReaderLabel

// Book is an opened zip-backed e-book. It is safe for concurrent reads.
type Book struct {
	log *zap.Logger

	closer io.Closer
	files  map[string]*zip.File

	opfPath  string
	root     string
	version  string
	meta     Metadata
	manifest map[string]ManifestItem // by normalized path
	byID     map[string]ManifestItem
	order    []string // manifest paths in document order
	spine    []SpineItem
	toc      []TOCEntry
	tocBase  string
	cover    string
}

// Open opens book from file.
func Open(name string, log *zap.Logger) (*Book, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	b, err := OpenReader(f, fi.Size(), log)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to open book '%s': %w", name, err)
	}
	b.closer = f
	return b, nil
}

// OpenReader opens book from ra. Caller keeps ownership of ra.
func OpenReader(ra io.ReaderAt, size int64, log *zap.Logger) (*Book, error) {
	if log == nil {
		log = zap.NewNop()
	}
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, err
	}

	b := &Book{
		log:      log.Named("epub"),
		files:    make(map[string]*zip.File, len(zr.File)),
		manifest: make(map[string]ManifestItem),
		byID:     make(map[string]ManifestItem),
	}
	if err := archive.WalkReader(zr, "", func(_ string, f *zip.File) error {
		b.files[f.Name] = f
		return nil
	}); err != nil {
		return nil, err
	}
	b.checkMimetype(zr)

	data, err := b.ReadBytes(containerPath)
	if err != nil {
		return nil, ErrNoContainer
	}
	if b.opfPath, err = parseContainer(data); err != nil {
		return nil, err
	}
	if data, err = b.ReadBytes(b.opfPath); err != nil {
		return nil, ErrNoOPF
	}
	pkg, err := parseOPF(data, b.opfPath)
	if err != nil {
		return nil, err
	}

	if dir := path.Dir(b.opfPath); dir != "." {
		b.root = dir + "/"
	}
	b.version, b.meta, b.spine = pkg.version, pkg.meta, pkg.spine
	for _, id := range pkg.order {
		item := pkg.manifest[id]
		b.byID[id] = item
		if _, dup := b.manifest[item.Path]; !dup {
			b.order = append(b.order, item.Path)
		}
		b.manifest[item.Path] = item
	}
	b.cover = b.findCover(pkg.coverID)
	b.loadTOC(pkg.tocID)

	b.log.Debug("Book opened",
		zap.String("opf", b.opfPath),
		zap.String("version", b.version),
		zap.Int("manifest", len(b.manifest)),
		zap.Int("spine", len(b.spine)),
		zap.Int("toc", len(b.toc)))
	return b, nil
}

// Close releases underlying file, if any.
func (b *Book) Close() error {
	if b.closer == nil {
		return nil
	}
	err := b.closer.Close()
	b.closer = nil
	return err
}

func (b *Book) checkMimetype(zr *zip.Reader) {
	if len(zr.File) == 0 || zr.File[0].Name != "mimetype" {
		b.log.Debug("Archive does not start with mimetype entry")
		return
	}
	if zr.File[0].Method != zip.Store {
		b.log.Debug("Mimetype entry is compressed")
	}
	if data, err := b.ReadBytes("mimetype"); err == nil && strings.TrimSpace(string(data)) != "application/epub+zip" {
		b.log.Warn("Unexpected mimetype", zap.ByteString("mimetype", data))
	}
}

func (b *Book) findCover(metaID string) string {
	for _, p := range b.order {
		if item := b.manifest[p]; item.HasProperty("cover-image") {
			return item.Path
		}
	}
	if item, ok := b.byID[metaID]; ok {
		return item.Path
	}
	// some books put the path into <meta name="cover">
	if metaID != "" {
		if p := joinArchivePath(strings.TrimSuffix(b.root, "/"), metaID); p != "" {
			if _, ok := b.files[p]; ok {
				return p
			}
		}
	}
	return ""
}

func (b *Book) loadTOC(ncxID string) {
	for _, p := range b.order {
		item := b.manifest[p]
		if !item.HasProperty("nav") {
			continue
		}
		data, err := b.ReadBytes(item.Path)
		if err != nil {
			b.log.Warn("Unable to read navigation document", zap.String("path", item.Path), zap.Error(err))
			break
		}
		if entries, ok := parseNavXHTML(data); ok && len(entries) > 0 {
			b.toc, b.tocBase = entries, item.Path
			return
		}
		break
	}

	if ncxID == "" {
		for _, p := range b.order {
			if item := b.manifest[p]; item.MediaType == "application/x-dtbncx+xml" {
				ncxID = item.ID
				break
			}
		}
	}
	if item, ok := b.byID[ncxID]; ok {
		if data, err := b.ReadBytes(item.Path); err == nil {
			if entries, ok := parseNCX(data); ok && len(entries) > 0 {
				b.toc, b.tocBase = entries, item.Path
				return
			}
		} else {
			b.log.Warn("Unable to read NCX", zap.String("path", item.Path), zap.Error(err))
		}
	}

	// synthesize from spine, hrefs relative to OPF
	b.tocBase = b.opfPath
	for i, s := range b.spine {
		if !s.Linear {
			continue
		}
		b.toc = append(b.toc, TOCEntry{
			Title: fmt.Sprintf("Chapter %d", i+1),
			Href:  b.relativeToOPF(s.Path),
		})
	}
	b.log.Debug("No table of contents in book, synthesized from spine", zap.Int("entries", len(b.toc)))
}

func (b *Book) relativeToOPF(p string) string {
	if rest, ok := strings.CutPrefix(p, b.root); ok {
		return rest
	}
	return "/" + p
}

// ReadBytes returns content of archive entry at normalized path p.
func (b *Book) ReadBytes(p string) ([]byte, error) {
	f, ok := b.files[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("unable to open '%s': %w", p, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("unable to read '%s': %w", p, err)
	}
	return data, nil
}

// Has reports whether archive contains entry p.
func (b *Book) Has(p string) bool {
	_, ok := b.files[p]
	return ok
}

// MediaTypeOf returns manifest media type for p, empty when unknown.
func (b *Book) MediaTypeOf(p string) string {
	return b.manifest[p].MediaType
}

// Item returns manifest item for normalized path.
func (b *Book) Item(p string) (ManifestItem, bool) {
	item, ok := b.manifest[p]
	return item, ok
}

// SpineDocuments returns normalized paths of documents in reading order.
func (b *Book) SpineDocuments() []string {
	out := make([]string, len(b.spine))
	for i, s := range b.spine {
		out[i] = s.Path
	}
	return out
}

// Spine returns spine items.
func (b *Book) Spine() []SpineItem {
	return b.spine
}

// TableOfContents returns table of contents tree. Hrefs are relative to TocBase.
func (b *Book) TableOfContents() []TOCEntry {
	return b.toc
}

// TocBase returns path of document TOC hrefs were taken from.
func (b *Book) TocBase() string {
	return b.tocBase
}

func (b *Book) Metadata() Metadata {
	return b.meta
}

func (b *Book) Version() string {
	return b.version
}

// CoverPath returns normalized path of cover image, empty if book has none.
func (b *Book) CoverPath() string {
	return b.cover
}

// PackagePath returns path of package document.
func (b *Book) PackagePath() string {
	return b.opfPath
}
