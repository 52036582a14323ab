// Package reader implements command line actions operating on EPUB books.
package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"ketav/archive"
	"ketav/common"
	"ketav/config"
	"ketav/cover"
	"ketav/epub"
	"ketav/session"
	"ketav/spine"
	"ketav/state"
	"ketav/utils/debug"
)

const titleLimit = 60

func sourceArg(cmd *cli.Command, log *zap.Logger, extra int) (string, error) {
	src := cmd.Args().Get(0)
	if len(src) == 0 {
		return "", errors.New("no input book has been specified")
	}
	if cmd.Args().Len() > extra+1 {
		log.Warn("Malformed command line, too many arguments", zap.Strings("ignoring", cmd.Args().Slice()[extra+1:]))
	}
	return filepath.Abs(src)
}

func readerConfig(env *state.LocalEnv) config.ReaderConfig {
	cfg := env.Cfg.Reader
	cfg.SuppressStyles = env.SuppressStyles()
	return cfg
}

// Info prints book metadata.
func Info(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env := state.EnvFromContext(ctx)
	log := env.Log.Named("info")

	src, err := sourceArg(cmd, log, 0)
	if err != nil {
		return err
	}
	book, err := epub.Open(src, log)
	if err != nil {
		return fmt.Errorf("unable to open book: %w", err)
	}
	defer book.Close()

	writeInfo(cmd.Root().Writer, book, filepath.Base(src))
	return nil
}

func writeInfo(w io.Writer, book *epub.Book, name string) {
	meta := book.Metadata()
	tw := debug.NewTreeWriter()
	tw.Line(0, "%s", name)
	tw.TextBlock(1, "title", epub.TrimTitle(meta.Title, titleLimit))
	tw.TextBlock(1, "authors", strings.Join(meta.Creator, ", "))
	tw.TextBlock(1, "language", meta.Language)
	tw.TextBlock(1, "identifier", meta.Identifier)
	if !meta.Modified.IsZero() {
		tw.Line(1, "modified: %s", meta.Modified.Format(time.RFC3339))
	}
	tw.Line(1, "id: %s", epub.BookID(meta, book.CoverPath(), name))
	tw.Line(1, "version: %s", book.Version())
	tw.Line(1, "package: %s", book.PackagePath())
	tw.Line(1, "spine: %d documents", len(book.SpineDocuments()))
	tw.Line(1, "toc: %d entries", len(spine.Flatten(book.TableOfContents())))
	tw.TextBlock(1, "cover", book.CoverPath())
	io.WriteString(w, tw.String())
}

// TOC prints table of contents with spine ranges.
func TOC(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env := state.EnvFromContext(ctx)
	log := env.Log.Named("toc")

	src, err := sourceArg(cmd, log, 0)
	if err != nil {
		return err
	}
	s, err := session.Open(src, readerConfig(env), log)
	if err != nil {
		return fmt.Errorf("unable to open book: %w", err)
	}
	defer s.Close()

	dump := debug.TOC(s.Book().TableOfContents(), s.BuildTocRanges(), s.Book().SpineDocuments())
	if env.Rpt != nil {
		env.Rpt.StoreData("toc.txt", []byte(dump))
	}
	_, err = io.WriteString(cmd.Root().Writer, dump)
	return err
}

// Chapter writes prepared markup of table of contents entry or spine
// document.
func Chapter(ctx context.Context, cmd *cli.Command) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	env := state.EnvFromContext(ctx)
	log := env.Log.Named("chapter")

	src, err := sourceArg(cmd, log, 1)
	if err != nil {
		return err
	}
	env.KeepStyles, env.Overwrite = cmd.Bool("keep-styles"), cmd.Bool("overwrite")

	cfg := readerConfig(env)
	if cfg.Handles.Mode != common.HandleModeInline {
		// handles of other kinds do not outlive the program
		log.Info("Switching resource handles to inline", zap.Stringer("configured", cfg.Handles.Mode))
		cfg.Handles.Mode = common.HandleModeInline
	}

	s, err := session.Open(src, cfg, log)
	if err != nil {
		return fmt.Errorf("unable to open book: %w", err)
	}
	defer func() {
		err = multierr.Append(err, s.Close())
	}()

	target := selection{tocHref: cmd.String("toc"), index: -1}
	if cmd.IsSet("index") {
		target.index = int(cmd.Int("index"))
	}

	start := time.Now()
	p, err := prepare(ctx, s, target)
	if err != nil {
		return err
	}
	defer p.Release()

	log.Info("Chapter prepared",
		zap.Strings("documents", p.Documents),
		zap.Stringer("range", p.Range),
		zap.Int("missing", len(p.Missing)),
		zap.Duration("elapsed", time.Since(start)))
	for _, m := range p.Missing {
		log.Warn("Resource is missing from archive", zap.String("path", m))
	}

	if env.Rpt != nil {
		if err := env.Rpt.StoreCopy("source/"+filepath.Base(src), src); err != nil {
			log.Warn("Unable to store book in report", zap.Error(err))
		}
		env.Rpt.StoreData("chapter.html", []byte(p.Markup))
		env.Rpt.StoreData("cache.txt", []byte(debug.Cache(s.Cache().Snapshot())))
	}

	book := s.Book()
	name := outputName(epub.BookID(book.Metadata(), book.CoverPath(), filepath.Base(src)), target.suffix(p), ".html")
	out, dst, err := createOutput(env, cmd.Args().Get(1), name, log)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, out.Close())
	}()

	log.Info("Writing chapter", zap.String("file", dst))
	if _, err := io.WriteString(out, p.Markup); err != nil {
		return fmt.Errorf("unable to write chapter: %w", err)
	}
	return nil
}

// selection is what Chapter was asked for: spine index when not negative,
// toc entry otherwise (first entry when href is empty).
type selection struct {
	tocHref string
	index   int
}

func (sel selection) suffix(p *session.Prepared) string {
	if sel.index >= 0 {
		return fmt.Sprintf("%03d", sel.index)
	}
	if len(p.Documents) > 0 {
		name := filepath.Base(p.Documents[0])
		return strings.TrimSuffix(name, filepath.Ext(name))
	}
	return ""
}

func prepare(ctx context.Context, s *session.Session, sel selection) (*session.Prepared, error) {
	if sel.index >= 0 {
		docs := s.Book().SpineDocuments()
		if sel.index >= len(docs) {
			return nil, fmt.Errorf("spine index %d out of range, book has %d documents", sel.index, len(docs))
		}
		return s.NavigateSpine(ctx, sel.index)
	}

	h := sel.tocHref
	if h == "" {
		h = s.FirstTocHref()
	}
	if h == "" {
		if len(s.Book().SpineDocuments()) == 0 {
			return nil, errors.New("book has neither table of contents nor spine")
		}
		return s.NavigateSpine(ctx, 0)
	}
	return s.Navigate(ctx, h)
}

// Cover writes cover thumbnail.
func Cover(ctx context.Context, cmd *cli.Command) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	env := state.EnvFromContext(ctx)
	log := env.Log.Named("cover")

	src, err := sourceArg(cmd, log, 1)
	if err != nil {
		return err
	}
	env.Overwrite = cmd.Bool("overwrite")

	book, err := epub.Open(src, log)
	if err != nil {
		return fmt.Errorf("unable to open book: %w", err)
	}
	defer book.Close()

	img, err := cover.Extract(book)
	if err != nil {
		return err
	}
	c := env.Cfg.Reader.Cover
	data, err := cover.Thumbnail(img, cover.Options{Width: c.Width, Height: c.Height, Quality: c.Quality}, log)
	if err != nil {
		return err
	}

	name := outputName(epub.BookID(book.Metadata(), book.CoverPath(), filepath.Base(src)), "cover", ".jpg")
	out, dst, err := createOutput(env, cmd.Args().Get(1), name, log)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, out.Close())
	}()

	log.Info("Writing cover", zap.String("from", img.Path), zap.String("file", dst), zap.Int("size", len(data)))
	if _, err := out.Write(data); err != nil {
		return fmt.Errorf("unable to write cover: %w", err)
	}
	return nil
}

// Repair rewrites book archive so it could be opened by strict readers.
func Repair(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env := state.EnvFromContext(ctx)
	log := env.Log.Named("repair")

	src, err := sourceArg(cmd, log, 1)
	if err != nil {
		return err
	}
	dst := cmd.Args().Get(1)
	if dst == "" {
		return errors.New("no destination has been specified")
	}
	if dst, err = filepath.Abs(dst); err != nil {
		return err
	}
	if src == dst {
		return errors.New("source and destination must differ")
	}
	if _, err := os.Stat(dst); err == nil && !cmd.Bool("overwrite") {
		return fmt.Errorf("output file already exists: %s", dst)
	}

	log.Info("Repairing archive", zap.String("source", src), zap.String("destination", dst))
	return archive.Repair(src, dst, log)
}
