// Package cover extracts book cover and produces JPEG thumbnails of it.
package cover

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"ketav/cache"
	"ketav/epub"
	"ketav/utils/images"
)

// ErrNoCover is returned for books without cover image.
var ErrNoCover = errors.New("book has no cover")

// Options of thumbnail.
type Options struct {
	Width   int
	Height  int
	Quality int
}

// Image is cover image as stored in the book.
type Image struct {
	Path      string
	MediaType string
	Data      []byte
}

// Extract returns cover image of book.
func Extract(book *epub.Book) (*Image, error) {
	p := book.CoverPath()
	if p == "" {
		return nil, ErrNoCover
	}
	data, err := book.ReadBytes(p)
	if err != nil {
		return nil, fmt.Errorf("unable to read cover: %w", err)
	}
	return &Image{Path: p, MediaType: cache.MediaType(p, book.MediaTypeOf(p), data), Data: data}, nil
}

// Thumbnail decodes image (JPEG, PNG, GIF, WebP or SVG), fits it into
// requested box and encodes result as JPEG. Images are never upscaled.
func Thumbnail(img *Image, opts Options, log *zap.Logger) ([]byte, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var (
		src image.Image
		err error
	)
	if img.MediaType == "image/svg+xml" {
		src, err = images.RasterizeSVG(img.Data, opts.Width, opts.Height)
	} else {
		src, err = imaging.Decode(bytes.NewReader(img.Data), imaging.AutoOrientation(true))
	}
	if err != nil {
		return nil, fmt.Errorf("unable to decode cover '%s' (%s): %w", img.Path, img.MediaType, err)
	}

	b := src.Bounds()
	w, h := images.FitBox(b.Dx(), b.Dy(), opts.Width, opts.Height)
	if w < b.Dx() || h < b.Dy() {
		src = imaging.Resize(src, w, h, imaging.Lanczos)
	}
	log.Debug("Cover thumbnail",
		zap.String("path", img.Path),
		zap.String("type", img.MediaType),
		zap.Stringer("source", b.Size()),
		zap.Stringer("result", src.Bounds().Size()))

	return images.EncodeJPEG(src, opts.Quality)
}
