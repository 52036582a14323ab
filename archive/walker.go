// Package archive builds Walk abstraction on top of "archive/zip" and keeps
// helpers for e-book containers which are plain zip archives.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrUnsafePath is returned for entries which could escape archive root.
var ErrUnsafePath = errors.New("unsafe path (absolute or contains path traversal)")

// WalkFunc is the type of the function called for each file in archive
// visited by Walk. The archive argument contains path to archive passed to Walk
// (empty when walking already opened reader). The file argument is the
// zip.File structure for file in archive which satisfies match condition. If
// an error is returned, processing stops.
type WalkFunc func(archive string, file *zip.File) error

// Walk opens archive and walks all files in it which satisfy match condition,
// calling walkFn for each item.
func Walk(archive, pattern string, walkFn WalkFunc) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer r.Close()

	return walk(archive, &r.Reader, pattern, walkFn)
}

// WalkReader is Walk for an archive which is already open.
func WalkReader(zr *zip.Reader, pattern string, walkFn WalkFunc) error {
	return walk("", zr, pattern, walkFn)
}

// walk refuses archives with path traversal components ("..") or absolute
// entry names to prevent Zip Slip attacks, directories are skipped.
func walk(archive string, zr *zip.Reader, pattern string, walkFn WalkFunc) error {
	for _, f := range zr.File {
		name := f.FileHeader.Name
		if !IsSafePath(name) {
			return fmt.Errorf("zip entry %q: %w", name, ErrUnsafePath)
		}
		if !f.FileInfo().IsDir() && strings.HasPrefix(name, pattern) {
			if err := walkFn(archive, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsSafePath returns false for paths that could escape the archive root:
// absolute paths and those containing ".." components.
func IsSafePath(name string) bool {
	if path.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return false
	}
	for part := range strings.SplitSeq(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
