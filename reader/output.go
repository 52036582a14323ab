package reader

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"ketav/config"
	"ketav/state"
)

// nopCloser keeps STDOUT open.
type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// createOutput opens destination for writing. Empty dst means STDOUT.
// Directory destination gets file named after the book. Existing files are
// replaced only when overwrite was requested.
func createOutput(env *state.LocalEnv, dst, defaultName string, log *zap.Logger) (io.WriteCloser, string, error) {
	if dst == "" {
		return nopCloser{os.Stdout}, "STDOUT", nil
	}

	dst, err := filepath.Abs(dst)
	if err != nil {
		return nil, "", err
	}
	if fi, err := os.Stat(dst); err == nil && fi.IsDir() {
		dst = filepath.Join(dst, defaultName)
	}

	if _, err := os.Stat(dst); err == nil {
		if !env.Overwrite {
			return nil, "", fmt.Errorf("output file already exists: %s", dst)
		}
		log.Warn("Overwriting existing file", zap.String("file", dst))
	} else if !os.IsNotExist(err) {
		return nil, "", err
	} else if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, "", fmt.Errorf("unable to create output directory: %w", err)
	}

	f, err := os.Create(dst)
	if err != nil {
		return nil, "", fmt.Errorf("unable to create destination file '%s': %w", dst, err)
	}
	return f, dst, nil
}

// outputName builds file name from book id and optional suffix.
func outputName(bookID, suffix, ext string) string {
	name := bookID
	if suffix != "" {
		name += "-" + slug.Make(suffix)
	}
	name = strings.Trim(name, "-")
	if name == "" {
		name = "book"
	}
	return config.CleanFileName(name + ext)
}
