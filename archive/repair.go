package archive

import (
	"fmt"
	"os"

	fixzip "github.com/hidez8891/zip"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Repair copies archive entry by entry, dropping data descriptors. Some
// readers refuse e-books whose local headers do not carry sizes (typical for
// archives produced by streaming zip writers). The mimetype entry is moved
// to the front when it is not there already.
func Repair(from, to string, log *zap.Logger) (err error) {
	if log == nil {
		log = zap.NewNop()
	}

	r, err := fixzip.OpenReader(from)
	if err != nil {
		return fmt.Errorf("unable to read archive file (%s): %w", from, err)
	}
	defer r.Close()

	out, err := os.Create(to)
	if err != nil {
		return fmt.Errorf("unable to create target file (%s): %w", to, err)
	}
	defer func() {
		err = multierr.Append(err, out.Close())
	}()

	w := fixzip.NewWriter(out)

	ordered := make([]*fixzip.File, 0, len(r.File))
	for _, file := range r.File {
		if !IsSafePath(file.Name) {
			w.Close()
			return fmt.Errorf("zip entry %q: %w", file.Name, ErrUnsafePath)
		}
		if file.Name == "mimetype" {
			ordered = append([]*fixzip.File{file}, ordered...)
			continue
		}
		ordered = append(ordered, file)
	}

	var fixed int
	for _, file := range ordered {
		if file.Flags&fixzip.FlagDataDescriptor != 0 {
			fixed++
		}
		// unset data descriptor flag.
		file.Flags &= ^fixzip.FlagDataDescriptor

		// copy zip entry
		if err := w.CopyFile(file); err != nil {
			w.Close()
			return fmt.Errorf("unable to write target file (%s): %w", to, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("unable to finalize target file (%s): %w", to, err)
	}

	log.Debug("Archive repaired", zap.String("from", from), zap.String("to", to),
		zap.Int("entries", len(ordered)), zap.Int("descriptors", fixed))
	return nil
}
