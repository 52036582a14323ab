package config

import (
	"os"
	"strings"
)

// CleanFileName drops characters file system would reject (path separators
// included) and leading dots, so name could not become hidden or relative.
func CleanFileName(in string) string {
	reserved := reservedNameChars + string(os.PathSeparator) + string(os.PathListSeparator)
	out := strings.TrimLeft(strings.Map(func(r rune) rune {
		if strings.ContainsRune(reserved, r) {
			return -1
		}
		return r
	}, in), ".")
	if out == "" {
		out = "_bad_file_name_"
	}
	return out
}
