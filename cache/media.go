package cache

import (
	"path"
	"strings"

	"github.com/h2non/filetype"
)

const octetStream = "application/octet-stream"

var extMediaTypes = map[string]string{
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".png":   "image/png",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".avif":  "image/avif",
	".svg":   "image/svg+xml",
	".svgz":  "image/svg+xml",
	".bmp":   "image/bmp",
	".css":   "text/css",
	".xhtml": "application/xhtml+xml",
	".html":  "text/html",
	".htm":   "text/html",
	".mp4":   "video/mp4",
	".webm":  "video/webm",
	".mp3":   "audio/mpeg",
	".m4a":   "audio/mp4",
	".ogg":   "audio/ogg",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".otf":   "font/otf",
}

// MediaType infers media type of resource at p: declared (manifest) type
// first, then file extension, then content sniffing. Falls back to
// application/octet-stream.
func MediaType(p, declared string, data []byte) string {
	if declared = strings.TrimSpace(declared); declared != "" {
		return declared
	}
	if mt, ok := extMediaTypes[strings.ToLower(path.Ext(p))]; ok {
		return mt
	}
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown && kind.MIME.Value != "" {
		return kind.MIME.Value
	}
	return octetStream
}

// extension returns file name extension suitable for resource, used to name
// handle files.
func extension(p, mediaType string) string {
	if ext := path.Ext(p); ext != "" && len(ext) <= 6 {
		return strings.ToLower(ext)
	}
	for ext, mt := range extMediaTypes {
		if mt == mediaType && ext != ".jpeg" && ext != ".htm" && ext != ".svgz" {
			return ext
		}
	}
	return ".bin"
}
