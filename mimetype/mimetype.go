// Package mimetype resolves file extensions to content types for static responses.
package mimetype

import (
	"path"
	"strings"
)

// DefaultType is returned for extensions with no table entry.
const DefaultType = "application/octet-stream"

// builtin covers the file types the GUI bundle ships. Config can add or
// override entries via NewTable.
var builtin = map[string]string{
	".html":  "text/html",
	".htm":   "text/html",
	".css":   "text/css",
	".js":    "application/javascript",
	".mjs":   "application/javascript",
	".json":  "application/json",
	".map":   "application/json",
	".xml":   "application/xml",
	".txt":   "text/plain",
	".svg":   "image/svg+xml",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".ico":   "image/x-icon",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".eot":   "application/vnd.ms-fontobject",
	".wasm":  "application/wasm",
	".pdf":   "application/pdf",
	".zip":   "application/zip",
	".gz":    "application/gzip",
	".mp4":   "video/mp4",
	".webm":  "video/webm",
	".mp3":   "audio/mpeg",
}

// Table maps file extensions (with the leading dot) to content types.
// Built once at startup and read-only afterwards.
type Table struct {
	byExt map[string]string
}

// NewTable builds a table from the built-in entries with overrides applied
// on top. Override keys are normalised to lower case with a leading dot.
func NewTable(overrides map[string]string) *Table {
	byExt := make(map[string]string, len(builtin)+len(overrides))
	for ext, ct := range builtin {
		byExt[ext] = ct
	}
	for ext, ct := range overrides {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		byExt[ext] = ct
	}
	return &Table{byExt: byExt}
}

// Lookup returns the content type for the file name's extension, or
// DefaultType when the extension is unknown or missing.
func (t *Table) Lookup(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ct, ok := t.byExt[ext]; ok {
		return ct
	}
	return DefaultType
}
