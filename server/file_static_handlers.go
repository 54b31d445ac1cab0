package server

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"
)

const indexFile = "index.html"

// loadIndex reads the console's entry document from the build, falling back
// to the embedded placeholder when the build has none.
func loadIndex(fsys fs.FS) ([]byte, error) {
	data, err := fs.ReadFile(fsys, indexFile)
	if errors.Is(err, fs.ErrNotExist) {
		return fs.ReadFile(TemplateFilesFS(), indexFile)
	}
	return data, err
}

// assetName maps a request path to a file in the build, or "" when the path
// is a console route rather than a file.
func assetName(fsys fs.FS, urlPath string) string {
	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if name == "" || name == indexFile || !fs.ValidPath(name) {
		return ""
	}
	info, err := fs.Stat(fsys, name)
	if err != nil || info.IsDir() {
		return ""
	}
	return name
}

// StreamFile writes a file from fsys with its content type
func StreamFile(w http.ResponseWriter, r *http.Request, fsys fs.FS, fileName string) error {
	data, err := fs.ReadFile(fsys, fileName)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", fileName, err)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	ctype := mime.TypeByExtension(ext)
	if ctype == "" {
		// Fallback for unknown extensions
		ctype = http.DetectContentType(data)
	}
	// Ensure UTF-8 for text types when not present
	if strings.HasPrefix(ctype, "text/") && !strings.Contains(strings.ToLower(ctype), "charset=") {
		ctype += "; charset=utf-8"
	}
	w.Header().Set("Content-Type", ctype)
	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write %s content: %w", fileName, err)
	}
	return nil
}
