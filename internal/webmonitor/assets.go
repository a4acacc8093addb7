package webmonitor

import (
	"net/http"
	"os"
	"path/filepath"
)

// assetHandler serves dashboard static files from a directory. Only plain
// file names are served; nested paths are flattened to their base name.
type assetHandler struct {
	dir string
}

func newAssetHandler(dir string) *assetHandler {
	return &assetHandler{dir: dir}
}

func (h *assetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.dir == "" {
		http.NotFound(w, r)
		return
	}
	path := filepath.Join(h.dir, filepath.Base(r.URL.Path))
	if !fileExists(path) {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
