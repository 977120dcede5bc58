package web

import (
	"net/http"
	"path"
	"strings"
)

// handleStatic serves /web/<file> from the static directory. Directories
// and missing files are 404; without a static directory every request is.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if s.staticDir == "" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// http.Dir rejects ".." after cleaning, so names cannot leave the
	// directory.
	name := path.Clean("/" + strings.TrimPrefix(r.URL.Path, "/web/"))
	f, err := http.Dir(s.staticDir).Open(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
