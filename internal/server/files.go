package server

import (
	"net/http"
	"path"
	"strings"
)

const filesPrefix = "/files/"

// handleFiles serves stored files read-only under /files/. Directories,
// missing files and any path with a dot-prefixed segment get the plain
// 404 so the scratch directory and dotfiles stay invisible.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + strings.TrimPrefix(r.URL.Path, filesPrefix))
	if name == "/" || hasHiddenSegment(name) {
		notFound(w, r)
		return
	}

	f, err := http.Dir(s.root).Open(name)
	if err != nil {
		notFound(w, r)
		return
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil || st.IsDir() {
		notFound(w, r)
		return
	}

	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}

func hasHiddenSegment(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
