package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/session"
	"github.com/nestormc/nestor/ui"
)

// reloadPatch is answered to round-trips of sessions that no longer exist.
const reloadPatch = "location.reload();"

func (s *Server) handleUI(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path != "/" && path != "/ui" && !strings.HasPrefix(path, "/ui/") {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not-found"})
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method-not-allowed"})
		return
	}

	parts, err := segments(r, "/ui/")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if path == "/" || path == "/ui" || len(parts) == 0 || (len(parts) == 1 && parts[0] == "") {
		s.servePage(w, r)
		return
	}

	sess, fresh, err := s.sessions.Resolve(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if fresh {
		s.logger.Debug("Round-trip without a live session, reloading", "path", path)
		writeJSON(w, http.StatusOK, map[string]string{"op": reloadPatch})
		return
	}

	switch parts[0] {
	case "update":
		s.uiUpdate(w, r, sess, parts[1:])
	case "handler":
		s.uiHandler(w, r, sess, parts[1:])
	case "drop":
		s.uiDrop(w, r, sess, parts[1:])
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not-found"})
	}
}

func (s *Server) servePage(w http.ResponseWriter, r *http.Request) {
	sess, _, err := s.sessions.Resolve(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := sess.Output().RenderPage(r.Context(), w); err != nil {
		s.logger.Error("Page render failed", "session", shortID(sess.ID()), "error", err)
	}
}

// uiUpdate runs Update on a comma separated list of element ids.
func (s *Server) uiUpdate(w http.ResponseWriter, r *http.Request, sess *session.Session, args []string) {
	if len(args) != 1 || args[0] == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid-request"})
		return
	}
	// segments already unescaped the whole segment; ids themselves never
	// contain commas.
	ids := strings.Split(args[0], ",")
	data, err := sess.Output().UpdatePatch(r.Context(), ids)
	s.writePatch(w, r, sess, data, err)
}

// uiHandler calls /ui/handler/<id>/<arg>.
func (s *Server) uiHandler(w http.ResponseWriter, r *http.Request, sess *session.Session, args []string) {
	if len(args) < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid-request"})
		return
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid-request"})
		return
	}
	if !sess.Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate-limited"})
		return
	}
	arg := strings.Join(args[1:], "/")
	data, err := sess.Output().HandlerPatch(r.Context(), id, arg)
	s.writePatch(w, r, sess, data, err)
}

// uiDrop calls /ui/drop/<id>/<where>/<target>/<objref>.
func (s *Server) uiDrop(w http.ResponseWriter, r *http.Request, sess *session.Session, args []string) {
	if len(args) < 4 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid-request"})
		return
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid-request"})
		return
	}
	if !sess.Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate-limited"})
		return
	}
	where, target := args[1], args[2]
	objref := strings.Join(args[3:], "/")
	data, err := sess.Output().DropPatch(r.Context(), id, where, target, objref)
	s.writePatch(w, r, sess, data, err)
}

// writePatch answers a round-trip. A session without a built page, as
// after a restart, gets the reload patch. Ops recorded before a handler
// failure stay queued and reach the browser with the next patch.
func (s *Server) writePatch(w http.ResponseWriter, r *http.Request, sess *session.Session, data []byte, err error) {
	switch {
	case errors.Is(err, ui.ErrNoPage):
		s.logger.Debug("Round-trip to a session without a page, reloading", "session", shortID(sess.ID()))
		writeJSON(w, http.StatusOK, map[string]string{"op": reloadPatch})
		return
	case errors.Is(err, ui.ErrUnknownHandler):
		s.logger.Debug("Unknown UI handler", "session", shortID(sess.ID()), "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown-handler"})
		return
	case err != nil:
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

// shortID keeps session ids out of the logs.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
