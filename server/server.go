// Package server exposes the hub over HTTP: the websocket endpoint, health and
// stats probes, and optionally the static web bundle.
package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Alexandr23/shared-canvas/domain"
	ws "github.com/Alexandr23/shared-canvas/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewRouter wires the hub endpoints. staticDir may be empty to disable
// serving the web bundle.
func NewRouter(b domain.Broadcaster, h domain.MessageHandler, staticDir string) *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests)

	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(wsHandler(h))
	r.Methods(http.MethodGet).Path("/health").HandlerFunc(healthHandler)
	r.Methods(http.MethodGet).Path("/stats").HandlerFunc(statsHandler(b))

	if staticDir != "" {
		r.Methods(http.MethodGet, http.MethodHead).PathPrefix("/").Handler(spaHandler{dir: staticDir})
	}
	return r
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		slog.Debug("handled", "method", r.Method, "url", r.URL, "duration", m.Duration, "status", m.Code)
	})
}

func wsHandler(h domain.MessageHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("upgrade error", "error", err)
			return
		}
		ws.NewConn(uuid.NewString(), conn, h).Start()
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func statsHandler(b domain.Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, identified, users := b.Stats()
		writeJSON(w, map[string]int{"sessions": sessions, "identified": identified, "users": users})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// spaHandler serves files from dir and falls back to index.html for any
// path that is not a file, so client-side routes resolve.
type spaHandler struct {
	dir string
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := filepath.Join(h.dir, filepath.FromSlash(path.Clean("/"+r.URL.Path)))

	info, err := os.Stat(name)
	switch {
	case errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()):
		http.ServeFile(w, r, filepath.Join(h.dir, "index.html"))
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		http.ServeFile(w, r, name)
	}
}
