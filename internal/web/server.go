// Package web serves the charger's local status page: a human HTML view at
// / and the machine-readable /index.json that tooling scrapes.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/dkronst/juiced/internal/status"
)

// Server serves status snapshots over HTTP. It never mutates state; the
// tracker is its only input.
type Server struct {
	srv     *http.Server
	tracker *status.Tracker
}

// New creates a Server reading from the given tracker.
func New(addr string, tracker *status.Tracker) *Server {
	s := &Server{tracker: tracker}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.index)
	mux.HandleFunc("/index.html", s.index)
	mux.HandleFunc("/index.json", s.indexJSON)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// index renders the HTML page. The mux routes every unregistered path here,
// so anything but the two page paths is a 404.
func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, s.tracker.Snapshot())
}

// indexJSON serves the same snapshot view the MQTT system events carry.
func (s *Server) indexJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(status.FormatJSON(s.tracker.Snapshot()))
}
