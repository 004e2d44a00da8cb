// It defines the API server, sets up the routes (endpoints)
// using chi, and links them to the handler functions.

package api

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vrsandeep/mailpulse/internal/core"
	"github.com/vrsandeep/mailpulse/internal/snapshot"
	"github.com/vrsandeep/mailpulse/internal/store"
	"github.com/vrsandeep/mailpulse/internal/stream"
)

// Server holds the dependencies for our API.
type Server struct {
	app    *core.App
	store  *store.Store
	logger *zap.Logger
}

// NewServer creates a new Server instance.
func NewServer(app *core.App) *Server {
	return &Server{
		app:    app,
		store:  app.Store(),
		logger: app.Logger().Named("http"),
	}
}

// Store returns the store instance.
func (s *Server) Store() *store.Store {
	return s.store
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(s.logger))
	r.Use(middleware.Recoverer)

	// The progress stream is long-lived and must stay outside the timeout.
	r.Get(stream.StreamPath, s.app.WsHub().ServeWs)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get(snapshot.Path, s.handleProcessedEmails)
		r.Route("/api", func(r chi.Router) {
			r.Get("/health", s.handleHealth)
			r.Get("/jobs/status", s.handleGetJobsStatus)
			r.Post("/jobs/run", s.handleRunJob)
		})
		r.Handle("/metrics", promhttp.HandlerFor(s.app.Registry(), promhttp.HandlerOpts{}))

		prefix := s.app.Config().Media.URLPrefix
		if prefix == "" {
			prefix = store.DefaultMediaURLPrefix
		}
		FileServer(r, prefix, noDirFS{http.Dir(s.app.Config().Media.Path)})
	})

	return r
}

// FileServer conveniently sets up a static file server that doesn't list directories.
func FileServer(r chi.Router, path string, root http.FileSystem) {
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	fs := http.StripPrefix(path, http.FileServer(root))
	r.Get(path+"*", func(w http.ResponseWriter, r *http.Request) {
		fs.ServeHTTP(w, r)
	})
}

// noDirFS hides directories so the file server answers 404 instead of a
// listing.
type noDirFS struct {
	fs http.FileSystem
}

func (n noDirFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
