// Package blueprint exposes every collection of an ontology as a REST resource:
//
//	GET    /{model}        find, with where, populate, sort, limit and skip parameters
//	GET    /{model}/{id}   findOne by primary key
//	POST   /{model}        create
//	PATCH  /{model}/{id}   set attributes and save
//	DELETE /{model}/{id}   destroy
//
// Records are always rendered through their model's ToJSON hook.
package blueprint

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/conduit-lang/waterline/internal/orm/ontology"
)

// Options configures the router
type Options struct {
	// Prefix is mounted in front of every route, e.g. "/api"
	Prefix string

	// Logger receives one entry per request. Nil disables request logging.
	Logger *zap.Logger
}

type blueprint struct {
	ontology *ontology.Ontology
	logger   *zap.Logger
}

// NewRouter builds the REST routes for every collection in o
func NewRouter(o *ontology.Ontology, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bp := &blueprint{ontology: o, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	routes := func(r chi.Router) {
		r.Get("/", bp.index)
		r.Route("/{model}", func(r chi.Router) {
			r.Get("/", bp.find)
			r.Post("/", bp.create)
			r.Get("/{id}", bp.findOne)
			r.Patch("/{id}", bp.update)
			r.Delete("/{id}", bp.destroy)
		})
	}

	if opts.Prefix != "" {
		r.Route(opts.Prefix, routes)
	} else {
		routes(r)
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		renderError(w, http.StatusNotFound, "no route for "+req.Method+" "+req.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		renderError(w, http.StatusMethodNotAllowed, req.Method+" is not allowed on "+req.URL.Path)
	})

	return r
}
