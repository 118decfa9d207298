package routes

import (
	"net/http"

	"RaspiSensing.scylla/internal/controller"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
)

// Options configures the route table.
type Options struct {
	// IngestPath is the POST route readings are posted to.
	IngestPath string
	// IngestGuard wraps the ingestion route, e.g. with a token check. Nil
	// leaves the route open.
	IngestGuard func(http.Handler) http.Handler
}

// SetupRouter registers all application routes.
func SetupRouter(c *controller.ReadingController, opts Options) *mux.Router {
	router := mux.NewRouter()

	var ingest http.Handler = http.HandlerFunc(c.HandlePostReading)
	if opts.IngestGuard != nil {
		ingest = opts.IngestGuard(ingest)
	}
	router.Handle(opts.IngestPath, ingest).Methods(http.MethodPost)

	router.HandleFunc("/ping", c.HandlePing).Methods(http.MethodGet)
	router.Handle("/{name}/temp", gzhttp.GzipHandler(http.HandlerFunc(c.HandleLatest))).Methods(http.MethodGet)
	router.Handle("/{name}/hist", gzhttp.GzipHandler(http.HandlerFunc(c.HandleHistory))).Methods(http.MethodGet)

	return router
}
