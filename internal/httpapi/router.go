// Package httpapi assembles the gateway's HTTP surface: the chi router, the
// wildcard CORS policy, the host-based project routing, the /health probe,
// the /internal/* operator surface and the fx-managed HTTP server.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gostratum/ingestgw/internal/downloadgw"
	"github.com/gostratum/ingestgw/internal/hostrouter"
	"github.com/gostratum/ingestgw/internal/tusengine"
)

// NewRouter wires the full client-facing and operator surface. Per-route
// project/main-domain policy lives in the handlers themselves; the router
// only decides paths and verbs.
func NewRouter(hr *hostrouter.Router, engine *tusengine.Engine, downloads *downloadgw.Gateway, internal *InternalAPI, version string) http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware)
	r.Use(hr.Middleware)

	r.Get("/health", healthHandler(version))

	r.MethodFunc(http.MethodOptions, "/ingest/tus", engine.HandleOptions)
	r.MethodFunc(http.MethodPost, "/ingest/tus", engine.HandleCreate)
	r.MethodFunc(http.MethodOptions, "/ingest/tus/{id}", engine.HandleOptions)
	r.MethodFunc(http.MethodHead, "/ingest/tus/{id}", engine.HandleHead)
	r.MethodFunc(http.MethodPatch, "/ingest/tus/{id}", engine.HandlePatch)
	r.MethodFunc(http.MethodDelete, "/ingest/tus/{id}", engine.HandleDelete)

	r.Get("/f/{accessKey}", downloads.HandleDownload)

	r.Delete("/internal/delete/*", internal.HandleDelete)
	r.Post("/internal/list", internal.HandleList)
	r.Post("/internal/get-metadata/*", internal.HandleGetMetadata)
	r.Get("/internal/healthz", internal.HandleHealthz)

	return r
}

// healthHandler reports liveness and the running version. It answers on
// every host, project subdomains included.
func healthHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version})
	}
}
