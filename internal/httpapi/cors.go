package httpapi

import (
	"net/http"
	"strings"
)

// allowHeaders is every header the upload protocol and the override escape
// hatch send.
const allowHeaders = "Origin, X-Requested-With, Content-Type, Upload-Length, Upload-Offset, Upload-Defer-Length, Upload-Metadata, Tus-Resumable, X-HTTP-Method-Override"

// exposeHeaders mirrors the response surface plus the Tus-* capability
// headers.
const exposeHeaders = "Upload-Offset, Location, Upload-Length, Upload-Defer-Length, Upload-Metadata, Upload-Expires, Tus-Version, Tus-Resumable, Tus-Max-Size, Tus-Extension, Content-Range, Content-Disposition, ETag, Accept-Ranges"

// corsMiddleware applies the wildcard CORS policy to every response:
// allow-origin *, all verbs, the full upload-protocol header set, max-age
// 86400, credentials omitted. Preflight requests outside the upload surface
// are answered here; OPTIONS on /ingest/tus falls through to the protocol
// engine, which owns capability discovery.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, HEAD, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", allowHeaders)
		h.Set("Access-Control-Expose-Headers", exposeHeaders)
		h.Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions && !strings.HasPrefix(r.URL.Path, "/ingest/tus") {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
