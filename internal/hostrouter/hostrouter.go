// Package hostrouter resolves the Host header of an inbound request to a
// project: the subdomain label strips the configured base domain to a slug,
// which is resolved against the control-plane; a missing or equal-length
// label means "main domain", reserved for the operator surface. It is
// implemented as net/http middleware (header-driven decision, method
// override rewrite in place), composed with chi's middleware chaining.
package hostrouter

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/gostratum/core/logx"
	"github.com/gostratum/ingestgw/internal/apierr"
	"github.com/gostratum/ingestgw/internal/controlplane"
)

// slugPattern enforces the subdomain slug shape: 3-63 chars,
// [a-z0-9]([a-z0-9-]{1,61})[a-z0-9].
var slugPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{1,61})[a-z0-9]$`)

// ProjectContext is the typed request context the router attaches,
// carrying {projectSlug?, projectId?, defaultFileAccess?}.
type ProjectContext struct {
	// IsMainDomain is true when the Host header carried no project label
	// (or one no shorter than the base domain itself).
	IsMainDomain bool

	ProjectSlug       string
	ProjectID         string
	DefaultFileAccess string
}

// IsPublicByDefault reports whether files in this project default to
// public access.
func (p ProjectContext) IsPublicByDefault() bool {
	return p.DefaultFileAccess == "public"
}

type contextKey struct{}

// WithProject returns a context carrying pc, as Router.Middleware attaches
// it. Handler tests use this to run without a router in front.
func WithProject(ctx context.Context, pc ProjectContext) context.Context {
	return context.WithValue(ctx, contextKey{}, pc)
}

// FromContext retrieves the ProjectContext attached by Router.Middleware.
// ok is false if no router middleware ran (e.g. in a unit test that calls a
// handler directly).
func FromContext(ctx context.Context) (ProjectContext, bool) {
	pc, ok := ctx.Value(contextKey{}).(ProjectContext)
	return pc, ok
}

// ProjectResolver is the subset of controlplane.Client the router needs,
// narrowed for testability.
type ProjectResolver interface {
	LookupProjectBySlug(ctx context.Context, slug string) (*controlplane.Project, error)
}

// Router resolves Host headers to projects and rewrites method-override
// requests.
type Router struct {
	baseDomain string
	resolver   ProjectResolver
	logger     logx.Logger
}

// New creates a Router. baseDomain must not carry a scheme
// (WORKER_DOMAIN).
func New(baseDomain string, resolver ProjectResolver, logger logx.Logger) *Router {
	if logger == nil {
		logger = logx.NewNoopLogger()
	}
	return &Router{baseDomain: strings.ToLower(baseDomain), resolver: resolver, logger: logger}
}

// ParseHost strips the trailing ".{baseDomain}" from host to derive the
// project slug. It reports (slug, isMainDomain). host may carry a port,
// which is stripped first.
func (rt *Router) ParseHost(host string) (slug string, isMainDomain bool) {
	host = strings.ToLower(host)
	if idx := strings.IndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}

	suffix := "." + rt.baseDomain
	if !strings.HasSuffix(host, suffix) || len(host) <= len(suffix) {
		return "", true
	}

	label := host[:len(host)-len(suffix)]
	if label == "" {
		return "", true
	}
	return label, false
}

// ValidSlug reports whether slug matches the required subdomain shape.
func ValidSlug(slug string) bool {
	return len(slug) >= 3 && len(slug) <= 63 && slugPattern.MatchString(slug)
}

// Middleware resolves the Host header and rewrites X-HTTP-Method-Override
// before handing off to next. Unknown/invalid slugs short-circuit with 404
// project_not_found; the main domain passes through unconditionally (its
// routes, e.g. /internal/* and /health, do their own authorization).
func (rt *Router) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if override := r.Header.Get("X-HTTP-Method-Override"); override != "" {
			switch strings.ToUpper(override) {
			case http.MethodPatch, http.MethodDelete, http.MethodHead:
				r.Method = strings.ToUpper(override)
			}
		}

		slug, isMain := rt.ParseHost(r.Host)
		if isMain {
			ctx := context.WithValue(r.Context(), contextKey{}, ProjectContext{IsMainDomain: true})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if !ValidSlug(slug) {
			apierr.Write(w, apierr.New(apierr.CodeProjectNotFound, "project not found"))
			return
		}

		project, err := rt.resolver.LookupProjectBySlug(r.Context(), slug)
		if err != nil {
			rt.logger.Warn("project lookup failed", logx.String("slug", slug), logx.Err(err))
			apierr.Write(w, apierr.New(apierr.CodeProjectNotFound, "project not found"))
			return
		}

		pc := ProjectContext{
			ProjectSlug:       slug,
			ProjectID:         project.ID,
			DefaultFileAccess: project.DefaultFileAccess,
		}
		ctx := context.WithValue(r.Context(), contextKey{}, pc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
