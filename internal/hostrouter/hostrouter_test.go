package hostrouter_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gostratum/ingestgw/internal/controlplane"
	"github.com/gostratum/ingestgw/internal/hostrouter"
)

type fakeResolver struct {
	projects map[string]*controlplane.Project
}

func (f *fakeResolver) LookupProjectBySlug(ctx context.Context, slug string) (*controlplane.Project, error) {
	if p, ok := f.projects[slug]; ok {
		return p, nil
	}
	return nil, controlplane.ErrNotFound
}

func TestParseHost(t *testing.T) {
	rt := hostrouter.New("example.com", &fakeResolver{}, nil)

	tests := []struct {
		host       string
		wantSlug   string
		wantIsMain bool
	}{
		{"acme.example.com", "acme", false},
		{"acme.example.com:8443", "acme", false},
		{"example.com", "", true},
		{"other.org", "", true},
		{"ACME.EXAMPLE.COM", "acme", false},
	}

	for _, tt := range tests {
		slug, isMain := rt.ParseHost(tt.host)
		require.Equal(t, tt.wantSlug, slug, tt.host)
		require.Equal(t, tt.wantIsMain, isMain, tt.host)
	}
}

func TestValidSlug(t *testing.T) {
	require.True(t, hostrouter.ValidSlug("acme"))
	require.True(t, hostrouter.ValidSlug("my-project-1"))
	require.False(t, hostrouter.ValidSlug("ab"))
	require.False(t, hostrouter.ValidSlug("-leading"))
	require.False(t, hostrouter.ValidSlug("trailing-"))
	require.False(t, hostrouter.ValidSlug("Has_Upper"))
}

func TestMiddleware_ResolvesProject(t *testing.T) {
	resolver := &fakeResolver{projects: map[string]*controlplane.Project{
		"acme": {ID: "proj1", Slug: "acme", DefaultFileAccess: "private"},
	}}
	rt := hostrouter.New("example.com", resolver, nil)

	var gotCtx hostrouter.ProjectContext
	handler := rt.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCtx, _ = hostrouter.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/f/abc", nil)
	req.Host = "acme.example.com"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "proj1", gotCtx.ProjectID)
	require.False(t, gotCtx.IsMainDomain)
}

func TestMiddleware_UnknownSlugIs404(t *testing.T) {
	rt := hostrouter.New("example.com", &fakeResolver{}, nil)
	handler := rt.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/f/abc", nil)
	req.Host = "missing.example.com"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMiddleware_MainDomainPassesThrough(t *testing.T) {
	rt := hostrouter.New("example.com", &fakeResolver{}, nil)
	var gotCtx hostrouter.ProjectContext
	handler := rt.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCtx, _ = hostrouter.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal/list", nil)
	req.Host = "example.com"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, gotCtx.IsMainDomain)
}

func TestMiddleware_MethodOverride(t *testing.T) {
	rt := hostrouter.New("example.com", &fakeResolver{}, nil)
	var gotMethod string
	handler := rt.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/ingest/tus/abc", nil)
	req.Host = "example.com"
	req.Header.Set("X-HTTP-Method-Override", "PATCH")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.MethodPatch, gotMethod)
}

func TestMiddleware_IgnoresUnsupportedOverride(t *testing.T) {
	rt := hostrouter.New("example.com", &fakeResolver{}, nil)
	var gotMethod string
	handler := rt.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/ingest/tus", nil)
	req.Host = "example.com"
	req.Header.Set("X-HTTP-Method-Override", "PUT")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.MethodPost, gotMethod)
}
