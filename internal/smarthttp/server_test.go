package smarthttp

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServerDispatchesToMatchingRepository(t *testing.T) {
	h, _, _ := newTestHandler(t)
	lookup := func(_ context.Context, owner, repo string) (*Handler, bool) {
		if owner == "acme" && repo == "widgets" {
			return h, true
		}
		return nil, false
	}
	s := NewServer(lookup)
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/acme/widgets/info/refs?service=git-upload-pack", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/x-git-upload-pack-advertisement", rec.Header().Get("Content-Type"))
}

func TestServerReturnsNotFoundForUnknownRepository(t *testing.T) {
	lookup := func(context.Context, string, string) (*Handler, bool) {
		return nil, false
	}
	s := NewServer(lookup, WithServerLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/ghost/repo/info/refs?service=git-upload-pack", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "unknown repository")
}

func TestServerRoutesDifferentReposToDifferentHandlers(t *testing.T) {
	first, _, _ := newTestHandler(t)
	second, _, _ := newTestHandler(t)
	lookup := func(_ context.Context, owner, repo string) (*Handler, bool) {
		switch {
		case owner == "a" && repo == "one":
			return first, true
		case owner == "b" && repo == "two":
			return second, true
		default:
			return nil, false
		}
	}
	s := NewServer(lookup)
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	for _, path := range []string{"/a/one/info/refs?service=git-upload-pack", "/b/two/info/refs?service=git-upload-pack"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

