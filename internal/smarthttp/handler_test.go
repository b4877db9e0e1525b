package smarthttp

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/gitcellar/internal/objstore"
	"github.com/odvcencio/gitcellar/internal/pktline"
	"github.com/odvcencio/gitcellar/internal/refstore"
)

func newTestHandler(t *testing.T) (*Handler, objstore.Store, *refstore.Store) {
	t.Helper()
	objects := objstore.NewLoose()
	refs := refstore.New(refstore.NewFSBackend(t.TempDir()))
	h := NewHandler(objects, refs, WithMetricsRegisterer(prometheus.NewRegistry()))
	return h, objects, refs
}

func readPktLines(t *testing.T, body []byte) []string {
	t.Helper()
	pr := pktline.NewReader(bytes.NewReader(body))
	lines, err := pr.ReadAll()
	require.NoError(t, err)
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = string(l)
	}
	return out
}

func TestInfoRefsEmptyRepoAdvertisesZeroID(t *testing.T) {
	h, _, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/info/refs?service=git-upload-pack", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/x-git-upload-pack-advertisement", rec.Header().Get("Content-Type"))
	lines := readPktLines(t, rec.Body.Bytes())
	require.Contains(t, lines[0], "# service=git-upload-pack")
	require.Contains(t, lines[1], "capabilities^{}")
	require.Contains(t, lines[1], strings.Repeat("0", 40))
}

func TestInfoRefsRejectsUnknownService(t *testing.T) {
	h, _, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/info/refs?service=bogus", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInfoRefsHonorsAuthorizeFailure(t *testing.T) {
	objects := objstore.NewLoose()
	refs := refstore.New(refstore.NewFSBackend(t.TempDir()))
	denied := func(r *http.Request) (int, error) {
		return http.StatusUnauthorized, errUnauthorizedForTest
	}
	h := NewHandler(objects, refs,
		WithMetricsRegisterer(prometheus.NewRegistry()),
		WithAuthorize(denied, denied))
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/info/refs?service=git-upload-pack", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
}

type testError string

func (e testError) Error() string { return string(e) }

const errUnauthorizedForTest = testError("not authorized")
