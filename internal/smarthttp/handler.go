// Package smarthttp implements the Git Smart HTTP protocol (spec.md
// §4.11) atop pkt-line framing: info/refs capability advertisement,
// upload-pack (fetch) and receive-pack (push), wired directly to this
// repository's own object store, ref store, and packfile codec rather
// than a foreign object-format bridge.
package smarthttp

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/gitcellar/internal/objstore"
	"github.com/odvcencio/gitcellar/internal/refstore"
)

const (
	// maxReceivePackBytes bounds the ref-command list plus packfile body
	// of a single push.
	maxReceivePackBytes int64 = 256 << 20
	// maxUploadPackBytes bounds a fetch negotiation request (want/have
	// lines only — the response, a packfile, is unbounded streamed
	// output, not a request body).
	maxUploadPackBytes int64 = 8 << 20

	gitZeroHash = "0000000000000000000000000000000000000000"

	tracerName = "github.com/odvcencio/gitcellar/internal/smarthttp"
)

// AuthorizeFunc authorizes one Smart HTTP request against a single
// repository; write is true for receive-pack and the matching
// info/refs?service=git-receive-pack advertisement. A nil AuthorizeFunc
// (the zero Handler) permits every request, for use in tests and
// single-tenant deployments that authorize earlier in the stack.
type AuthorizeFunc func(r *http.Request) (status int, err error)

// Handler serves the three Smart HTTP routes over one repository's
// object store and ref store.
type Handler struct {
	objects objstore.Store
	refs    *refstore.Store

	authorizeRead  AuthorizeFunc
	authorizeWrite AuthorizeFunc

	logger  *slog.Logger
	metrics *metrics
	tracer  trace.Tracer

	walkSem int // max concurrent want-graph walks during upload-pack
}

// Option configures optional Handler behavior.
type Option func(*Handler)

// WithAuthorize sets the authorization hooks for read (upload-pack) and
// write (receive-pack) requests. Either may be nil to permit all such
// requests.
func WithAuthorize(read, write AuthorizeFunc) Option {
	return func(h *Handler) {
		h.authorizeRead = read
		h.authorizeWrite = write
	}
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithMetricsRegisterer registers the handler's Prometheus collectors
// against reg instead of the default registerer (tests pass a fresh
// prometheus.NewRegistry() to avoid cross-test collisions).
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(h *Handler) { h.metrics = newMetrics(reg) }
}

// WithWalkConcurrency bounds how many want-graph walks run concurrently
// while building an upload-pack response.
func WithWalkConcurrency(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.walkSem = n
		}
	}
}

const defaultWalkConcurrency = 8

// NewHandler returns a Handler serving objects and refs over the given
// stores.
func NewHandler(objects objstore.Store, refs *refstore.Store, opts ...Option) *Handler {
	h := &Handler{
		objects: objects,
		refs:    refs,
		logger:  slog.Default(),
		walkSem: defaultWalkConcurrency,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = newMetrics(prometheus.DefaultRegisterer)
	}
	return h
}

// RegisterRoutes mounts the three Smart HTTP endpoints on mux, rooted
// at the server's repository (this package serves a single repository
// per Handler; a multi-repo server mounts one Handler per subtree).
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /info/refs", h.handleInfoRefs)
	mux.HandleFunc("POST /git-upload-pack", h.handleUploadPack)
	mux.HandleFunc("POST /git-receive-pack", h.handleReceivePack)
}

// authorize runs the read or write authorization hook, writing a 401/403
// response itself and returning false if it fails.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, write bool) bool {
	fn := h.authorizeRead
	if write {
		fn = h.authorizeWrite
	}
	if fn == nil {
		return true
	}
	status, err := fn(r)
	if err == nil {
		return true
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="gitcellar"`)
	}
	h.metrics.authFailures.Inc()
	http.Error(w, err.Error(), status)
	return false
}

// normalizeRefName maps the ref name a pkt-line ref command carries to
// the ref store's storage name. The ref store addresses
// "refs/heads/main" directly, so this only trims surrounding whitespace
// and leaves any "refs/" prefix in place; it is kept for symmetry with
// advertiseRefName and to absorb any future storage-name divergence.
func normalizeRefName(name string) string {
	return strings.TrimSpace(name)
}

// advertiseRefName is the inverse of normalizeRefName for ref
// advertisement lines.
func advertiseRefName(name string) string {
	return strings.TrimSpace(name)
}

// isRequestTooLarge reports whether err originated from an
// http.MaxBytesReader body limit.
func isRequestTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// contentType builds the advertisement/result content type for service.
func contentType(service, suffix string) string {
	return fmt.Sprintf("application/x-%s-%s", service, suffix)
}
