package smarthttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// RepoLookup resolves an {owner}/{repo} path segment pair from an
// incoming request into the Handler serving that repository's storage.
// ok is false for a repository the server doesn't know about, which
// Server reports as a 404.
type RepoLookup func(ctx context.Context, owner, repo string) (h *Handler, ok bool)

// Server mounts many repositories' Smart HTTP endpoints behind one
// process, routing on the {owner}/{repo} path prefix the way the
// teacher's gitinterop protocol layer does, and delegating the matched
// request to that repository's own Handler (its own object store, ref
// store, and authorization hooks).
type Server struct {
	lookup RepoLookup
	logger *slog.Logger
}

// ServerOption configures optional Server behavior.
type ServerOption func(*Server)

// WithServerLogger overrides the default slog.Default() logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer returns a Server that resolves each request's {owner}/{repo}
// through lookup.
func NewServer(lookup RepoLookup, opts ...ServerOption) *Server {
	s := &Server{lookup: lookup, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRoutes mounts the three Smart HTTP endpoints under
// /{owner}/{repo}/..., dispatching each to the resolved repository's
// Handler.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{owner}/{repo}/info/refs", s.dispatch((*Handler).handleInfoRefs))
	mux.HandleFunc("POST /{owner}/{repo}/git-upload-pack", s.dispatch((*Handler).handleUploadPack))
	mux.HandleFunc("POST /{owner}/{repo}/git-receive-pack", s.dispatch((*Handler).handleReceivePack))
}

func (s *Server) dispatch(serve func(*Handler, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := r.PathValue("owner")
		repo := r.PathValue("repo")
		h, ok := s.lookup(r.Context(), owner, repo)
		if !ok {
			s.writeNotFound(w, owner, repo)
			return
		}
		serve(h, w, r)
	}
}

func (s *Server) writeNotFound(w http.ResponseWriter, owner, repo string) {
	s.logger.Warn("smarthttp: unknown repository", "owner", owner, "repo", repo)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(map[string]string{"error": "unknown repository"})
}
