package smarthttp

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/odvcencio/gitcellar/internal/objhash"
	"github.com/odvcencio/gitcellar/internal/pktline"
)

// refCapabilities is advertised on the first ref line of an info/refs
// response (or the zero-id capabilities line for an empty repository).
const refCapabilities = "report-status delete-refs ofs-delta side-band-64k"

// handleInfoRefs serves GET /info/refs?service=git-upload-pack|git-receive-pack:
// the dumb discovery step every Smart HTTP client performs before a
// fetch or push, announcing the service and the current ref set.
func (h *Handler) handleInfoRefs(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "smarthttp.InfoRefs")
	defer span.End()
	r = r.WithContext(ctx)

	service := r.URL.Query().Get("service")
	if service != "git-upload-pack" && service != "git-receive-pack" {
		http.Error(w, "unsupported service", http.StatusBadRequest)
		return
	}
	if !h.authorize(w, r, service == "git-receive-pack") {
		return
	}

	names, err := h.refs.ListRefs("refs/")
	if err != nil {
		h.logger.Error("smarthttp: list refs", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType(service, "advertisement"))
	w.Header().Set("Cache-Control", "no-cache")

	pw := pktline.NewWriter(w)
	pw.WriteString(fmt.Sprintf("# service=%s\n", service))
	pw.WriteFlush()

	first := true
	for _, name := range names {
		oid, _, err := h.refs.Resolve(name)
		if err != nil {
			continue
		}
		advertised := advertiseRefName(name)
		if first {
			pw.WriteString(fmt.Sprintf("%s %s\x00%s\n", oid.String(), advertised, refCapabilities))
			first = false
			continue
		}
		pw.WriteString(fmt.Sprintf("%s %s\n", oid.String(), advertised))
	}
	if first {
		pw.WriteString(fmt.Sprintf("%s capabilities^{}\x00%s\n", objhash.Zero.String(), refCapabilities))
	}
	pw.WriteFlush()
}

// stripCapabilities removes a NUL-separated capability list from the
// first pkt-line of a command/want/have stream.
func stripCapabilities(line string) string {
	if idx := strings.IndexByte(line, 0); idx >= 0 {
		return line[:idx]
	}
	return line
}
