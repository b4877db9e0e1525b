package smarthttp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/odvcencio/gitcellar/internal/gitobj"
	"github.com/odvcencio/gitcellar/internal/objhash"
	"github.com/odvcencio/gitcellar/internal/objstore"
	"github.com/odvcencio/gitcellar/internal/pack"
	"github.com/odvcencio/gitcellar/internal/pktline"
	"github.com/odvcencio/gitcellar/internal/refstore"
)

// refUpdate is one parsed receive-pack ref command: old and new object
// ids (either may be the zero id, for create/delete) and the ref name
// the client named it by.
type refUpdate struct {
	oldOID, newOID objhash.OID
	refName        string
	storageName    string
}

// storeBaseResolver adapts an objstore.Store into a pack.ExternalBaseResolver
// so REF_DELTA entries in a thin pack can resolve their base against
// objects already in the store rather than only objects earlier in the
// same pack stream.
type storeBaseResolver struct {
	ctx   context.Context
	store objstore.Store
}

func (r storeBaseResolver) ResolveBase(oid objhash.OID) (gitobj.Kind, []byte, bool, error) {
	kind, data, err := r.store.Get(r.ctx, oid)
	if err != nil {
		if err == objstore.ErrNotFound {
			return "", nil, false, nil
		}
		return "", nil, false, err
	}
	return kind, data, true, nil
}

// handleReceivePack serves POST /git-receive-pack: a batch of ref
// commands followed by a packfile. Objects are unpacked and stored
// first; ref updates are then applied as one logical batch, each
// command independently CAS-gated so a stale push fails only the refs
// it actually conflicts on (spec.md §5).
func (h *Handler) handleReceivePack(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "smarthttp.ReceivePack")
	defer span.End()
	r = r.WithContext(ctx)

	if !h.authorize(w, r, true) {
		return
	}

	br := bufio.NewReader(http.MaxBytesReader(w, r.Body, maxReceivePackBytes))
	pr := pktline.NewReader(br)

	var updates []refUpdate
	for {
		payload, ok, err := pr.ReadPacket()
		if err != nil {
			if err == io.EOF {
				break
			}
			if isRequestTooLarge(err) {
				http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "protocol error", http.StatusBadRequest)
			return
		}
		if !ok {
			break // flush: end of command list
		}
		line := stripCapabilities(strings.TrimRight(string(payload), "\n"))
		parts := strings.SplitN(line, " ", 3)
		if len(parts) != 3 {
			continue
		}
		oldOID, err := objhash.FromHex(parts[0])
		if err != nil {
			http.Error(w, fmt.Sprintf("bad old object id %q", parts[0]), http.StatusBadRequest)
			return
		}
		newOID, err := objhash.FromHex(parts[1])
		if err != nil {
			http.Error(w, fmt.Sprintf("bad new object id %q", parts[1]), http.StatusBadRequest)
			return
		}
		updates = append(updates, refUpdate{
			oldOID:      oldOID,
			newOID:      newOID,
			refName:     parts[2],
			storageName: normalizeRefName(parts[2]),
		})
	}

	packData, err := io.ReadAll(br)
	if err != nil {
		if isRequestTooLarge(err) {
			http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read packfile: "+err.Error(), http.StatusBadRequest)
		return
	}
	h.metrics.packBytesIn.Add(float64(len(packData)))

	if len(packData) > 0 {
		entries, err := pack.Unpack(bytes.NewReader(packData), pack.Limits{}, storeBaseResolver{ctx: ctx, store: h.objects})
		if err != nil {
			h.sendReceivePackResult(w, fmt.Sprintf("unpack error: %v", err), nil, nil)
			return
		}
		for _, e := range entries {
			if _, err := h.objects.Put(ctx, e.Kind, e.Data); err != nil {
				h.sendReceivePackResult(w, fmt.Sprintf("unpack error: store %s: %v", e.OID, err), nil, nil)
				return
			}
		}
		h.metrics.objectsIn.Add(float64(len(entries)))
	}

	refErrors := make(map[string]string, len(updates))
	for _, u := range updates {
		if err := h.applyRefUpdate(u); err != nil {
			refErrors[u.refName] = err.Error()
			h.metrics.refUpdateTotal.WithLabelValues("rejected").Inc()
			continue
		}
		h.metrics.refUpdateTotal.WithLabelValues("applied").Inc()
	}

	h.sendReceivePackResult(w, "", updates, refErrors)
}

// applyRefUpdate applies a single ref command as a compare-and-set
// against the ref store: delete when newOID is zero, otherwise create
// or fast-forward, gated on the client's claimed old value.
func (h *Handler) applyRefUpdate(u refUpdate) error {
	var expected *objhash.OID
	if !u.oldOID.IsZero() {
		old := u.oldOID
		expected = &old
	}

	if u.newOID.IsZero() {
		if err := h.refs.DeleteRef(u.storageName, expected); err != nil {
			return casErrorMessage(err)
		}
		return nil
	}

	if _, err := h.refs.SetRef(u.storageName, u.newOID, expected); err != nil {
		return casErrorMessage(err)
	}
	return nil
}

// casErrorMessage renders a refstore CAS failure as the short
// human-readable reason report-status puts on an "ng" line.
func casErrorMessage(err error) error {
	var cas *refstore.CASError
	if errors.As(err, &cas) {
		if !cas.HadValue {
			return fmt.Errorf("unable to create ref: %s", cas.Name)
		}
		return fmt.Errorf("non-fast-forward")
	}
	return err
}

// sendReceivePackResult writes the report-status response: an overall
// "unpack ok|<error>" line, then one "ok <ref>"/"ng <ref> <reason>"
// line per command, in the order the client sent them.
func (h *Handler) sendReceivePackResult(w http.ResponseWriter, unpackErr string, updates []refUpdate, refErrors map[string]string) {
	w.Header().Set("Content-Type", contentType("git-receive-pack", "result"))
	w.Header().Set("Cache-Control", "no-cache")
	pw := pktline.NewWriter(w)
	if unpackErr != "" {
		pw.WriteString(fmt.Sprintf("unpack %s\n", unpackErr))
	} else {
		pw.WriteString("unpack ok\n")
		for _, u := range updates {
			if msg, failed := refErrors[u.refName]; failed {
				pw.WriteString(fmt.Sprintf("ng %s %s\n", u.refName, msg))
				continue
			}
			pw.WriteString(fmt.Sprintf("ok %s\n", u.refName))
		}
	}
	pw.WriteFlush()
}
