package smarthttp

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/odvcencio/gitcellar/internal/gitobj"
	"github.com/odvcencio/gitcellar/internal/objhash"
	"github.com/odvcencio/gitcellar/internal/objstore"
	"github.com/odvcencio/gitcellar/internal/pack"
	"github.com/odvcencio/gitcellar/internal/pktline"
)

// handleUploadPack serves POST /git-upload-pack: want/have negotiation
// followed by a generated packfile containing every object reachable
// from a want that isn't reachable from a have.
func (h *Handler) handleUploadPack(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "smarthttp.UploadPack")
	defer span.End()
	r = r.WithContext(ctx)

	if !h.authorize(w, r, false) {
		return
	}

	br := bufio.NewReader(http.MaxBytesReader(w, r.Body, maxUploadPackBytes))
	pr := pktline.NewReader(br)

	var wants, haves []objhash.OID
	done := false
	for !done {
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
			break // flush
		}
		line := stripCapabilities(strings.TrimRight(string(payload), "\n"))
		switch {
		case strings.HasPrefix(line, "want "):
			if oid, err := objhash.FromHex(strings.Fields(line)[1]); err == nil {
				wants = append(wants, oid)
			}
		case strings.HasPrefix(line, "have "):
			if oid, err := objhash.FromHex(strings.Fields(line)[1]); err == nil {
				haves = append(haves, oid)
			}
		case line == "done":
			done = true
		}
	}

	w.Header().Set("Content-Type", contentType("git-upload-pack", "result"))
	w.Header().Set("Cache-Control", "no-cache")
	pw := pktline.NewWriter(w)

	have := make(map[objhash.OID]bool, len(haves))
	for _, oid := range haves {
		have[oid] = true
	}

	entries, err := h.collectWantedObjects(ctx, wants, have)
	if err != nil {
		h.logger.Error("smarthttp: collect wanted objects", "error", err)
		pw.WriteSideband(pktline.SidebandError, []byte("internal error building pack\n"))
		pw.WriteFlush()
		return
	}

	pw.WriteString("NAK\n")

	if len(entries) > 0 {
		packData, err := pack.Build(entries)
		if err != nil {
			h.logger.Error("smarthttp: build pack", "error", err)
			pw.WriteFlush()
			return
		}
		h.metrics.objectsOut.Add(float64(len(entries)))
		h.metrics.packBytesOut.Add(float64(len(packData)))
		if err := pw.WriteSideband(pktline.SidebandData, packData); err != nil {
			return
		}
	}
	pw.WriteFlush()
}

// collectWantedObjects walks the object graph from every want
// concurrently (bounded by h.walkSem, cancellation-aware via
// errgroup), skipping anything reachable from a have, and returns the
// deduplicated union as packfile entries ready for pack.Build.
func (h *Handler) collectWantedObjects(ctx context.Context, wants []objhash.OID, have map[objhash.OID]bool) ([]pack.Entry, error) {
	sem := semaphore.NewWeighted(int64(h.walkSem))
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	seen := make(map[objhash.OID]bool)
	var entries []pack.Entry

	for _, want := range wants {
		want := want
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			local, err := walkReachable(gctx, h.objects, want, have)
			if err != nil {
				// A single unreachable/corrupt want shouldn't fail the whole
				// fetch — skip it, matching the teacher's per-want `continue`.
				h.logger.Warn("smarthttp: walk want failed", "want", want.String(), "error", err)
				return nil
			}
			mu.Lock()
			for _, e := range local {
				if !seen[e.OID] {
					seen[e.OID] = true
					entries = append(entries, e)
				}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// walkReachable returns every object reachable from want (commits,
// trees, blobs, tags) that isn't in have, stopping at submodule
// (gitlink) tree entries since those name commits in a foreign
// repository this store never holds.
func walkReachable(ctx context.Context, objects objstore.Store, want objhash.OID, have map[objhash.OID]bool) ([]pack.Entry, error) {
	seen := map[objhash.OID]bool{}
	var entries []pack.Entry

	var walk func(oid objhash.OID) error
	walk = func(oid objhash.OID) error {
		if oid.IsZero() || seen[oid] || have[oid] {
			return nil
		}
		seen[oid] = true

		kind, data, err := objects.Get(ctx, oid)
		if err != nil {
			return err
		}
		entries = append(entries, pack.Entry{Kind: kind, Data: data, OID: oid})

		switch kind {
		case gitobj.KindCommit:
			c, err := gitobj.ParseCommit(data)
			if err != nil {
				return err
			}
			if err := walk(c.Tree); err != nil {
				return err
			}
			for _, p := range c.Parents {
				if err := walk(p); err != nil {
					return err
				}
			}
		case gitobj.KindTree:
			t, err := gitobj.ParseTree(data)
			if err != nil {
				return err
			}
			for _, e := range t.Entries {
				if e.Mode == gitobj.ModeSubmodule {
					continue
				}
				if err := walk(e.OID); err != nil {
					return err
				}
			}
		case gitobj.KindTag:
			tg, err := gitobj.ParseTag(data)
			if err != nil {
				return err
			}
			if err := walk(tg.Object); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(want); err != nil {
		return nil, err
	}
	return entries, nil
}
