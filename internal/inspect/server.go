package inspect

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/treesync/internal/engine"
	"github.com/roach88/treesync/internal/ir"
	"github.com/roach88/treesync/internal/tree"
)

// Source is what the routes read. *engine.Engine satisfies it.
type Source interface {
	Status() engine.Status
	Tree() *tree.Tree
}

// NewServer wires the inspection routes into a router.
func NewServer(src Source) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, src.Status())
	})

	r.Get("/state", func(w http.ResponseWriter, r *http.Request) {
		serveNode(w, src.Tree(), nil)
	})

	r.Get("/state/*", func(w http.ResponseWriter, r *http.Request) {
		serveNode(w, src.Tree(), urlSegments(chi.URLParam(r, "*")))
	})

	return r
}

func serveNode(w http.ResponseWriter, t *tree.Tree, segments []string) {
	v, path, ok := resolve(t.Snapshot(), segments)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no node at path " + strconv.Quote(path.String()),
		})
		return
	}

	data, err := ir.MarshalCanonical(v)
	if err != nil {
		slog.Error("encode state", "path", path.String(), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// urlSegments splits a slash-separated path. Empty segments are skipped.
func urlSegments(raw string) []string {
	var segments []string
	for _, part := range strings.Split(raw, "/") {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

// resolve walks segments from root. Under an array a segment must be a
// non-negative index; under an object it is always a key, numeric or not.
// The returned path covers the segments walked.
func resolve(root ir.Value, segments []string) (ir.Value, ir.Path, bool) {
	node := root
	path := ir.Path{}
	for _, part := range segments {
		switch n := node.(type) {
		case ir.Array:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 {
				return nil, append(path, ir.Key(part)), false
			}
			path = append(path, ir.Index(i))
			if i >= len(n) {
				return nil, path, false
			}
			node = n[i]
		case ir.Object:
			path = append(path, ir.Key(part))
			child, ok := n[part]
			if !ok {
				return nil, path, false
			}
			node = child
		default:
			return nil, append(path, ir.Key(part)), false
		}
	}
	return node, path, node != nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}
