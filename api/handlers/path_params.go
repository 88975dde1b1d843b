package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// idMarkers are the collection segments an "id" can follow when a
// request arrives without a chi route context (direct handler calls in
// tests use plain requests).
var idMarkers = []string{"incidents", "notifications", "accounts"}

func pathParams(r *http.Request) map[string]string {
	out := map[string]string{}
	if rc := chi.RouteContext(r.Context()); rc != nil {
		for i, key := range rc.URLParams.Keys {
			if i < len(rc.URLParams.Values) {
				out[key] = rc.URLParams.Values[i]
			}
		}
	}
	if len(out) > 0 {
		return out
	}
	segments := strings.Split(strings.Trim(strings.TrimSpace(r.URL.Path), "/"), "/")
	for _, marker := range idMarkers {
		if v := segmentAfter(segments, marker); v != "" {
			out["id"] = v
			break
		}
	}
	return out
}

// segmentAfter returns the path segment following the first occurrence
// of marker, or "" when the marker is absent or last.
func segmentAfter(segments []string, marker string) string {
	for i := 0; i < len(segments)-1; i++ {
		if segments[i] == marker {
			return strings.TrimSpace(segments[i+1])
		}
	}
	return ""
}
