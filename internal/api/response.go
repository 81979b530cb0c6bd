package api

import (
	"encoding/json"
	"net/http"

	"github.com/example/modconsole/internal/security"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	if cid := security.CorrelationIDFromContext(r.Context()); cid != "" {
		w.Header().Set(security.CorrelationIDHeader, cid)
	}
	w.Header().Set("Content-Type", "application/json")
	// Case payloads carry personal data.
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
