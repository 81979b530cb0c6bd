package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/example/modconsole/internal/auth"
	"github.com/example/modconsole/internal/security"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

type auditRecord struct {
	CorrelationID string `json:"cid"`
	ActorID       string `json:"actor_id,omitempty"`
	ActorRole     string `json:"actor_role,omitempty"`
	Method        string `json:"method"`
	Path          string `json:"path"`
	Status        int    `json:"status"`
	DurationMS    int64  `json:"dur_ms"`
}

// AuditMiddleware appends one chained entry per authenticated request. It
// must run after auth.Authenticate so the actor is known.
func AuditMiddleware(a Auditor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			start := time.Now()
			next.ServeHTTP(sw, r)

			rec := auditRecord{
				CorrelationID: security.CorrelationIDFromContext(r.Context()),
				Method:        r.Method,
				Path:          r.URL.Path,
				Status:        sw.status,
				DurationMS:    time.Since(start).Milliseconds(),
			}
			if actor, ok := auth.ActorFromContext(r.Context()); ok {
				rec.ActorID = actor.ID
				rec.ActorRole = string(actor.Role)
			}
			b, err := json.Marshal(rec)
			if err != nil {
				return
			}
			a.Append(string(b))
		})
	}
}
