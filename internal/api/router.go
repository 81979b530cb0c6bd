package api

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/modconsole/internal/auth"
	"github.com/example/modconsole/internal/cases"
	"github.com/example/modconsole/internal/queues"
	"github.com/example/modconsole/internal/security"
	"github.com/example/modconsole/pkg/audit"
)

const (
	defaultPageSize = 25
	defaultMaxBody  = 1 << 20
)

type Auditor interface {
	Append(payload string) *audit.LogEntry
}

type Dependencies struct {
	Logger       *slog.Logger
	OAuth        *auth.OAuthServer
	JWTValidator *auth.JWTValidator

	Cases  *cases.Service
	Queues *queues.Registry

	Auditor           Auditor
	RateLimiter       security.Limiter
	IPAllowlist       []*net.IPNet
	TrustProxyHeaders bool
	MaxBodyBytes      int64
	DefaultPageSize   int
	MaxPageSize       int
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Queues == nil {
		deps.Queues = queues.NewRegistry()
	}
	if deps.DefaultPageSize <= 0 {
		deps.DefaultPageSize = defaultPageSize
	}
	if deps.MaxPageSize > 0 && deps.DefaultPageSize > deps.MaxPageSize {
		deps.DefaultPageSize = deps.MaxPageSize
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = defaultMaxBody
	}

	openV, err := security.NewJSONSchemaValidator(openCaseSchema)
	if err != nil {
		return nil, err
	}
	transitionV, err := security.NewJSONSchemaValidator(transitionSchema)
	if err != nil {
		return nil, err
	}
	assignV, err := security.NewJSONSchemaValidator(assignmentSchema)
	if err != nil {
		return nil, err
	}

	onAuthError := func(w http.ResponseWriter, r *http.Request, status int, code string) {
		security.WriteJSONError(w, r, status, code)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if deps.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(middleware.RequestSize(deps.MaxBodyBytes))
	r.Use(security.IPAllowlist(deps.IPAllowlist))
	if deps.RateLimiter != nil {
		r.Use(security.RateLimitMiddleware(deps.RateLimiter, rateLimitKeyByIP))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if deps.OAuth != nil {
		r.Post("/oauth/token", deps.OAuth.TokenHandler)
		r.Get("/oauth/jwks.json", deps.OAuth.JWKSHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Authenticate(deps.JWTValidator, onAuthError))
		if deps.Auditor != nil {
			r.Use(AuditMiddleware(deps.Auditor))
		}

		read := r.With(auth.RequireScopes(onAuthError, auth.ScopeCasesRead))
		write := r.With(auth.RequireScopes(onAuthError, auth.ScopeCasesWrite))

		read.Get("/queues", handleListQueues(deps))
		read.Get("/queues/{kind}", handleQueue(deps))

		write.With(openV.Middleware).Post("/cases", handleOpenCase(deps))
		read.Get("/cases/{id}", handleGetCase(deps))
		read.Get("/cases/{id}/history", handleHistory(deps))
		write.With(transitionV.Middleware).Post("/cases/{id}/transitions", handleTransition(deps))
		write.With(assignV.Middleware).Post("/cases/{id}/assignment", handleAssign(deps))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r, nil
}

func rateLimitKeyByIP(r *http.Request) string {
	ip := security.RemoteIP(r)
	if ip == nil {
		return ""
	}
	return "ip:" + ip.String()
}
