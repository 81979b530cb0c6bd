package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/example/modconsole/internal/auth"
	"github.com/example/modconsole/internal/cases"
	"github.com/example/modconsole/internal/queues"
	"github.com/example/modconsole/internal/security"
	"github.com/example/modconsole/internal/table"
)

// Query parameters with a fixed meaning on queue routes. Every other
// parameter is a column filter.
var reservedQueueParams = map[string]struct{}{
	"q":         {},
	"sort":      {},
	"dir":       {},
	"page":      {},
	"page_size": {},
}

type queueSummary struct {
	Kind    cases.Kind `json:"kind"`
	Columns []string   `json:"columns"`
	Fields  []string   `json:"fields"`
}

type listQueuesResponse struct {
	CorrelationID string         `json:"correlation_id"`
	Queues        []queueSummary `json:"queues"`
}

type queueResponse struct {
	CorrelationID string `json:"correlation_id"`
	queueSummary
	table.Result[cases.Record]
}

type caseResponse struct {
	CorrelationID    string         `json:"correlation_id"`
	Case             cases.Record   `json:"case"`
	LegalTransitions []cases.Status `json:"legal_transitions"`
}

type historyResponse struct {
	CorrelationID string                  `json:"correlation_id"`
	CaseID        string                  `json:"case_id"`
	ChainValid    bool                    `json:"chain_valid"`
	Entries       []cases.TransitionEntry `json:"entries"`
}

type openCaseRequest struct {
	ID       string         `json:"id"`
	Kind     cases.Kind     `json:"kind"`
	Priority cases.Priority `json:"priority"`
	Payload  cases.Payload  `json:"payload"`
}

type transitionRequest struct {
	Target          cases.Status  `json:"target"`
	Payload         cases.Payload `json:"payload"`
	ExpectedVersion int64         `json:"expected_version"`
}

type assignmentRequest struct {
	Assignee        string `json:"assignee"`
	ExpectedVersion int64  `json:"expected_version"`
}

func handleListQueues(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make([]queueSummary, 0, len(deps.Queues.Kinds()))
		for _, k := range deps.Queues.Kinds() {
			def, err := deps.Queues.Get(k)
			if err != nil {
				continue
			}
			out = append(out, summarize(def))
		}
		writeJSON(w, r, http.StatusOK, listQueuesResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Queues:        out,
		})
	}
}

func handleQueue(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, err := cases.ParseKind(chi.URLParam(r, "kind"))
		if err != nil {
			writeCaseError(w, r, err)
			return
		}
		def, err := deps.Queues.Get(kind)
		if err != nil {
			writeCaseError(w, r, err)
			return
		}

		req, err := parseTableRequest(r, deps.DefaultPageSize, deps.MaxPageSize)
		if err != nil {
			writeCaseError(w, r, err)
			return
		}

		records, err := deps.Cases.List(r.Context(), cases.ListFilter{Kind: kind})
		if err != nil {
			writeCaseError(w, r, err)
			return
		}
		res, err := def.Query(records, req)
		if err != nil {
			writeCaseError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, queueResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			queueSummary:  summarize(def),
			Result:        res,
		})
	}
}

func summarize(def *queues.Definition) queueSummary {
	return queueSummary{Kind: def.Kind, Columns: def.Columns(), Fields: def.Fields()}
}

// parseTableRequest reads a table request from the query string. page
// defaults to 1; page_size defaults to defaultSize and may not exceed maxSize.
func parseTableRequest(r *http.Request, defaultSize, maxSize int) (table.Request, error) {
	q := r.URL.Query()
	req := table.Request{
		SortKey:  q.Get("sort"),
		Search:   q.Get("q"),
		Page:     1,
		PageSize: defaultSize,
	}

	dir, err := table.ParseDirection(q.Get("dir"))
	if err != nil {
		return table.Request{}, err
	}
	req.SortDirection = dir

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return table.Request{}, errors.Join(table.ErrInvalidPageRequest, err)
		}
		req.Page = n
	}
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return table.Request{}, errors.Join(table.ErrInvalidPageRequest, err)
		}
		req.PageSize = n
	}
	if maxSize > 0 && req.PageSize > maxSize {
		return table.Request{}, errors.Join(table.ErrInvalidPageRequest,
			errors.New("page_size exceeds "+strconv.Itoa(maxSize)))
	}

	for key, vals := range q {
		if _, ok := reservedQueueParams[key]; ok || len(vals) == 0 {
			continue
		}
		if req.Filters == nil {
			req.Filters = map[string]string{}
		}
		req.Filters[key] = vals[0]
	}
	return req, nil
}

func handleOpenCase(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := auth.ActorFromContext(r.Context())
		if !ok {
			security.WriteJSONError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		var req openCaseRequest
		if err := decodeJSON(r, &req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		rec, err := deps.Cases.Open(r.Context(), cases.OpenRequest{
			ID:       req.ID,
			Kind:     req.Kind,
			Priority: req.Priority,
			Payload:  req.Payload,
		}, actor)
		if err != nil {
			writeCaseError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, caseResponse{
			CorrelationID:    security.CorrelationIDFromContext(r.Context()),
			Case:             rec,
			LegalTransitions: deps.Cases.Machine().LegalTransitions(rec, actor),
		})
	}
}

func handleGetCase(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := auth.ActorFromContext(r.Context())

		rec, legal, err := deps.Cases.LegalTransitions(r.Context(), chi.URLParam(r, "id"), actor)
		if err != nil {
			writeCaseError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, caseResponse{
			CorrelationID:    security.CorrelationIDFromContext(r.Context()),
			Case:             rec,
			LegalTransitions: legal,
		})
	}
}

func handleHistory(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		entries, err := deps.Cases.History(r.Context(), id)
		if err != nil {
			writeCaseError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, historyResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			CaseID:        id,
			ChainValid:    cases.VerifyChain(entries) == nil,
			Entries:       entries,
		})
	}
}

func handleTransition(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := auth.ActorFromContext(r.Context())
		if !ok {
			security.WriteJSONError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		var req transitionRequest
		if err := decodeJSON(r, &req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		rec, err := deps.Cases.Transition(r.Context(), cases.TransitionRequest{
			CaseID:          chi.URLParam(r, "id"),
			Target:          req.Target,
			Actor:           actor,
			Payload:         req.Payload,
			ExpectedVersion: req.ExpectedVersion,
		})
		if err != nil {
			writeCaseError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, caseResponse{
			CorrelationID:    security.CorrelationIDFromContext(r.Context()),
			Case:             rec,
			LegalTransitions: deps.Cases.Machine().LegalTransitions(rec, actor),
		})
	}
}

func handleAssign(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := auth.ActorFromContext(r.Context())
		if !ok {
			security.WriteJSONError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		var req assignmentRequest
		if err := decodeJSON(r, &req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		rec, err := deps.Cases.Assign(r.Context(), chi.URLParam(r, "id"), req.Assignee, actor, req.ExpectedVersion)
		if err != nil {
			writeCaseError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, caseResponse{
			CorrelationID:    security.CorrelationIDFromContext(r.Context()),
			Case:             rec,
			LegalTransitions: deps.Cases.Machine().LegalTransitions(rec, actor),
		})
	}
}

// decodeJSON keeps numbers as json.Number so refund amounts reach the
// policy unrounded.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	return dec.Decode(v)
}
