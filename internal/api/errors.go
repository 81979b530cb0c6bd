package api

import (
	"errors"
	"net/http"

	"github.com/example/modconsole/internal/cases"
	"github.com/example/modconsole/internal/security"
	"github.com/example/modconsole/internal/table"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// Checked in order; the first sentinel errors.Is matches wins.
var errorMappings = []errorMapping{
	{cases.ErrNotFound, http.StatusNotFound, "not_found"},
	{cases.ErrNoOpTransition, http.StatusConflict, "noop_transition"},
	{cases.ErrIllegalTransition, http.StatusConflict, "illegal_transition"},
	{cases.ErrConcurrentModification, http.StatusConflict, "concurrent_modification"},
	{cases.ErrUnauthorized, http.StatusForbidden, "unauthorized_transition"},
	{cases.ErrMissingReason, http.StatusUnprocessableEntity, "missing_reason"},
	{cases.ErrRefundExceedsTransactionAmount, http.StatusUnprocessableEntity, "refund_exceeds_transaction_amount"},
	{cases.ErrInvalidResolutionPayload, http.StatusUnprocessableEntity, "invalid_resolution_payload"},
	{cases.ErrInvalidCase, http.StatusUnprocessableEntity, "invalid_case"},
	{cases.ErrUnknownKind, http.StatusBadRequest, "unknown_kind"},
	{table.ErrUnknownFilterField, http.StatusBadRequest, "unknown_filter_field"},
	{table.ErrInvalidPageRequest, http.StatusBadRequest, "invalid_page_request"},
	{table.ErrUnsupportedSortType, http.StatusBadRequest, "unsupported_sort_type"},
}

func classifyError(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeCaseError maps domain errors to a status and machine code. Internal
// errors never leak their text.
func writeCaseError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)
	if status == http.StatusInternalServerError {
		security.WriteJSONError(w, r, status, code)
		return
	}
	security.WriteJSONErrorDetail(w, r, status, code, err.Error())
}
