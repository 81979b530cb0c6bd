package cases

import (
	"errors"
	"fmt"
)

var (
	ErrIllegalTransition              = errors.New("illegal transition")
	ErrNoOpTransition                 = errors.New("no-op transition")
	ErrMissingReason                  = errors.New("missing reason")
	ErrInvalidResolutionPayload       = errors.New("invalid resolution payload")
	ErrRefundExceedsTransactionAmount = errors.New("refund exceeds transaction amount")
	ErrUnauthorized                   = errors.New("unauthorized")
	ErrConcurrentModification         = errors.New("concurrent modification")
	ErrNotFound                       = errors.New("case not found")
	ErrUnknownKind                    = errors.New("unknown case kind")
	ErrChainBroken                    = errors.New("transition chain broken")
	ErrInvalidCase                    = errors.New("invalid case")
)

// TransitionError describes a rejected transition. It unwraps to one of the
// sentinel errors above.
type TransitionError struct {
	CaseID string
	Kind   Kind
	From   Status
	To     Status
	Err    error
	Detail string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s: %s case %s from %s to %s", e.Err, e.Kind, e.CaseID, e.From, e.To)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return e.Err }

func transitionError(rec Record, to Status, err error, detail string) error {
	return &TransitionError{
		CaseID: rec.ID,
		Kind:   rec.Kind,
		From:   rec.Status,
		To:     to,
		Err:    err,
		Detail: detail,
	}
}
