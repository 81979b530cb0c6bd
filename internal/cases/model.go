package cases

import (
	"time"
)

// Kind selects the lifecycle graph a case follows.
type Kind string

const (
	KindKYC              Kind = "kyc"
	KindFraudAlert       Kind = "fraud_alert"
	KindDispute          Kind = "dispute"
	KindShippingEvidence Kind = "shipping_evidence"
	KindDeliveryEvidence Kind = "delivery_evidence"
	KindListing          Kind = "listing"
	KindReview           Kind = "review"
)

// Kinds lists every supported case kind.
func Kinds() []Kind {
	return []Kind{
		KindKYC,
		KindFraudAlert,
		KindDispute,
		KindShippingEvidence,
		KindDeliveryEvidence,
		KindListing,
		KindReview,
	}
}

// ParseKind validates s against the supported kinds.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", ErrUnknownKind
}

// IsEvidence reports whether k is a shipping or delivery evidence kind.
func (k Kind) IsEvidence() bool {
	return k == KindShippingEvidence || k == KindDeliveryEvidence
}

type Status string

const (
	StatusPending       Status = "pending"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusNeedsReview   Status = "needs_review"
	StatusOpen          Status = "open"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
	StatusMonitoring    Status = "monitoring"
	StatusEscalated     Status = "escalated"
	StatusActive        Status = "active"
	StatusSold          Status = "sold"
	StatusRemoved       Status = "removed"
	StatusFlagged       Status = "flagged"
)

// RequiresReason reports whether entering s needs a written reason.
func (s Status) RequiresReason() bool {
	return s == StatusRejected || s == StatusRemoved || s == StatusEscalated
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities from low (0) to urgent (3). Unknown values rank -1.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityMedium:
		return 1
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	default:
		return -1
	}
}

// Role is a staff role. RoleAdmin holds every moderator right.
type Role string

const (
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Actor is the staff member performing an operation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Payload is the kind-specific data carried by a case or a transition.
type Payload map[string]any

// String returns the value at key if it is a string, or "".
func (p Payload) String(key string) string {
	if p == nil {
		return ""
	}
	s, _ := p[key].(string)
	return s
}

// Clone returns a deep copy of p. Nested objects and arrays are copied;
// scalars are shared.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case Payload:
		return x.Clone()
	case map[string]any:
		return map[string]any(Payload(x).Clone())
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]string, len(x))
		copy(out, x)
		return out
	default:
		return v
	}
}

// Resolution is the normalized outcome attached when a case reaches a
// terminal state.
type Resolution struct {
	Outcome           Status    `json:"outcome"`
	Decision          string    `json:"decision,omitempty"`
	Reason            string    `json:"reason,omitempty"`
	Resolution        string    `json:"resolution,omitempty"`
	RefundAmount      *float64  `json:"refund_amount,omitempty"`
	TransactionAmount *float64  `json:"transaction_amount,omitempty"`
	ResolvedBy        string    `json:"resolved_by,omitempty"`
	ResolvedAt        time.Time `json:"resolved_at"`
}

// Record is a single reviewable case.
type Record struct {
	ID         string      `json:"id"`
	Kind       Kind        `json:"kind"`
	Status     Status      `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	AssignedTo string      `json:"assigned_to,omitempty"`
	Priority   Priority    `json:"priority"`
	Payload    Payload     `json:"payload"`
	Resolution *Resolution `json:"resolution,omitempty"`
	Version    int64       `json:"version"`
	UpdatedBy  string      `json:"updated_by,omitempty"`
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
