package cases

import (
	"fmt"
	"strings"
	"time"
)

// StateMachine validates and applies case transitions. It holds no mutable
// state and is safe for concurrent use.
type StateMachine struct {
	policy *Policy
	clock  Clock
}

// NewStateMachine returns a state machine using policy and clock. A nil
// policy uses the default PolicyConfig; a nil clock uses SystemClock.
func NewStateMachine(policy *Policy, clock Clock) *StateMachine {
	if policy == nil {
		policy = MustPolicy(PolicyConfig{})
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &StateMachine{policy: policy, clock: clock}
}

func (sm *StateMachine) Policy() *Policy { return sm.policy }

// Transition moves rec to target on behalf of actor. Checks run in order:
// no-op, graph edge, required reason, actor role, resolution payload.
// rec is never modified; the returned record is the new current truth.
func (sm *StateMachine) Transition(rec Record, target Status, actor Actor, payload Payload) (Record, error) {
	if _, ok := graphs[rec.Kind]; !ok {
		return Record{}, transitionError(rec, target, ErrUnknownKind, "")
	}
	if target == rec.Status {
		return Record{}, transitionError(rec, target, ErrNoOpTransition, "")
	}
	if !isEdge(rec.Kind, rec.Status, target) {
		return Record{}, transitionError(rec, target, ErrIllegalTransition, "")
	}
	if target.RequiresReason() && !hasReason(rec.Kind, payload) {
		return Record{}, transitionError(rec, target, ErrMissingReason, "payload.reason is required")
	}
	if actor.ID == "" {
		return Record{}, transitionError(rec, target, ErrUnauthorized, "actor id is required")
	}
	if !canPerform(actor, rec.Kind, rec.Status, target) {
		return Record{}, transitionError(rec, target, ErrUnauthorized,
			"requires role "+string(RequiredRole(rec.Kind, rec.Status, target)))
	}

	res, err := sm.policy.ValidateResolution(rec.Kind, target, payload)
	if err != nil {
		return Record{}, &TransitionError{CaseID: rec.ID, Kind: rec.Kind, From: rec.Status, To: target, Err: err}
	}

	next := sm.touch(rec, actor)
	next.Status = target
	if res != nil {
		res.ResolvedBy = actor.ID
		res.ResolvedAt = next.UpdatedAt
		next.Resolution = res
	}
	return next, nil
}

// LegalTransitions returns the statuses actor may move rec to, in graph
// order. Payload requirements are not considered.
func (sm *StateMachine) LegalTransitions(rec Record, actor Actor) []Status {
	out := []Status{}
	for _, to := range graphs[rec.Kind].edges[rec.Status] {
		if canPerform(actor, rec.Kind, rec.Status, to) {
			out = append(out, to)
		}
	}
	return out
}

// Assign sets or clears the case owner. Terminal cases cannot be
// reassigned.
func (sm *StateMachine) Assign(rec Record, assignee string, actor Actor) (Record, error) {
	if _, ok := graphs[rec.Kind]; !ok {
		return Record{}, transitionError(rec, rec.Status, ErrUnknownKind, "")
	}
	if actor.ID == "" || !actor.Role.Valid() {
		return Record{}, transitionError(rec, rec.Status, ErrUnauthorized, "assignment requires a staff actor")
	}
	if IsTerminal(rec.Kind, rec.Status) {
		return Record{}, transitionError(rec, rec.Status, ErrIllegalTransition, "case is closed")
	}
	assignee = strings.TrimSpace(assignee)
	if assignee == rec.AssignedTo {
		return Record{}, transitionError(rec, rec.Status, ErrNoOpTransition, "assignee unchanged")
	}

	next := sm.touch(rec, actor)
	next.AssignedTo = assignee
	return next, nil
}

// touch copies rec and stamps the mutation metadata.
func (sm *StateMachine) touch(rec Record, actor Actor) Record {
	next := rec
	next.Payload = rec.Payload.Clone()
	next.UpdatedAt = sm.stamp(latest(rec.UpdatedAt, rec.CreatedAt))
	next.UpdatedBy = actor.ID
	next.Version = rec.Version + 1
	return next
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// stamp returns the current time at microsecond precision, strictly after
// prev.
func (sm *StateMachine) stamp(prev time.Time) time.Time {
	now := sm.clock.Now().UTC().Truncate(time.Microsecond)
	if !now.After(prev) {
		now = prev.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return now
}

func hasReason(k Kind, payload Payload) bool {
	if strings.TrimSpace(payload.String("reason")) != "" {
		return true
	}
	return k.IsEvidence() && strings.TrimSpace(payload.String("notes")) != ""
}

// Open builds the first version of a case in its kind's initial status.
func (sm *StateMachine) Open(id string, kind Kind, priority Priority, payload Payload, actor Actor) (Record, error) {
	initial, err := InitialStatus(kind)
	if err != nil {
		return Record{}, err
	}
	if actor.ID == "" || !actor.Role.Valid() {
		return Record{}, fmt.Errorf("%w: opening a case requires a staff actor", ErrUnauthorized)
	}
	if priority == "" {
		priority = PriorityMedium
	}
	if priority.Rank() < 0 {
		return Record{}, fmt.Errorf("%w: unknown priority %q", ErrInvalidCase, priority)
	}
	if strings.TrimSpace(id) == "" {
		return Record{}, fmt.Errorf("%w: id is required", ErrInvalidCase)
	}

	now := sm.stamp(time.Time{})
	return Record{
		ID:        id,
		Kind:      kind,
		Status:    initial,
		CreatedAt: now,
		UpdatedAt: now,
		Priority:  priority,
		Payload:   payload.Clone(),
		Version:   1,
		UpdatedBy: actor.ID,
	}, nil
}
