package cases

import (
	"context"
)

// Repository persists case records together with their journal.
//
// Save stores rec and appends entry atomically. rec.Version must be exactly
// one more than the stored version (a record with Version 1 must not exist
// yet); otherwise Save fails with ErrConcurrentModification. The repository
// seals entry onto the case's hash chain and returns the stored record.
type Repository interface {
	Get(ctx context.Context, id string) (Record, error)
	Save(ctx context.Context, rec Record, entry TransitionEntry) (Record, error)
	List(ctx context.Context, filter ListFilter) ([]Record, error)
	History(ctx context.Context, caseID string) ([]TransitionEntry, error)
}

// ListFilter narrows List. Zero fields match everything. Results are ordered
// by creation time, then id.
type ListFilter struct {
	Kind       Kind
	Statuses   []Status
	AssignedTo string
	Limit      int
}

func (f ListFilter) matches(rec Record) bool {
	if f.Kind != "" && rec.Kind != f.Kind {
		return false
	}
	if f.AssignedTo != "" && rec.AssignedTo != f.AssignedTo {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if rec.Status == s {
			return true
		}
	}
	return false
}

func checkVersion(stored Record, found bool, next Record) error {
	if !found {
		if next.Version != 1 {
			return ErrNotFound
		}
		return nil
	}
	if stored.Version != next.Version-1 {
		return ErrConcurrentModification
	}
	return nil
}
