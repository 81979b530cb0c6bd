package cases

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps cases in process memory. It is used by tests and
// by the console's memory store driver.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]Record
	journal map[string][]TransitionEntry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[string]Record),
		journal: make(map[string][]TransitionEntry),
	}
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return copyRecord(rec), nil
}

func (m *MemoryRepository) Save(ctx context.Context, rec Record, entry TransitionEntry) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, found := m.records[rec.ID]
	if err := checkVersion(stored, found, rec); err != nil {
		return Record{}, err
	}

	prev := ""
	if chain := m.journal[rec.ID]; len(chain) > 0 {
		prev = chain[len(chain)-1].Hash
	}
	sealed, err := entry.Seal(prev)
	if err != nil {
		return Record{}, err
	}

	m.records[rec.ID] = copyRecord(rec)
	m.journal[rec.ID] = append(m.journal[rec.ID], sealed)
	return copyRecord(rec), nil
}

func (m *MemoryRepository) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		if filter.matches(rec) {
			out = append(out, copyRecord(rec))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryRepository) History(ctx context.Context, caseID string) ([]TransitionEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]TransitionEntry{}, m.journal[caseID]...), nil
}

func copyRecord(rec Record) Record {
	rec.Payload = rec.Payload.Clone()
	if rec.Resolution != nil {
		res := *rec.Resolution
		rec.Resolution = &res
	}
	return rec
}
