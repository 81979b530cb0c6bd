package table

import (
	"fmt"
	"sort"
	"strings"
)

// All is the filter value meaning "no constraint" for a field.
const All = "all"

// Composer turns a search term and field filters into a Predicate. It only
// accepts field ids registered at construction time.
type Composer[T any] struct {
	fields map[string]func(T) string
}

func NewComposer[T any](fields map[string]func(T) string) *Composer[T] {
	copied := make(map[string]func(T) string, len(fields))
	for id, fn := range fields {
		copied[id] = fn
	}
	return &Composer[T]{fields: copied}
}

// Fields returns the registered field ids, sorted.
func (c *Composer[T]) Fields() []string {
	out := make([]string, 0, len(c.fields))
	for id := range c.fields {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type constraint[T any] struct {
	get  func(T) string
	want string
}

// Compose builds the predicate
//
//	(search == "" || any searchable field contains search, case-insensitively)
//	&& every non-"all" filter equals its field exactly.
//
// Unknown ids in filters or searchable fail with ErrUnknownFilterField.
func (c *Composer[T]) Compose(search string, filters map[string]string, searchable []string) (Predicate[T], error) {
	searchFns := make([]func(T) string, 0, len(searchable))
	for _, id := range searchable {
		fn, ok := c.fields[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFilterField, id)
		}
		searchFns = append(searchFns, fn)
	}

	ids := make([]string, 0, len(filters))
	for id := range filters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	constraints := make([]constraint[T], 0, len(ids))
	for _, id := range ids {
		fn, ok := c.fields[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFilterField, id)
		}
		want := filters[id]
		if want == "" || want == All {
			continue
		}
		constraints = append(constraints, constraint[T]{get: fn, want: want})
	}

	needle := strings.ToLower(strings.TrimSpace(search))

	return func(item T) bool {
		for _, con := range constraints {
			if con.get(item) != con.want {
				return false
			}
		}
		if needle == "" {
			return true
		}
		for _, fn := range searchFns {
			if strings.Contains(strings.ToLower(fn(item)), needle) {
				return true
			}
		}
		return false
	}, nil
}
