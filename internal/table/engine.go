package table

import (
	"cmp"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Direction is the sort direction of a table request.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseDirection accepts "", "asc" and "desc" (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Asc):
		return Asc, nil
	case string(Desc):
		return Desc, nil
	default:
		return "", fmt.Errorf("%w: sort direction %q", ErrInvalidPageRequest, s)
	}
}

// Column describes one column of a table. Value extracts the cell used for
// sorting; it must return a number, a string, a time.Time or nil.
type Column[T any] struct {
	ID       string
	Sortable bool
	Value    func(T) any
}

// Predicate reports whether a record belongs in the result set.
type Predicate[T any] func(T) bool

// Request is a single table query.
type Request struct {
	SortKey       string            `json:"sort_key,omitempty"`
	SortDirection Direction         `json:"sort_direction,omitempty"`
	Search        string            `json:"search,omitempty"`
	Filters       map[string]string `json:"filters,omitempty"`
	Page          int               `json:"page"`
	PageSize      int               `json:"page_size"`
}

// Result is one page of a sorted and filtered collection.
type Result[T any] struct {
	Items        []T `json:"items"`
	TotalMatched int `json:"total_matched"`
	Page         int `json:"page"`
	TotalPages   int `json:"total_pages"`
}

// Query filters, sorts and paginates items. It never mutates items.
//
// Sorting is stable in both directions: Desc inverts the comparator, so
// records with equal keys keep their input order either way.
func Query[T any](items []T, columns []Column[T], pred Predicate[T], req Request) (Result[T], error) {
	if req.Page < 1 || req.PageSize < 1 {
		return Result[T]{}, fmt.Errorf("%w: page=%d page_size=%d", ErrInvalidPageRequest, req.Page, req.PageSize)
	}

	matched := make([]T, 0, len(items))
	for _, item := range items {
		if pred == nil || pred(item) {
			matched = append(matched, item)
		}
	}

	if col, ok := sortColumn(columns, req.SortKey); ok {
		if err := sortStable(matched, col, req.SortDirection); err != nil {
			return Result[T]{}, err
		}
	}

	total := len(matched)
	totalPages := total / req.PageSize
	if total%req.PageSize != 0 {
		totalPages++
	}
	res := Result[T]{
		Items:        []T{},
		TotalMatched: total,
		Page:         req.Page,
		TotalPages:   totalPages,
	}
	if req.Page > totalPages {
		return res, nil
	}

	// req.Page <= totalPages keeps start within total; end is clamped
	// without adding so huge page sizes cannot overflow.
	start := (req.Page - 1) * req.PageSize
	end := total
	if total-start > req.PageSize {
		end = start + req.PageSize
	}
	res.Items = matched[start:end]
	return res, nil
}

func sortColumn[T any](columns []Column[T], key string) (Column[T], bool) {
	if key == "" {
		return Column[T]{}, false
	}
	for _, c := range columns {
		if c.ID == key {
			return c, c.Sortable && c.Value != nil
		}
	}
	return Column[T]{}, false
}

func sortStable[T any](items []T, col Column[T], dir Direction) error {
	keys := make([]sortKey, len(items))
	class := classNil
	for i, item := range items {
		k, err := toSortKey(col.Value(item))
		if err != nil {
			return fmt.Errorf("%w: column %q: %v", ErrUnsupportedSortType, col.ID, err)
		}
		if k.class != classNil {
			if class != classNil && class != k.class {
				return fmt.Errorf("%w: column %q mixes %s and %s values", ErrUnsupportedSortType, col.ID, class, k.class)
			}
			class = k.class
		}
		keys[i] = k
	}

	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		c := compareKeys(keys[idx[a]], keys[idx[b]])
		if dir == Desc {
			return c > 0
		}
		return c < 0
	})

	sorted := make([]T, len(items))
	for i, j := range idx {
		sorted[i] = items[j]
	}
	copy(items, sorted)
	return nil
}

type keyClass int

const (
	classNil keyClass = iota
	classNumber
	classString
	classTime
)

func (c keyClass) String() string {
	switch c {
	case classNumber:
		return "number"
	case classString:
		return "string"
	case classTime:
		return "time"
	default:
		return "nil"
	}
}

type sortKey struct {
	class keyClass
	num   float64
	str   string
	at    time.Time
}

func toSortKey(v any) (sortKey, error) {
	switch x := v.(type) {
	case nil:
		return sortKey{}, nil
	case time.Time:
		return sortKey{class: classTime, at: x}, nil
	case *time.Time:
		if x == nil {
			return sortKey{}, nil
		}
		return sortKey{class: classTime, at: *x}, nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return sortKey{}, fmt.Errorf("malformed number %q", x)
		}
		return sortKey{class: classNumber, num: f}, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return sortKey{class: classString, str: rv.String()}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return sortKey{class: classNumber, num: float64(rv.Int())}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return sortKey{class: classNumber, num: float64(rv.Uint())}, nil
	case reflect.Float32, reflect.Float64:
		return sortKey{class: classNumber, num: rv.Float()}, nil
	case reflect.Pointer:
		if rv.IsNil() {
			return sortKey{}, nil
		}
		return toSortKey(rv.Elem().Interface())
	default:
		return sortKey{}, fmt.Errorf("type %T", v)
	}
}

// compareKeys orders nil before everything else.
func compareKeys(a, b sortKey) int {
	if a.class == classNil || b.class == classNil {
		switch {
		case a.class == b.class:
			return 0
		case a.class == classNil:
			return -1
		default:
			return 1
		}
	}
	switch a.class {
	case classNumber:
		return cmp.Compare(a.num, b.num)
	case classString:
		return strings.Compare(a.str, b.str)
	default:
		return a.at.Compare(b.at)
	}
}

// Table binds column definitions to a filter composer so callers can run a
// full request (search + filters + sort + page) in one call.
type Table[T any] struct {
	columns    []Column[T]
	composer   *Composer[T]
	searchable []string
}

// New builds a table. fields registers every filterable/searchable field.
func New[T any](columns []Column[T], fields map[string]func(T) string, searchable []string) *Table[T] {
	return &Table[T]{
		columns:    append([]Column[T](nil), columns...),
		composer:   NewComposer(fields),
		searchable: append([]string(nil), searchable...),
	}
}

// Query composes req.Search and req.Filters into a predicate and runs it.
func (t *Table[T]) Query(items []T, req Request) (Result[T], error) {
	pred, err := t.composer.Compose(req.Search, req.Filters, t.searchable)
	if err != nil {
		return Result[T]{}, err
	}
	return Query(items, t.columns, pred, req)
}

// Columns returns the column ids in declaration order.
func (t *Table[T]) Columns() []string {
	out := make([]string, 0, len(t.columns))
	for _, c := range t.columns {
		out = append(out, c.ID)
	}
	return out
}

// Fields returns the registered filter field ids, sorted.
func (t *Table[T]) Fields() []string {
	return t.composer.Fields()
}
