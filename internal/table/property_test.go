package table

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type row struct {
	Pos   int
	Score int
}

var rowColumns = []Column[row]{
	{ID: "score", Sortable: true, Value: func(r row) any { return r.Score }},
}

func rowsFrom(scores []int) []row {
	out := make([]row, len(scores))
	for i, s := range scores {
		out[i] = row{Pos: i, Score: s}
	}
	return out
}

// Concatenating every page yields exactly the matched set in sorted order.
func TestPaginationCoversMatchedSet(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("pages partition the sorted result", prop.ForAll(
		func(scores []int, pageSize int) bool {
			items := rowsFrom(scores)
			req := Request{SortKey: "score", Page: 1, PageSize: pageSize}
			first, err := Query(items, rowColumns, nil, req)
			if err != nil {
				return false
			}
			all, err := Query(items, rowColumns, nil, Request{SortKey: "score", Page: 1, PageSize: len(items) + 1})
			if err != nil {
				return false
			}

			var joined []row
			for p := 1; p <= first.TotalPages; p++ {
				req.Page = p
				res, err := Query(items, rowColumns, nil, req)
				if err != nil || res.TotalPages != first.TotalPages {
					return false
				}
				if p < first.TotalPages && len(res.Items) != pageSize {
					return false
				}
				joined = append(joined, res.Items...)
			}
			if len(joined) != len(items) || first.TotalMatched != len(items) {
				return false
			}
			for i := range joined {
				if joined[i] != all.Items[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 20)),
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t)
}

// Equal keys keep their relative input order in both directions.
func TestSortIsStableBothDirections(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	for _, dir := range []Direction{Asc, Desc} {
		dir := dir
		properties.Property("stable "+string(dir), prop.ForAll(
			func(scores []int) bool {
				res, err := Query(rowsFrom(scores), rowColumns, nil, Request{SortKey: "score", SortDirection: dir, Page: 1, PageSize: len(scores) + 1})
				if err != nil {
					return false
				}
				for i := 1; i < len(res.Items); i++ {
					prev, cur := res.Items[i-1], res.Items[i]
					if dir == Asc && prev.Score > cur.Score {
						return false
					}
					if dir == Desc && prev.Score < cur.Score {
						return false
					}
					if prev.Score == cur.Score && prev.Pos > cur.Pos {
						return false
					}
				}
				return true
			},
			gen.SliceOf(gen.IntRange(0, 5)),
		))
	}

	properties.TestingRun(t)
}
