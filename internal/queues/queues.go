// Package queues defines the moderation queue tables: the columns, search
// fields and filters each case kind is presented with.
package queues

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/example/modconsole/internal/cases"
	"github.com/example/modconsole/internal/table"
)

type fieldType int

const (
	textField fieldType = iota
	numberField
)

// payloadField is a payload key exposed by a queue.
type payloadField struct {
	key        string
	typ        fieldType
	searchable bool
	filterable bool
}

// Definition is the table of one case kind.
type Definition struct {
	Kind        cases.Kind
	DefaultSort string
	DefaultDir  table.Direction

	table *table.Table[cases.Record]
}

// Query runs req against records. An empty sort key falls back to the
// queue's default ordering.
func (d *Definition) Query(records []cases.Record, req table.Request) (table.Result[cases.Record], error) {
	if req.SortKey == "" {
		req.SortKey = d.DefaultSort
		if req.SortDirection == "" {
			req.SortDirection = d.DefaultDir
		}
	}
	return d.table.Query(records, req)
}

func (d *Definition) Columns() []string { return d.table.Columns() }

// Fields returns the filterable and searchable field ids.
func (d *Definition) Fields() []string { return d.table.Fields() }

var kindFields = map[cases.Kind][]payloadField{
	cases.KindKYC: {
		{key: "applicantName", searchable: true},
		{key: "email", searchable: true},
		{key: "documentType", filterable: true},
		{key: "country", filterable: true, searchable: true},
	},
	cases.KindFraudAlert: {
		{key: "userName", searchable: true},
		{key: "alertType", filterable: true},
		{key: "riskScore", typ: numberField},
		{key: "transactionAmount", typ: numberField},
	},
	cases.KindDispute: {
		{key: "buyerName", searchable: true},
		{key: "sellerName", searchable: true},
		{key: "vehicle", searchable: true},
		{key: "reasonCode", filterable: true},
		{key: "transactionAmount", typ: numberField},
	},
	cases.KindShippingEvidence: {
		{key: "orderId", searchable: true},
		{key: "vehicle", searchable: true},
		{key: "carrier", filterable: true, searchable: true},
		{key: "trackingNumber", searchable: true},
	},
	cases.KindDeliveryEvidence: {
		{key: "orderId", searchable: true},
		{key: "vehicle", searchable: true},
		{key: "buyerName", searchable: true},
		{key: "escrowAmount", typ: numberField},
	},
	cases.KindListing: {
		{key: "title", searchable: true},
		{key: "make", filterable: true, searchable: true},
		{key: "model", searchable: true},
		{key: "sellerName", searchable: true},
		{key: "year", typ: numberField, filterable: true},
		{key: "price", typ: numberField},
		{key: "flagCount", typ: numberField},
	},
	cases.KindReview: {
		{key: "reviewerName", searchable: true},
		{key: "targetName", searchable: true},
		{key: "comment", searchable: true},
		{key: "rating", typ: numberField, filterable: true},
	},
}

// Registry holds one Definition per case kind.
type Registry struct {
	defs map[cases.Kind]*Definition
}

func NewRegistry() *Registry {
	r := &Registry{defs: make(map[cases.Kind]*Definition, len(kindFields))}
	for _, kind := range cases.Kinds() {
		r.defs[kind] = newDefinition(kind, kindFields[kind])
	}
	return r
}

// Get returns the definition for kind or cases.ErrUnknownKind.
func (r *Registry) Get(kind cases.Kind) (*Definition, error) {
	d, ok := r.defs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", cases.ErrUnknownKind, kind)
	}
	return d, nil
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []cases.Kind {
	out := make([]cases.Kind, 0, len(r.defs))
	for k := range r.defs {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func newDefinition(kind cases.Kind, extra []payloadField) *Definition {
	columns := []table.Column[cases.Record]{
		{ID: "id", Sortable: true, Value: func(r cases.Record) any { return r.ID }},
		{ID: "status", Sortable: true, Value: func(r cases.Record) any { return string(r.Status) }},
		{ID: "priority", Sortable: true, Value: priorityRank},
		{ID: "assigned_to", Sortable: true, Value: func(r cases.Record) any { return r.AssignedTo }},
		{ID: "created_at", Sortable: true, Value: func(r cases.Record) any { return r.CreatedAt }},
		{ID: "updated_at", Sortable: true, Value: func(r cases.Record) any { return r.UpdatedAt }},
	}
	fields := map[string]func(cases.Record) string{
		"id":          func(r cases.Record) string { return r.ID },
		"status":      func(r cases.Record) string { return string(r.Status) },
		"priority":    func(r cases.Record) string { return string(r.Priority) },
		"assigned_to": func(r cases.Record) string { return r.AssignedTo },
	}
	searchable := []string{"id"}

	for _, f := range extra {
		key := f.key
		switch f.typ {
		case numberField:
			columns = append(columns, table.Column[cases.Record]{ID: key, Sortable: true, Value: payloadNumber(key)})
		default:
			columns = append(columns, table.Column[cases.Record]{ID: key, Sortable: true, Value: payloadText(key)})
		}
		if f.searchable || f.filterable {
			fields[key] = payloadString(key)
		}
		if f.searchable {
			searchable = append(searchable, key)
		}
	}

	return &Definition{
		Kind:        kind,
		DefaultSort: "created_at",
		DefaultDir:  table.Asc,
		table:       table.New(columns, fields, searchable),
	}
}

func priorityRank(r cases.Record) any {
	if rank := r.Priority.Rank(); rank >= 0 {
		return rank
	}
	return nil
}

func payloadText(key string) func(cases.Record) any {
	return func(r cases.Record) any {
		if s, ok := r.Payload[key].(string); ok {
			return s
		}
		return nil
	}
}

func payloadNumber(key string) func(cases.Record) any {
	return func(r cases.Record) any {
		switch v := r.Payload[key].(type) {
		case float64, float32, int, int32, int64, json.Number:
			return v
		default:
			return nil
		}
	}
}

// payloadString renders a payload value for search and exact-match filters.
// Whole numbers print without a fraction so year=2014 matches 2014.0.
func payloadString(key string) func(cases.Record) string {
	return func(r cases.Record) string {
		switch v := r.Payload[key].(type) {
		case nil:
			return ""
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		default:
			return fmt.Sprint(v)
		}
	}
}
