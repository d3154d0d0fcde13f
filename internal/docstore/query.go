package docstore

import (
	"cmp"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

type Filter struct {
	Field string
	Value string
}

// Query selects documents whose top-level string fields equal every filter
// value, optionally ordered by a top-level field.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
}

func Where(field, value string) Query {
	return Query{Filters: []Filter{{Field: field, Value: value}}}
}

func (q Query) Order(field string, desc bool) Query {
	q.OrderBy = field
	q.Desc = desc
	return q
}

type decodedDoc struct {
	doc    Document
	fields map[string]any
}

// apply filters and sorts docs in memory. It is shared by the backends that
// cannot push the query down.
func apply(docs []Document, q Query) ([]Document, error) {
	decoded := make([]decodedDoc, 0, len(docs))
	for _, doc := range docs {
		var fields map[string]any
		if err := json.Unmarshal(doc.Data, &fields); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", doc.ID, err)
		}
		if !matches(fields, q.Filters) {
			continue
		}
		decoded = append(decoded, decodedDoc{doc: doc, fields: fields})
	}

	if q.OrderBy != "" {
		sort.SliceStable(decoded, func(i, j int) bool {
			c := compareValues(decoded[i].fields[q.OrderBy], decoded[j].fields[q.OrderBy])
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	}

	out := make([]Document, len(decoded))
	for i, d := range decoded {
		out[i] = d.doc
	}
	return out, nil
}

func matches(fields map[string]any, filters []Filter) bool {
	for _, f := range filters {
		v, ok := fields[f.Field].(string)
		if !ok || v != f.Value {
			return false
		}
	}
	return true
}

// compareValues orders numbers numerically, RFC 3339 timestamps
// chronologically and everything else by string form. Missing values sort first.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if af, ok := a.(float64); ok {
		if bf, ok := b.(float64); ok {
			return cmp.Compare(af, bf)
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		at, aerr := time.Parse(time.RFC3339Nano, as)
		bt, berr := time.Parse(time.RFC3339Nano, bs)
		if aerr == nil && berr == nil {
			return at.Compare(bt)
		}
		return cmp.Compare(as, bs)
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
