package vectorindex

import (
	"fmt"
	"strconv"
)

type Op string

const (
	OpEq Op = "$eq"
	OpIn Op = "$in"
)

// Predicate is one equality or set membership test on a metadata field.
type Predicate struct {
	Field  string
	Op     Op
	Values []interface{}
}

func Eq(field string, value interface{}) Predicate {
	return Predicate{Field: field, Op: OpEq, Values: []interface{}{value}}
}

func In(field string, values ...interface{}) Predicate {
	return Predicate{Field: field, Op: OpIn, Values: values}
}

// Filter is a conjunction of predicates. A nil Filter matches everything.
type Filter struct {
	preds []Predicate
}

// And returns nil when no predicate is given.
func And(preds ...Predicate) *Filter {
	if len(preds) == 0 {
		return nil
	}
	return &Filter{preds: preds}
}

func (f *Filter) IsEmpty() bool {
	return f == nil || len(f.preds) == 0
}

func (f *Filter) Predicates() []Predicate {
	if f == nil {
		return nil
	}
	return f.preds
}

// Where renders the filter in chroma's where syntax.
func (f *Filter) Where() map[string]interface{} {
	if f.IsEmpty() {
		return nil
	}
	clauses := make([]map[string]interface{}, 0, len(f.preds))
	for _, p := range f.preds {
		var v interface{}
		if p.Op == OpEq {
			v = p.Values[0]
		} else {
			v = p.Values
		}
		clauses = append(clauses, map[string]interface{}{p.Field: map[string]interface{}{string(p.Op): v}})
	}
	if len(clauses) == 1 {
		return clauses[0]
	}
	and := make([]interface{}, 0, len(clauses))
	for _, c := range clauses {
		and = append(and, c)
	}
	return map[string]interface{}{"$and": and}
}

// Match reports whether metadata satisfies every predicate. Numbers compare
// by value regardless of their Go type.
func (f *Filter) Match(metadata map[string]interface{}) bool {
	for _, p := range f.Predicates() {
		got, ok := metadata[p.Field]
		if !ok {
			return false
		}
		key := scalarKey(got)
		matched := false
		for _, want := range p.Values {
			if scalarKey(want) == key {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// scalarKey gives the text form postgres' ->> operator produces for a value.
func scalarKey(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.FormatInt(int64(t), 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
