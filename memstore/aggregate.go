package memstore

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/likearthian/lightodm"
	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type stage struct {
	name string
	run  func(docs []bson.M) ([]bson.M, error)
}

// parsePipeline accepts the pipeline shapes the driver accepts: a slice of
// bson.D, bson.M or map[string]any stages.
func parsePipeline(pipeline any) ([]stage, error) {
	if pipeline == nil {
		return nil, nil
	}

	rv := reflect.ValueOf(pipeline)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("memstore: pipeline must be a list of stages, got %T", pipeline)
	}

	stages := make([]stage, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		name, arg, err := splitStage(rv.Index(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("memstore: pipeline stage %d: %w", i, err)
		}

		st, err := buildStage(name, arg)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}

	return stages, nil
}

func splitStage(s any) (string, any, error) {
	switch st := s.(type) {
	case bson.D:
		if len(st) == 1 {
			return st[0].Key, st[0].Value, nil
		}
	case bson.M:
		for k, v := range st {
			if len(st) == 1 {
				return k, v, nil
			}
		}
	case map[string]any:
		for k, v := range st {
			if len(st) == 1 {
				return k, v, nil
			}
		}
	default:
		return "", nil, fmt.Errorf("stage must be a document, got %T", s)
	}

	return "", nil, fmt.Errorf("stage must hold exactly one operator")
}

func buildStage(name string, arg any) (stage, error) {
	switch name {
	case "$match":
		query, err := normalize(arg)
		if err != nil {
			return stage{}, err
		}
		return stage{name: name, run: func(docs []bson.M) ([]bson.M, error) {
			return filterDocs(docs, query)
		}}, nil
	case "$sort":
		keys, err := stageSort(arg)
		if err != nil {
			return stage{}, err
		}
		return stage{name: name, run: func(docs []bson.M) ([]bson.M, error) {
			sortDocs(docs, keys)
			return docs, nil
		}}, nil
	case "$skip":
		n, err := cast.ToInt64E(arg)
		if err != nil {
			return stage{}, fmt.Errorf("memstore: $skip: %w", err)
		}
		return stage{name: name, run: func(docs []bson.M) ([]bson.M, error) {
			return page(docs, n, 0), nil
		}}, nil
	case "$limit":
		n, err := cast.ToInt64E(arg)
		if err != nil || n <= 0 {
			return stage{}, fmt.Errorf("memstore: $limit must be a positive integer")
		}
		return stage{name: name, run: func(docs []bson.M) ([]bson.M, error) {
			return page(docs, 0, n), nil
		}}, nil
	case "$count":
		field, ok := arg.(string)
		if !ok || field == "" || isOperator(field) || strings.Contains(field, ".") {
			return stage{}, fmt.Errorf("memstore: $count needs a plain field name")
		}
		return stage{name: name, run: func(docs []bson.M) ([]bson.M, error) {
			if len(docs) == 0 {
				return []bson.M{}, nil
			}
			return []bson.M{{field: narrow(int64(len(docs)))}}, nil
		}}, nil
	case "$group":
		spec, err := normalize(arg)
		if err != nil {
			return stage{}, err
		}
		if _, ok := spec[idKey]; !ok {
			return stage{}, fmt.Errorf("memstore: $group needs an _id expression")
		}
		return stage{name: name, run: func(docs []bson.M) ([]bson.M, error) {
			return group(docs, spec)
		}}, nil
	case "$project":
		spec, err := normalize(arg)
		if err != nil {
			return stage{}, err
		}
		return stage{name: name, run: func(docs []bson.M) ([]bson.M, error) {
			return project(docs, spec)
		}}, nil
	}

	return stage{}, fmt.Errorf("%w: aggregation stage %s", lightodm.ErrUnsupported, name)
}

func filterDocs(docs []bson.M, query bson.M) ([]bson.M, error) {
	out := make([]bson.M, 0, len(docs))
	for _, doc := range docs {
		ok, err := matches(doc, query)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}

	return out, nil
}

func stageSort(arg any) (lightodm.Sort, error) {
	var keys lightodm.Sort
	switch s := arg.(type) {
	case bson.D:
		for _, e := range s {
			keys = append(keys, lightodm.SortKey{Key: e.Key, Order: cast.ToInt(e.Value)})
		}
	case bson.M, map[string]any:
		m := reflect.ValueOf(s)
		names := make([]string, 0, m.Len())
		for _, k := range m.MapKeys() {
			names = append(names, k.String())
		}
		sort.Strings(names)
		for _, name := range names {
			keys = append(keys, lightodm.SortKey{Key: name, Order: cast.ToInt(m.MapIndex(reflect.ValueOf(name)).Interface())})
		}
	default:
		return nil, fmt.Errorf("memstore: $sort needs a document, got %T", arg)
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("memstore: $sort needs at least one key")
	}

	return keys, nil
}

// eval resolves an aggregation expression against doc: "$path" reads a
// field, a document evaluates each of its members, anything else is a
// literal. Operator expressions such as {"$multiply": ...} are not
// implemented.
func eval(doc bson.M, expr any) (any, error) {
	switch e := expr.(type) {
	case string:
		if strings.HasPrefix(e, "$") {
			v, _ := lookup(doc, e[1:])
			return v, nil
		}
	case bson.M:
		out := make(bson.M, len(e))
		for k, v := range e {
			if isOperator(k) {
				return nil, fmt.Errorf("%w: expression operator %s", lightodm.ErrUnsupported, k)
			}

			val, err := eval(doc, v)
			if err != nil {
				return nil, err
			}
			out[k] = val
		}
		return out, nil
	}

	return expr, nil
}

type accumulator struct {
	field string
	op    string
	expr  any
}

type groupState struct {
	key    any
	values map[string]any
	counts map[string]int64
}

func group(docs []bson.M, spec bson.M) ([]bson.M, error) {
	var accs []accumulator
	for field, v := range spec {
		if field == idKey {
			continue
		}

		m, ok := v.(bson.M)
		if !ok || len(m) != 1 {
			return nil, fmt.Errorf("memstore: $group field %s must be a single accumulator", field)
		}

		for op, expr := range m {
			switch op {
			case "$sum", "$avg", "$min", "$max", "$first", "$last", "$push", "$addToSet", "$count":
			default:
				return nil, fmt.Errorf("%w: $group accumulator %s", lightodm.ErrUnsupported, op)
			}
			accs = append(accs, accumulator{field: field, op: op, expr: expr})
		}
	}
	sort.Slice(accs, func(i, j int) bool {
		return accs[i].field < accs[j].field
	})

	var groups []*groupState
	for _, doc := range docs {
		key, err := eval(doc, spec[idKey])
		if err != nil {
			return nil, err
		}

		var g *groupState
		for _, candidate := range groups {
			if equal(candidate.key, key) {
				g = candidate
				break
			}
		}
		if g == nil {
			g = &groupState{key: key, values: map[string]any{}, counts: map[string]int64{}}
			groups = append(groups, g)
		}

		for _, acc := range accs {
			if err := accumulate(g, acc, doc); err != nil {
				return nil, err
			}
		}
	}

	out := make([]bson.M, 0, len(groups))
	for _, g := range groups {
		res := bson.M{idKey: g.key}
		for _, acc := range accs {
			res[acc.field] = finalize(g, acc)
		}
		out = append(out, res)
	}

	return out, nil
}

func accumulate(g *groupState, acc accumulator, doc bson.M) error {
	if acc.op == "$count" {
		g.counts[acc.field]++
		return nil
	}

	v, err := eval(doc, acc.expr)
	if err != nil {
		return err
	}
	cur, seen := g.values[acc.field]

	switch acc.op {
	case "$sum", "$avg":
		if !isNumber(v) {
			return nil
		}
		g.counts[acc.field]++
		if !seen {
			g.values[acc.field] = v
			return nil
		}
		g.values[acc.field] = add(cur, v)
	case "$min":
		if v != nil && (!seen || compareValues(v, cur) < 0) {
			g.values[acc.field] = v
		}
	case "$max":
		if v != nil && (!seen || compareValues(v, cur) > 0) {
			g.values[acc.field] = v
		}
	case "$first":
		if !seen {
			g.values[acc.field] = v
		}
	case "$last":
		g.values[acc.field] = v
	case "$push", "$addToSet":
		arr, _ := cur.(primitive.A)
		if acc.op == "$addToSet" && containsValue(arr, v) {
			return nil
		}
		g.values[acc.field] = append(arr, v)
	}

	return nil
}

func finalize(g *groupState, acc accumulator) any {
	switch acc.op {
	case "$count":
		return narrow(g.counts[acc.field])
	case "$sum":
		if v, ok := g.values[acc.field]; ok {
			return v
		}
		return int32(0)
	case "$avg":
		n := g.counts[acc.field]
		if n == 0 {
			return nil
		}
		return cast.ToFloat64(g.values[acc.field]) / float64(n)
	case "$push", "$addToSet":
		if v, ok := g.values[acc.field]; ok {
			return v
		}
		return primitive.A{}
	}

	return g.values[acc.field]
}

// project supports field inclusion, exclusion and "$path" renames.
func project(docs []bson.M, spec bson.M) ([]bson.M, error) {
	include := false
	for k, v := range spec {
		if k != idKey && isTruthy(v) {
			include = true
			break
		}
	}

	out := make([]bson.M, len(docs))
	for i, doc := range docs {
		var res bson.M
		if include {
			res = bson.M{}
			if id, ok := doc[idKey]; ok {
				res[idKey] = id
			}
		} else {
			res = deepCopy(doc).(bson.M)
		}

		for k, v := range spec {
			switch {
			case !isTruthy(v) && !isExpression(v):
				unsetPath(res, k)
			case isExpression(v):
				val, err := eval(doc, v)
				if err != nil {
					return nil, err
				}
				setPath(res, k, val)
			default:
				if val, ok := lookup(doc, k); ok {
					setPath(res, k, val)
				}
			}
		}
		out[i] = res
	}

	return out, nil
}

func isTruthy(v any) bool {
	if isNumber(v) {
		return cast.ToFloat64(v) != 0
	}

	b, ok := v.(bool)
	return ok && b || isExpression(v)
}

func isExpression(v any) bool {
	switch e := v.(type) {
	case string:
		return strings.HasPrefix(e, "$")
	case bson.M:
		return true
	}

	return false
}
