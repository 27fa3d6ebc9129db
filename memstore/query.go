package memstore

import (
	"cmp"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/likearthian/lightodm"
	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// normalize converts a document given in any form the driver accepts into a
// fresh bson.M holding the values the driver would hand back after a round
// trip: time.Time becomes primitive.DateTime, structs become documents and
// so on.
func normalize(v any) (bson.M, error) {
	if v == nil {
		return bson.M{}, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Ptr, reflect.Slice:
		if rv.IsNil() {
			return bson.M{}, nil
		}
	}

	data, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("memstore: cannot encode document: %w", err)
	}

	var raw bson.M
	if err := bson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("memstore: cannot decode document: %w", err)
	}

	return deepCopy(raw).(bson.M), nil
}

// deepCopy copies documents and arrays recursively, converting every
// document to bson.M and every array to primitive.A.
func deepCopy(v any) any {
	switch x := v.(type) {
	case bson.M:
		return copyMap(x)
	case map[string]any:
		return copyMap(x)
	case bson.D:
		out := make(bson.M, len(x))
		for _, e := range x {
			out[e.Key] = deepCopy(e.Value)
		}
		return out
	case primitive.A:
		return copyArray(x)
	case []any:
		return copyArray(x)
	}

	return v
}

func copyMap(m map[string]any) bson.M {
	out := make(bson.M, len(m))
	for k, v := range m {
		out[k] = deepCopy(v)
	}

	return out
}

func copyArray(a []any) primitive.A {
	out := make(primitive.A, len(a))
	for i, v := range a {
		out[i] = deepCopy(v)
	}

	return out
}

func isOperator(key string) bool {
	return strings.HasPrefix(key, "$")
}

func lookup(doc bson.M, path string) (any, bool) {
	return lookupParts(doc, strings.Split(path, "."))
}

func lookupParts(cur any, parts []string) (any, bool) {
	if len(parts) == 0 {
		return cur, true
	}

	switch x := cur.(type) {
	case bson.M:
		v, ok := x[parts[0]]
		if !ok {
			return nil, false
		}
		return lookupParts(v, parts[1:])
	case primitive.A:
		if i, err := strconv.Atoi(parts[0]); err == nil {
			if i < 0 || i >= len(x) {
				return nil, false
			}
			return lookupParts(x[i], parts[1:])
		}

		var vals primitive.A
		for _, e := range x {
			if v, ok := lookupParts(e, parts); ok {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			return nil, false
		}
		return vals, true
	}

	return nil, false
}

func matches(doc bson.M, query bson.M) (bool, error) {
	for key, cond := range query {
		var ok bool
		var err error
		switch key {
		case "$and", "$or", "$nor":
			ok, err = matchLogical(doc, key, cond)
		default:
			if isOperator(key) {
				return false, fmt.Errorf("%w: query operator %s", lightodm.ErrUnsupported, key)
			}
			val, found := lookup(doc, key)
			ok, err = matchField(val, found, cond)
		}

		if err != nil || !ok {
			return false, err
		}
	}

	return true, nil
}

func matchLogical(doc bson.M, op string, cond any) (bool, error) {
	list, ok := cond.(primitive.A)
	if !ok || len(list) == 0 {
		return false, fmt.Errorf("memstore: %s needs a non-empty array", op)
	}

	for _, c := range list {
		sub, ok := c.(bson.M)
		if !ok {
			return false, fmt.Errorf("memstore: %s entries must be documents", op)
		}

		hit, err := matches(doc, sub)
		if err != nil {
			return false, err
		}

		switch {
		case op == "$and" && !hit:
			return false, nil
		case op == "$or" && hit:
			return true, nil
		case op == "$nor" && hit:
			return false, nil
		}
	}

	return op != "$or", nil
}

func matchField(val any, found bool, cond any) (bool, error) {
	switch c := cond.(type) {
	case bson.M:
		if isOperatorDoc(c) {
			return matchOperators(val, found, c)
		}
	case primitive.Regex:
		return matchRegex(val, found, c.Pattern, c.Options)
	}

	return equalMatch(val, found, cond), nil
}

func isOperatorDoc(m bson.M) bool {
	if len(m) == 0 {
		return false
	}

	for k := range m {
		if !isOperator(k) {
			return false
		}
	}

	return true
}

func matchOperators(val any, found bool, ops bson.M) (bool, error) {
	for op, arg := range ops {
		var ok bool
		var err error
		switch op {
		case "$eq":
			ok = equalMatch(val, found, arg)
		case "$ne":
			ok = !equalMatch(val, found, arg)
		case "$gt", "$gte", "$lt", "$lte":
			ok = anyValue(val, found, func(v any) bool {
				return compareOp(op, v, arg)
			})
		case "$in", "$nin":
			var list primitive.A
			if list, err = arrayArg(op, arg); err == nil {
				ok = op == "$nin"
				for _, e := range list {
					if equalMatch(val, found, e) {
						ok = !ok
						break
					}
				}
			}
		case "$all":
			var list primitive.A
			if list, err = arrayArg(op, arg); err == nil {
				ok = found
				for _, e := range list {
					if !equalMatch(val, found, e) {
						ok = false
						break
					}
				}
			}
		case "$exists":
			ok = found == cast.ToBool(arg)
		case "$size":
			arr, isArr := val.(primitive.A)
			ok = isArr && int64(len(arr)) == cast.ToInt64(arg)
		case "$regex":
			pattern, options := regexArg(arg)
			if o, set := ops["$options"]; set {
				options = cast.ToString(o)
			}
			ok, err = matchRegex(val, found, pattern, options)
		case "$options":
			continue
		case "$not":
			ok, err = matchField(val, found, arg)
			ok = !ok
		case "$elemMatch":
			ok, err = matchElem(val, arg)
		default:
			return false, fmt.Errorf("%w: query operator %s", lightodm.ErrUnsupported, op)
		}

		if err != nil || !ok {
			return false, err
		}
	}

	return true, nil
}

func arrayArg(op string, arg any) (primitive.A, error) {
	list, ok := arg.(primitive.A)
	if !ok {
		return nil, fmt.Errorf("memstore: %s needs an array", op)
	}

	return list, nil
}

func regexArg(arg any) (string, string) {
	if r, ok := arg.(primitive.Regex); ok {
		return r.Pattern, r.Options
	}

	return cast.ToString(arg), ""
}

func matchRegex(val any, found bool, pattern, options string) (bool, error) {
	var flags string
	for _, o := range options {
		if strings.ContainsRune("ims", o) {
			flags += string(o)
		}
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("memstore: invalid regular expression: %w", err)
	}

	return anyValue(val, found, func(v any) bool {
		s, ok := v.(string)
		return ok && re.MatchString(s)
	}), nil
}

func matchElem(val any, arg any) (bool, error) {
	arr, ok := val.(primitive.A)
	if !ok {
		return false, nil
	}

	cond, ok := arg.(bson.M)
	if !ok {
		return false, fmt.Errorf("memstore: $elemMatch needs a document")
	}

	for _, e := range arr {
		var hit bool
		var err error
		if doc, isDoc := e.(bson.M); isDoc && !isOperatorDoc(cond) {
			hit, err = matches(doc, cond)
		} else {
			hit, err = matchOperators(e, true, cond)
		}

		if err != nil {
			return false, err
		}
		if hit {
			return true, nil
		}
	}

	return false, nil
}

func equalMatch(val any, found bool, target any) bool {
	if target == nil {
		return !found || val == nil
	}

	if !found {
		return false
	}

	if equal(val, target) {
		return true
	}

	if arr, ok := val.(primitive.A); ok {
		for _, e := range arr {
			if equal(e, target) {
				return true
			}
		}
	}

	return false
}

func anyValue(val any, found bool, fn func(v any) bool) bool {
	if !found {
		return false
	}

	if fn(val) {
		return true
	}

	if arr, ok := val.(primitive.A); ok {
		for _, e := range arr {
			if fn(e) {
				return true
			}
		}
	}

	return false
}

func compareOp(op string, v, arg any) bool {
	if typeRank(v) != typeRank(arg) {
		return false
	}

	c := compareValues(v, arg)
	switch op {
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	case "$lt":
		return c < 0
	default:
		return c <= 0
	}
}

func equal(a, b any) bool {
	if isNumber(a) && isNumber(b) {
		return cast.ToFloat64(a) == cast.ToFloat64(b)
	}

	switch x := a.(type) {
	case bson.M:
		y, ok := b.(bson.M)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, ok := y[k]
			if !ok || !equal(v, w) {
				return false
			}
		}
		return true
	case primitive.A:
		y, ok := b.(primitive.A)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equal(x[i], y[i]) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(a, b)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}

	return false
}

func isInteger(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}

	return false
}

// typeRank follows the MongoDB comparison order between BSON types.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 1
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return 2
	case string:
		return 3
	case bson.M:
		return 4
	case primitive.A:
		return 5
	case primitive.Binary:
		return 6
	case primitive.ObjectID:
		return 7
	case bool:
		return 8
	case primitive.DateTime:
		return 9
	case primitive.Timestamp:
		return 10
	case primitive.Regex:
		return 11
	}

	return 12
}

func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}

	switch x := a.(type) {
	case string:
		return strings.Compare(x, b.(string))
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case primitive.DateTime:
		return cmp.Compare(int64(x), int64(b.(primitive.DateTime)))
	case primitive.ObjectID:
		return strings.Compare(x.Hex(), b.(primitive.ObjectID).Hex())
	case primitive.Timestamp:
		return primitive.CompareTimestamp(x, b.(primitive.Timestamp))
	case primitive.A:
		y := b.(primitive.A)
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := compareValues(x[i], y[i]); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(x), len(y))
	}

	if ra == 2 {
		return cmp.Compare(cast.ToFloat64(a), cast.ToFloat64(b))
	}

	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func sortDocs(docs []bson.M, keys lightodm.Sort) {
	if len(keys) == 0 {
		return
	}

	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			a, _ := lookup(docs[i], k.Key)
			b, _ := lookup(docs[j], k.Key)
			c := compareValues(a, b)
			if c == 0 {
				continue
			}
			if k.Order < 0 {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func sortKeys(s lightodm.Sort) lightodm.Sort {
	return lightodm.Filter(s, func(k lightodm.SortKey) bool {
		return k.Key != ""
	})
}

// seedFromFilter collects the equality conditions of a filter, which seed
// the document created by an upsert.
func seedFromFilter(query bson.M) bson.M {
	doc := bson.M{}
	for key, cond := range query {
		if isOperator(key) {
			continue
		}

		if m, ok := cond.(bson.M); ok && isOperatorDoc(m) {
			eq, ok := m["$eq"]
			if !ok {
				continue
			}
			cond = eq
		}

		setPath(doc, key, deepCopy(cond))
	}

	return doc
}
