package memstore

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/likearthian/lightodm"
	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// errReplacementUpdate matches the driver, which refuses update documents
// without operators.
var errReplacementUpdate = errors.New("memstore: update document must contain key beginning with '$'")

// applyUpdate returns a copy of doc with the operators of changes applied.
// inserting marks the document created by an upsert, the only case where
// $setOnInsert applies.
func applyUpdate(doc bson.M, changes bson.M, inserting bool) (bson.M, error) {
	if !isOperatorDoc(changes) {
		return nil, errReplacementUpdate
	}

	out := deepCopy(doc).(bson.M)
	for op, arg := range changes {
		fields, ok := arg.(bson.M)
		if !ok {
			return nil, fmt.Errorf("memstore: %s needs a document", op)
		}

		for path, val := range fields {
			if err := applyOperator(out, op, path, deepCopy(val), inserting); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

func applyOperator(doc bson.M, op, path string, val any, inserting bool) error {
	switch op {
	case "$set":
		setPath(doc, path, val)
	case "$setOnInsert":
		if inserting {
			setPath(doc, path, val)
		}
	case "$unset":
		unsetPath(doc, path)
	case "$inc", "$mul":
		if !isNumber(val) {
			return fmt.Errorf("memstore: %s needs a number for %s", op, path)
		}

		cur, found := lookup(doc, path)
		if !found || cur == nil {
			if op == "$mul" {
				val = multiply(0, val)
			}
			setPath(doc, path, val)
			return nil
		}

		if !isNumber(cur) {
			return fmt.Errorf("memstore: cannot apply %s to non-numeric field %s", op, path)
		}

		if op == "$inc" {
			setPath(doc, path, add(cur, val))
		} else {
			setPath(doc, path, multiply(cur, val))
		}
	case "$min", "$max":
		cur, found := lookup(doc, path)
		c := compareValues(val, cur)
		if !found || (op == "$min" && c < 0) || (op == "$max" && c > 0) {
			setPath(doc, path, val)
		}
	case "$push", "$addToSet":
		cur, found := lookup(doc, path)
		arr, isArr := cur.(primitive.A)
		if found && !isArr {
			return fmt.Errorf("memstore: cannot apply %s to non-array field %s", op, path)
		}

		items, err := pushItems(op, path, val)
		if err != nil {
			return err
		}

		for _, item := range items {
			if op == "$addToSet" && containsValue(arr, item) {
				continue
			}
			arr = append(arr, item)
		}
		setPath(doc, path, arr)
	case "$pull":
		cur, found := lookup(doc, path)
		arr, isArr := cur.(primitive.A)
		if !found || !isArr {
			return nil
		}

		kept := primitive.A{}
		for _, e := range arr {
			hit, err := matchField(e, true, val)
			if err != nil {
				return err
			}
			if !hit {
				kept = append(kept, e)
			}
		}
		setPath(doc, path, kept)
	default:
		return fmt.Errorf("%w: update operator %s", lightodm.ErrUnsupported, op)
	}

	return nil
}

// pushItems returns the values $push or $addToSet appends: the elements of
// $each, or val itself.
func pushItems(op, path string, val any) (primitive.A, error) {
	m, ok := val.(bson.M)
	if !ok || !isOperatorDoc(m) {
		return primitive.A{val}, nil
	}

	for k := range m {
		if k != "$each" {
			return nil, fmt.Errorf("%w: %s modifier %s", lightodm.ErrUnsupported, op, k)
		}
	}

	each, ok := m["$each"].(primitive.A)
	if !ok {
		return nil, fmt.Errorf("memstore: %s $each for %s needs an array", op, path)
	}

	return each, nil
}

// containsValue reports whether arr holds an element equal to v.
func containsValue(arr primitive.A, v any) bool {
	for _, e := range arr {
		if equal(e, v) {
			return true
		}
	}

	return false
}

func add(a, b any) any {
	if isInteger(a) && isInteger(b) {
		return narrow(cast.ToInt64(a) + cast.ToInt64(b))
	}

	return cast.ToFloat64(a) + cast.ToFloat64(b)
}

func multiply(a, b any) any {
	if isInteger(a) && isInteger(b) {
		return narrow(cast.ToInt64(a) * cast.ToInt64(b))
	}

	return cast.ToFloat64(a) * cast.ToFloat64(b)
}

// narrow keeps integers that fit in 32 bits as int32, the way the server
// stores small integer results.
func narrow(n int64) any {
	if n >= math.MinInt32 && n <= math.MaxInt32 {
		return int32(n)
	}

	return n
}

func setPath(doc bson.M, path string, val any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(bson.M)
		if !ok {
			next = bson.M{}
			cur[p] = next
		}
		cur = next
	}

	cur[parts[len(parts)-1]] = val
}

func unsetPath(doc bson.M, path string) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(bson.M)
		if !ok {
			return
		}
		cur = next
	}

	delete(cur, parts[len(parts)-1])
}
