package lightodm

import (
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var timeType = reflect.TypeOf(time.Time{})

type encodeOptions struct {
	excludeNone bool
}

// EncodeOption configures how a document is encoded for the store.
type EncodeOption func(o *encodeOptions)

// ExcludeNone leaves nil-valued fields out of the encoded document so that a
// partial model does not overwrite stored values with nulls.
func ExcludeNone() EncodeOption {
	return func(o *encodeOptions) {
		o.excludeNone = true
	}
}

// Encode converts doc into its wire document. The identity is written under
// "_id", declared fields under their wire names and undeclared fields from
// the extras bag as they are.
func Encode[T any](doc *T, options ...EncodeOption) (bson.M, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: cannot encode a nil document", ErrInvalidValue)
	}

	d, err := Describe[T]()
	if err != nil {
		return nil, err
	}

	opt := encodeOptions{}
	for _, op := range options {
		op(&opt)
	}

	return d.encode(reflect.ValueOf(doc).Elem(), opt), nil
}

func (d *Descriptor) encode(v reflect.Value, opt encodeOptions) bson.M {
	out := make(bson.M, len(d.fields)+1)

	if id := d.getID(v); id != "" {
		out[idKey] = id
	} else if !opt.excludeNone {
		out[idKey] = nil
	}

	for _, f := range d.fields {
		fv := v.FieldByIndex(f.index)
		if isNil(fv) {
			if !opt.excludeNone && !f.omitEmpty {
				out[f.wire] = nil
			}
			continue
		}

		if f.omitEmpty && fv.IsZero() {
			continue
		}

		out[f.wire] = indirect(fv).Interface()
	}

	if d.extra == nil {
		return out
	}

	iter := v.FieldByIndex(d.extra.index).MapRange()
	for iter.Next() {
		key := iter.Key().String()
		if _, declared := d.byWire[key]; declared || key == idKey || key == d.id.wire {
			continue
		}

		val := iter.Value().Interface()
		if val == nil && opt.excludeNone {
			continue
		}

		out[key] = val
	}

	return out
}

// Decode builds a model instance from a wire document. A nil document decodes
// to a nil instance without error. The construction step runs on the result,
// so composite IDs are recomputed from the decoded key fields and replace
// whatever ID was stored.
func Decode[T any](raw bson.M) (*T, error) {
	if raw == nil {
		return nil, nil
	}

	d, err := Describe[T]()
	if err != nil {
		return nil, err
	}

	doc := new(T)
	v := reflect.ValueOf(doc).Elem()
	if err := d.decode(raw, v); err != nil {
		return nil, err
	}

	if err := d.assignID(v); err != nil {
		return nil, err
	}

	return doc, nil
}

func (d *Descriptor) decode(raw bson.M, v reflect.Value) error {
	var extras map[string]any
	for key, val := range raw {
		switch {
		case key == idKey:
			d.setID(v, idString(val))
			continue
		case key == d.id.wire:
			if _, ok := raw[idKey]; !ok {
				d.setID(v, idString(val))
			}
			continue
		}

		if pos, ok := d.byWire[key]; ok {
			f := d.fields[pos]
			if err := decodeField(f.wire, val, v.FieldByIndex(f.index)); err != nil {
				return fmt.Errorf("failed to decode %s.%s: %w", d.Name(), f.name, err)
			}
			continue
		}

		if extras == nil {
			extras = make(map[string]any)
		}
		extras[key] = val
	}

	if d.extra != nil && extras != nil {
		ev := v.FieldByIndex(d.extra.index)
		m := reflect.MakeMapWithSize(ev.Type(), len(extras))
		for k, val := range extras {
			if val == nil {
				m.SetMapIndex(reflect.ValueOf(k).Convert(ev.Type().Key()), reflect.Zero(ev.Type().Elem()))
				continue
			}
			m.SetMapIndex(reflect.ValueOf(k).Convert(ev.Type().Key()), reflect.ValueOf(val))
		}
		ev.Set(m)
	}

	return nil
}

func decodeField(name string, val any, fv reflect.Value) error {
	if val == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}

	rv := reflect.ValueOf(val)
	if rv.Type().AssignableTo(fv.Type()) {
		fv.Set(rv)
		return nil
	}

	if fv.Kind() == reflect.Ptr && rv.Type().AssignableTo(fv.Type().Elem()) {
		p := reflect.New(fv.Type().Elem())
		p.Elem().Set(rv)
		fv.Set(p)
		return nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    tagBSON,
		Result:     fv.Addr().Interface(),
		DecodeHook: driverValueHook,
	})
	if err != nil {
		return err
	}

	if err := dec.Decode(val); err != nil {
		return fmt.Errorf("field %q: %w", name, err)
	}

	return nil
}

// driverValueHook converts the values the MongoDB driver produces when it
// decodes into bson.M into the plain Go values model fields are declared with.
func driverValueHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	switch v := data.(type) {
	case primitive.DateTime:
		if to == timeType {
			return v.Time(), nil
		}
	case primitive.ObjectID:
		if to.Kind() == reflect.String {
			return v.Hex(), nil
		}
	case primitive.A:
		return []any(v), nil
	case primitive.D:
		m := make(map[string]any, len(v))
		for _, e := range v {
			m[e.Key] = e.Value
		}
		return m, nil
	}

	return data, nil
}

func idString(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case primitive.ObjectID:
		return v.Hex()
	}

	return stringify(val)
}
