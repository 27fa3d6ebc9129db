package lightodm

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/iancoleman/strcase"
)

const (
	idKey    = "_id"
	tagBSON  = "bson"
	tagODM   = "odm"
	odmID    = "id"
	odmExtra = "extra"
)

type fieldKind int

const (
	plainField fieldKind = iota
	identityField
	extraField
)

type field struct {
	name      string
	wire      string
	index     []int
	depth     int
	kind      fieldKind
	omitEmpty bool
}

// Descriptor is the immutable mapping metadata of one model type. It is
// resolved on first use and cached for the life of the process.
type Descriptor struct {
	modelType   reflect.Type
	settings    Settings
	hasSettings bool

	id     field
	extra  *field
	fields []field
	byWire map[string]int

	compositeKey []field
	compositeErr error
}

var descriptors sync.Map

// Describe returns the descriptor of model type T.
func Describe[T any]() (*Descriptor, error) {
	return describeType(reflect.TypeFor[T]())
}

func describeType(t reflect.Type) (*Descriptor, error) {
	if d, ok := descriptors.Load(t); ok {
		return d.(*Descriptor), nil
	}

	d, err := resolveDescriptor(t)
	if err != nil {
		return nil, err
	}

	actual, _ := descriptors.LoadOrStore(t, d)
	return actual.(*Descriptor), nil
}

func resolveDescriptor(t reflect.Type) (*Descriptor, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: model type %s must be a struct, got %s", ErrConfiguration, t, t.Kind())
	}

	d := &Descriptor{
		modelType: t,
		byWire:    make(map[string]int),
	}
	d.settings, d.hasSettings = modelSettings(t)

	var id, extra *field
	seen := make(map[string]int)
	for _, f := range collectFields(t, nil, 0) {
		switch f.kind {
		case identityField:
			if id == nil || f.depth < id.depth {
				id = &f
			}
			continue
		case extraField:
			if extra == nil || f.depth < extra.depth {
				extra = &f
			}
			continue
		}

		if pos, ok := seen[f.wire]; ok {
			if d.fields[pos].depth > f.depth {
				d.fields[pos] = f
			}
			continue
		}

		seen[f.wire] = len(d.fields)
		d.fields = append(d.fields, f)
	}

	if id == nil {
		if pos, ok := findByName(d.fields, "ID"); ok {
			f := d.fields[pos]
			f.kind = identityField
			id = &f
			d.fields = append(d.fields[:pos], d.fields[pos+1:]...)
		}
	}

	if id == nil {
		return nil, fmt.Errorf("%w: model %s has no identity field; embed lightodm.Document or tag a field with odm:\"id\"", ErrConfiguration, t.Name())
	}

	if kind := t.FieldByIndex(id.index).Type.Kind(); kind != reflect.String {
		return nil, fmt.Errorf("%w: identity field %s of model %s must be a string, got %s", ErrConfiguration, id.name, t.Name(), kind)
	}

	if extra != nil {
		et := t.FieldByIndex(extra.index).Type
		if et.Kind() != reflect.Map || et.Key().Kind() != reflect.String || et.Elem().Kind() != reflect.Interface || et.Elem().NumMethod() != 0 {
			return nil, fmt.Errorf("%w: extra field %s of model %s must be a map[string]any", ErrConfiguration, extra.name, t.Name())
		}
	}

	d.id = *id
	d.extra = extra
	for i, f := range d.fields {
		d.byWire[f.wire] = i
	}

	d.resolveCompositeKey()

	return d, nil
}

func (d *Descriptor) resolveCompositeKey() {
	keys := d.settings.CompositeKey
	if keys == nil {
		return
	}

	if len(keys) == 0 {
		d.compositeErr = fmt.Errorf("%w: composite key of model %s must be a non-empty list", ErrConfiguration, d.Name())
		return
	}

	for _, key := range keys {
		pos, ok := d.byWire[key]
		if !ok {
			pos, ok = findByName(d.fields, key)
		}

		if !ok {
			d.compositeErr = fmt.Errorf("%w: composite key field %q not found in model %s", ErrConfiguration, key, d.Name())
			d.compositeKey = nil
			return
		}

		d.compositeKey = append(d.compositeKey, d.fields[pos])
	}
}

func collectFields(t reflect.Type, parent []int, depth int) []field {
	var fields []field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}

		index := append(append([]int(nil), parent...), i)
		name, opts := parseTag(sf.Tag.Get(tagBSON))

		switch strings.TrimSpace(sf.Tag.Get(tagODM)) {
		case odmID:
			wire := name
			if wire == "" || wire == "-" {
				wire = idKey
			}
			fields = append(fields, field{name: sf.Name, wire: wire, index: index, depth: depth, kind: identityField})
			continue
		case odmExtra:
			fields = append(fields, field{name: sf.Name, index: index, depth: depth, kind: extraField})
			continue
		case "-":
			continue
		}

		if name == "-" {
			continue
		}

		if sf.Anonymous && sf.Type.Kind() == reflect.Struct && (name == "" || hasOption(opts, "inline")) {
			fields = append(fields, collectFields(sf.Type, index, depth+1)...)
			continue
		}

		if name == "" {
			name = strcase.ToSnake(sf.Name)
		}

		fields = append(fields, field{
			name:      sf.Name,
			wire:      name,
			index:     index,
			depth:     depth,
			omitEmpty: hasOption(opts, "omitempty"),
		})
	}

	return fields
}

func parseTag(tag string) (string, []string) {
	if tag == "" {
		return "", nil
	}

	parts := strings.Split(tag, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	return parts[0], parts[1:]
}

func hasOption(opts []string, opt string) bool {
	return SliceContains(opts, opt)
}

func findByName(fields []field, name string) (int, bool) {
	for i, f := range fields {
		if f.name == name {
			return i, true
		}
	}

	return -1, false
}

func modelSettings(t reflect.Type) (Settings, bool) {
	if m, ok := reflect.Zero(t).Interface().(Model); ok {
		return m.Settings(), true
	}

	if m, ok := reflect.New(t).Interface().(Model); ok {
		return m.Settings(), true
	}

	return Settings{}, false
}

// Name returns the model type name.
func (d *Descriptor) Name() string {
	return d.modelType.Name()
}

// CollectionName returns the collection the model is stored in. It fails with
// ErrConfiguration when the model declares no settings or an empty name.
func (d *Descriptor) CollectionName() (string, error) {
	if !d.hasSettings {
		return "", fmt.Errorf("%w: model %s must implement Settings() to declare its collection", ErrConfiguration, d.Name())
	}

	if strings.TrimSpace(d.settings.Name) == "" {
		return "", fmt.Errorf("%w: model %s must define a collection name in its Settings", ErrConfiguration, d.Name())
	}

	return d.settings.Name, nil
}

// CompositeKey returns the declared composite key field names, or nil when
// the model uses random IDs.
func (d *Descriptor) CompositeKey() []string {
	if d.settings.CompositeKey == nil {
		return nil
	}

	return append([]string{}, d.settings.CompositeKey...)
}

// UsesIdentityAlias reports whether the identity field is declared under the
// reserved "_id" key.
func (d *Descriptor) UsesIdentityAlias() bool {
	return d.id.wire == idKey
}

// IdentityField returns the Go name of the identity field.
func (d *Descriptor) IdentityField() string {
	return d.id.name
}

// Fields returns the wire names of the declared fields other than the
// identity, in declaration order.
func (d *Descriptor) Fields() []string {
	return Map(d.fields, func(f field) string {
		return f.wire
	})
}

// Init is the construction step of a model instance. Models with a composite
// key get their ID recomputed from the key fields, overwriting any ID already
// set; other models get a random ID when theirs is empty.
func Init[T any](doc *T) error {
	if doc == nil {
		return fmt.Errorf("%w: cannot initialize a nil document", ErrInvalidValue)
	}

	d, err := Describe[T]()
	if err != nil {
		return err
	}

	return d.assignID(reflect.ValueOf(doc).Elem())
}

func (d *Descriptor) assignID(v reflect.Value) error {
	if d.settings.CompositeKey == nil {
		if d.getID(v) == "" {
			d.setID(v, GenerateID())
		}
		return nil
	}

	if d.compositeErr != nil {
		return d.compositeErr
	}

	values := make([]any, len(d.compositeKey))
	for i, f := range d.compositeKey {
		fv := v.FieldByIndex(f.index)
		if isNil(fv) {
			return fmt.Errorf("%w: composite key field %q of model %s is nil", ErrInvalidValue, f.wire, d.Name())
		}
		values[i] = indirect(fv).Interface()
	}

	d.setID(v, GenerateCompositeID(values...))
	return nil
}

func (d *Descriptor) getID(v reflect.Value) string {
	return v.FieldByIndex(d.id.index).String()
}

func (d *Descriptor) setID(v reflect.Value, id string) {
	v.FieldByIndex(d.id.index).SetString(id)
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}

	return false
}

func indirect(v reflect.Value) reflect.Value {
	for (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) && !v.IsNil() {
		v = v.Elem()
	}

	return v
}
