package serialize

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"

	"infrasys/component"
)

// refMetadata is the discriminator carried by a serialized
// composed-component reference: "{__metadata__: {serialized_type:
// composed_component, module, type, uuid}}".
type refMetadata struct {
	SerializedType string    `json:"serialized_type"`
	Module         string    `json:"module"`
	Type           string    `json:"type"`
	UUID           uuid.UUID `json:"uuid"`
}

// refEnvelope is the wire shape of a single composed-component reference.
type refEnvelope struct {
	Metadata refMetadata `json:"__metadata__"`
}

// baseMetadata is the discriminator a serialized component object itself
// carries: "Base objects carry their own __metadata__ plus all normal
// fields".
type baseMetadata struct {
	SerializedType string    `json:"serialized_type"`
	Module         string    `json:"module"`
	Type           string    `json:"type"`
	UUID           uuid.UUID `json:"uuid"`
}

var componentType = reflect.TypeOf((*component.Component)(nil)).Elem()

// identityFieldType reports whether t is one of the identity structs
// (component.Base, component.AttributeBase) embedded anonymously by every
// concrete type; their fields are never serialized as ordinary struct
// fields since the envelope's own name/__metadata__ already carries that
// identity.
func identityFieldType(t reflect.Type) bool {
	return t == reflect.TypeOf(component.Base{}) || t == reflect.TypeOf(component.AttributeBase{})
}

// jsonKey returns the wire key a struct field serializes under, and false
// if the field is unexported or tagged json:"-".
func jsonKey(f reflect.StructField) (string, bool) {
	if f.PkgPath != "" {
		return "", false
	}
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}
	return name, true
}

// structOf dereferences a pointer to its addressable struct value.
func structOf(v any) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return reflect.Value{}, fmt.Errorf("serialize: %T is a nil pointer", v)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("serialize: %T is not a struct", v)
	}
	return rv, nil
}

// marshalComponentFields walks owner's exported, non-identity fields,
// substituting any Component-typed or []Component-typed field with the
// documented composed_component reference envelope and leaving every other field to ordinary
// json.Marshal (which is how quantity.Quantity's own {value, units,
// __metadata__} envelope reaches the document unchanged).
func marshalComponentFields(owner any) (map[string]json.RawMessage, error) {
	v, err := structOf(owner)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Anonymous && identityFieldType(field.Type) {
			continue
		}
		key, ok := jsonKey(field)
		if !ok {
			continue
		}
		raw, err := marshalFieldValue(v.Field(i))
		if err != nil {
			return nil, fmt.Errorf("serialize: marshaling field %q: %w", field.Name, err)
		}
		out[key] = raw
	}
	return out, nil
}

func marshalFieldValue(fv reflect.Value) (json.RawMessage, error) {
	ft := fv.Type()

	if ft.Implements(componentType) {
		if (ft.Kind() == reflect.Ptr || ft.Kind() == reflect.Interface) && fv.IsNil() {
			return json.Marshal(nil)
		}
		return json.Marshal(componentReference(fv.Interface().(component.Component)))
	}

	if (ft.Kind() == reflect.Slice || ft.Kind() == reflect.Array) && ft.Elem().Implements(componentType) {
		refs := make([]*refEnvelope, fv.Len())
		for i := 0; i < fv.Len(); i++ {
			elem := fv.Index(i)
			if (elem.Kind() == reflect.Ptr || elem.Kind() == reflect.Interface) && elem.IsNil() {
				continue
			}
			refs[i] = componentReference(elem.Interface().(component.Component))
		}
		return json.Marshal(refs)
	}

	return json.Marshal(fv.Interface())
}

func componentReference(c component.Component) *refEnvelope {
	key, ok := lookupKey(c)
	if !ok {
		key = typeKey{}
	}
	return &refEnvelope{Metadata: refMetadata{
		SerializedType: "composed_component",
		Module:         key.Module,
		Type:           key.Type,
		UUID:           c.UUID(),
	}}
}

// pendingRef is a composed-component reference discovered while decoding a
// component's fields that could not be resolved yet because the referent
// has not been constructed in this load attempt. apply is called once the
// referent is available; it type-asserts and writes it into the owning
// struct field (or slice element) by reflection.
type pendingRef struct {
	target uuid.UUID
	apply  func(component.Component) error
}

// unmarshalComponentFields is the mirror of marshalComponentFields: it
// populates owner's scalar fields directly from raw, and for every
// Component-typed or []Component-typed field returns a pendingRef the
// caller resolves once the referenced component exists.
func unmarshalComponentFields(owner any, raw map[string]json.RawMessage) ([]pendingRef, error) {
	v, err := structOf(owner)
	if err != nil {
		return nil, err
	}
	var pending []pendingRef
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Anonymous && identityFieldType(field.Type) {
			continue
		}
		key, ok := jsonKey(field)
		if !ok {
			continue
		}
		data, present := raw[key]
		if !present || string(data) == "null" {
			continue
		}
		refs, err := unmarshalFieldValue(v.Field(i), data)
		if err != nil {
			return nil, fmt.Errorf("serialize: unmarshaling field %q: %w", field.Name, err)
		}
		pending = append(pending, refs...)
	}
	return pending, nil
}

func unmarshalFieldValue(fv reflect.Value, data []byte) ([]pendingRef, error) {
	ft := fv.Type()

	if ft.Implements(componentType) {
		var ref refEnvelope
		if err := json.Unmarshal(data, &ref); err != nil {
			return nil, err
		}
		target := fv
		return []pendingRef{{
			target: ref.Metadata.UUID,
			apply: func(c component.Component) error {
				rv := reflect.ValueOf(c)
				if !rv.Type().AssignableTo(target.Type()) {
					return fmt.Errorf("serialize: %s is not assignable to %s", rv.Type(), target.Type())
				}
				target.Set(rv)
				return nil
			},
		}}, nil
	}

	if ft.Kind() == reflect.Slice && ft.Elem().Implements(componentType) {
		var refs []*refEnvelope
		if err := json.Unmarshal(data, &refs); err != nil {
			return nil, err
		}
		slice := reflect.MakeSlice(ft, len(refs), len(refs))
		fv.Set(slice)
		var pending []pendingRef
		for i, ref := range refs {
			if ref == nil {
				continue
			}
			idx := i
			pending = append(pending, pendingRef{
				target: ref.Metadata.UUID,
				apply: func(c component.Component) error {
					elem := slice.Index(idx)
					rv := reflect.ValueOf(c)
					if !rv.Type().AssignableTo(elem.Type()) {
						return fmt.Errorf("serialize: %s is not assignable to %s", rv.Type(), elem.Type())
					}
					elem.Set(rv)
					return nil
				},
			})
		}
		return pending, nil
	}

	if !fv.CanAddr() {
		return nil, fmt.Errorf("serialize: field is not addressable")
	}
	if err := json.Unmarshal(data, fv.Addr().Interface()); err != nil {
		return nil, err
	}
	return nil, nil
}
