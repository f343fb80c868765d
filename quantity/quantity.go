// Package quantity implements the self-describing (value, unit) pair that
// travels through serialization unchanged.
//
// Arithmetic between quantities is explicitly out of scope here; it is
// delegated to whatever unit-aware numeric library a downstream package
// chooses. This package only validates dimensional compatibility at
// construction and handles the JSON envelope.
package quantity

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnitMismatch is returned when a unit is not dimensionally compatible
// with the declared base unit of its quantity subtype.
var ErrUnitMismatch = errors.New("quantity: unit mismatch")

// ErrSchemaError is returned when a quantity subtype has not declared a
// compatible base unit.
var ErrSchemaError = errors.New("quantity: schema error")

// Quantity is a (magnitude, unit) pair. Value may be a scalar, a
// one-dimensional sequence, or a multi-dimensional array; this package
// treats it as an opaque `any` and only inspects Units.
type Quantity struct {
	Value any
	Units string

	baseUnit string
	module   string
	typeName string
}

// New constructs a Quantity, validating that units is dimensionally
// compatible with baseUnit. baseUnit is the compatible-unit declared by the
// concrete subtype (e.g. "MW" for an ActivePower quantity); an empty
// baseUnit is a schema error, not a unit mismatch, since it means the
// subtype never declared one. module and typeName are the same (module,
// type) discriminator pair a concrete subtype registers with
// serialize.RegisterType, threaded through to the __metadata__ envelope
// so a consumer reading the serialized document back can
// recover which concrete quantity subtype produced the value.
func New(value any, units, baseUnit, module, typeName string) (*Quantity, error) {
	if baseUnit == "" {
		return nil, fmt.Errorf("%w: quantity subtype has no declared compatible unit", ErrSchemaError)
	}
	if !Compatible(units, baseUnit) {
		return nil, fmt.Errorf("%w: %q is not compatible with base unit %q", ErrUnitMismatch, units, baseUnit)
	}
	return &Quantity{Value: value, Units: units, baseUnit: baseUnit, module: module, typeName: typeName}, nil
}

// BaseUnit returns the compatible-unit this quantity was validated against.
func (q *Quantity) BaseUnit() string {
	return q.baseUnit
}

// Tag returns the (module, type) discriminator pair this quantity
// serializes under.
func (q *Quantity) Tag() (module, typeName string) {
	return q.module, q.typeName
}

// envelope is the wire representation of a serialized quantity.
type envelope struct {
	Value    any          `json:"value"`
	Units    string       `json:"units"`
	Metadata envelopeMeta `json:"__metadata__"`
}

type envelopeMeta struct {
	SerializedType string `json:"serialized_type"`
	Module         string `json:"module,omitempty"`
	Type           string `json:"type,omitempty"`
}

// MarshalJSON implements json.Marshaler, producing the
// {value, units, __metadata__} envelope.
func (q *Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelope{
		Value: q.Value,
		Units: q.Units,
		Metadata: envelopeMeta{
			SerializedType: "quantity",
			Module:         q.module,
			Type:           q.typeName,
		},
	})
}

// FromMap reconstructs a Quantity from a decoded JSON object (as produced by
// MarshalJSON), re-validating dimensional compatibility against baseUnit and
// recovering the (module, type) tag from the envelope's __metadata__ if
// present.
func FromMap(raw map[string]any, baseUnit string) (*Quantity, error) {
	units, _ := raw["units"].(string)
	var module, typeName string
	if meta, ok := raw["__metadata__"].(map[string]any); ok {
		module, _ = meta["module"].(string)
		typeName, _ = meta["type"].(string)
	}
	return New(raw["value"], units, baseUnit, module, typeName)
}
