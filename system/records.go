package system

import (
	"reflect"

	"infrasys/component"
	"infrasys/quantity"
	"infrasys/registry"
)

// Record is one flattened row of ToRecords: the component's identity plus
// its exported scalar and quantity fields, the row-oriented shape a
// tabular consumer (a dataframe library, a CSV writer) expects.
type Record map[string]any

// ToRecords returns one Record per stored component of concrete type T,
// optionally narrowed by filter. Composed-component and time-series-bearing
// fields are omitted; only exported scalar and *quantity.Quantity fields are
// flattened, keyed by their Go field name.
func ToRecords[T component.Component](s *System, filter func(T) bool) []Record {
	components := registry.Iter[T](s.reg)
	records := make([]Record, 0, len(components))
	for _, c := range components {
		if filter != nil && !filter(c) {
			continue
		}
		rec := Record{
			"uuid": c.UUID(),
			"name": c.Name(),
		}
		flattenFields(reflect.ValueOf(c), rec)
		records = append(records, rec)
	}
	return records
}

func flattenFields(v reflect.Value, rec Record) {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		fv := v.Field(i)
		switch val := fv.Interface().(type) {
		case component.Base:
			continue
		case *quantity.Quantity:
			if val != nil {
				rec[field.Name] = val.Value
			}
		case quantity.Quantity:
			rec[field.Name] = val.Value
		default:
			if isScalarKind(fv.Kind()) {
				rec[field.Name] = fv.Interface()
			}
		}
	}
}

func isScalarKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}
