package registry

import (
	"reflect"

	"github.com/google/uuid"

	"infrasys/component"
)

// Association is one component-to-component or component-to-attribute
// reference discovered by reflecting over a component's exported fields.
type Association struct {
	OwnerUUID uuid.UUID
	OwnerType string
	ChildUUID uuid.UUID
	ChildType string
}

// AssociationIndex tracks which components reference which other
// components (or supplemental attributes) through their exported fields,
// so a System can answer "what points at this component" without a
// dedicated foreign-key schema.
type AssociationIndex struct {
	rows    []Association
	byOwner map[uuid.UUID][]Association
	byChild map[uuid.UUID][]Association
}

func newAssociationIndex() *AssociationIndex {
	return &AssociationIndex{
		byOwner: make(map[uuid.UUID][]Association),
		byChild: make(map[uuid.UUID][]Association),
	}
}

func (a *AssociationIndex) clone() *AssociationIndex {
	out := newAssociationIndex()
	out.rows = append(out.rows, a.rows...)
	for k, v := range a.byOwner {
		out.byOwner[k] = append([]Association(nil), v...)
	}
	for k, v := range a.byChild {
		out.byChild[k] = append([]Association(nil), v...)
	}
	return out
}

// indexComponent walks owner's exported fields, recording a row for every
// field (or slice/array element) that implements component.Component or
// component.SupplementalAttribute.
func (a *AssociationIndex) indexComponent(owner component.Component) {
	ownerType := typeNameOf(reflect.TypeOf(owner))
	v := reflect.ValueOf(owner)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if !field.CanInterface() {
			continue
		}
		a.indexValue(owner.UUID(), ownerType, field)
	}
}

func (a *AssociationIndex) indexValue(ownerUUID uuid.UUID, ownerType string, field reflect.Value) {
	switch field.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < field.Len(); i++ {
			a.indexValue(ownerUUID, ownerType, field.Index(i))
		}
		return
	case reflect.Ptr, reflect.Interface:
		if field.IsNil() {
			return
		}
	}
	if !field.CanInterface() {
		return
	}
	iface := field.Interface()

	if child, ok := iface.(component.Component); ok {
		if child.UUID() == ownerUUID {
			return
		}
		a.addRow(Association{
			OwnerUUID: ownerUUID,
			OwnerType: ownerType,
			ChildUUID: child.UUID(),
			ChildType: typeNameOf(reflect.TypeOf(child)),
		})
		return
	}
	if attr, ok := iface.(component.SupplementalAttribute); ok {
		a.addRow(Association{
			OwnerUUID: ownerUUID,
			OwnerType: ownerType,
			ChildUUID: attr.UUID(),
			ChildType: typeNameOf(reflect.TypeOf(attr)),
		})
	}
}

// componentChildren returns every direct composed-component field value
// (including slice/array elements), skipping supplemental attributes and
// any field that is not itself a component.Component. Used by
// Registry.addLocked to find detached composed components that need
// auto-adding or rejecting.
func componentChildren(owner component.Component) []component.Component {
	v := reflect.ValueOf(owner)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	var out []component.Component
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if !field.CanInterface() {
			continue
		}
		collectComponentChildren(owner.UUID(), field, &out)
	}
	return out
}

func collectComponentChildren(ownerUUID uuid.UUID, field reflect.Value, out *[]component.Component) {
	switch field.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < field.Len(); i++ {
			collectComponentChildren(ownerUUID, field.Index(i), out)
		}
		return
	case reflect.Ptr, reflect.Interface:
		if field.IsNil() {
			return
		}
	}
	if !field.CanInterface() {
		return
	}
	if child, ok := field.Interface().(component.Component); ok && child.UUID() != ownerUUID {
		*out = append(*out, child)
	}
}

func (a *AssociationIndex) addRow(row Association) {
	a.rows = append(a.rows, row)
	a.byOwner[row.OwnerUUID] = append(a.byOwner[row.OwnerUUID], row)
	a.byChild[row.ChildUUID] = append(a.byChild[row.ChildUUID], row)
}

// removeComponent drops every association row naming id on either
// side: rows where id is the owner (e.g. a removed
// Generator's reference to its Bus) and rows where id is the child of a
// still-live owner (e.g. a still-live Generator's stale reference to a
// removed Bus), along with the corresponding entries in the opposite
// index.
func (a *AssociationIndex) removeComponent(id uuid.UUID) {
	ownerRows := a.byOwner[id]
	delete(a.byOwner, id)
	childRows := a.byChild[id]
	delete(a.byChild, id)
	if len(ownerRows) == 0 && len(childRows) == 0 {
		return
	}

	filtered := a.rows[:0:0]
	for _, row := range a.rows {
		if row.OwnerUUID != id && row.ChildUUID != id {
			filtered = append(filtered, row)
		}
	}
	a.rows = filtered

	for _, row := range ownerRows {
		a.byChild[row.ChildUUID] = removeRowsWithOwner(a.byChild[row.ChildUUID], id)
		if len(a.byChild[row.ChildUUID]) == 0 {
			delete(a.byChild, row.ChildUUID)
		}
	}
	for _, row := range childRows {
		a.byOwner[row.OwnerUUID] = removeRowsWithChild(a.byOwner[row.OwnerUUID], id)
		if len(a.byOwner[row.OwnerUUID]) == 0 {
			delete(a.byOwner, row.OwnerUUID)
		}
	}
}

func removeRowsWithOwner(rows []Association, ownerUUID uuid.UUID) []Association {
	kept := rows[:0:0]
	for _, row := range rows {
		if row.OwnerUUID != ownerUUID {
			kept = append(kept, row)
		}
	}
	return kept
}

func removeRowsWithChild(rows []Association, childUUID uuid.UUID) []Association {
	kept := rows[:0:0]
	for _, row := range rows {
		if row.ChildUUID != childUUID {
			kept = append(kept, row)
		}
	}
	return kept
}

// ListChildren returns the raw association rows whose owner is ownerUUID.
// ListChildComponents resolves them to live, type-filtered components.
func (a *AssociationIndex) ListChildren(ownerUUID uuid.UUID) []Association {
	return append([]Association(nil), a.byOwner[ownerUUID]...)
}

// ListParents returns the raw association rows whose child is childUUID.
// ListParentComponents resolves them to live, type-filtered components.
func (a *AssociationIndex) ListParents(childUUID uuid.UUID) []Association {
	return append([]Association(nil), a.byChild[childUUID]...)
}
