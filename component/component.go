// Package component defines the base abstractions a System attaches,
// indexes, and persists: Component, the entity with a stable UUID and an
// optional owning system; WithQuantities, a component that may carry
// time-series metadata; and SupplementalAttribute, a shared, unnamed
// metadata record.
//
// Downstream packages compose concrete component types by embedding Base
// and adding their own typed fields; there is no type hierarchy to
// subclass.
package component

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrAlreadyAttached is returned when a component that is already owned by
// a system is attached to another (or the same) system.
var ErrAlreadyAttached = errors.New("component: already attached to a system")

// Component is the capability set every attachable entity implements. It is
// intentionally small: downstream packages are expected to grow their own
// richer types around it rather than extend this interface.
type Component interface {
	// UUID is the stable, globally unique identifier assigned at
	// construction. It never changes for the lifetime of the value.
	UUID() uuid.UUID

	// Name is the human-readable identifier. It is frozen after
	// construction; renaming requires a copy (system.CopyComponent with a
	// new name).
	Name() string

	// SystemUUID reports the owning system, if any. ok is false for a
	// detached component.
	SystemUUID() (id uuid.UUID, ok bool)

	// Attach records systemUUID as the owner. Only Registry.Add should
	// call this; it fails if the component is already attached to any
	// system, this one included.
	Attach(systemUUID uuid.UUID) error

	// Detach clears the owning system. Only Registry.Remove should call
	// this.
	Detach()
}

// WithQuantities is implemented by components that may carry attached
// time-series metadata. The
// metadata slice itself lives on the concrete type; this interface only
// exposes the operations the registry and time-series manager need.
type WithQuantities interface {
	Component

	// HasTimeSeries reports whether any time-series metadata is currently
	// recorded against this component.
	HasTimeSeries() bool
}

// TimeSeriesTracker is implemented by concrete WithQuantities types that
// maintain their own attached-time-series bookkeeping. The System facade
// calls MarkTimeSeriesAdded/MarkTimeSeriesRemoved after a successful
// time-series manager operation so HasTimeSeries keeps reflecting the real
// attachment state without the system package reaching into a concrete
// type's private fields.
type TimeSeriesTracker interface {
	WithQuantities
	MarkTimeSeriesAdded()
	MarkTimeSeriesRemoved(stillHasAny bool)
}

// TimeSeriesClearer is implemented by concrete WithQuantities types whose
// duplicates made by system.CopyComponent must have their attached
// time-series metadata stripped.
type TimeSeriesClearer interface {
	ClearTimeSeries()
}

// Preflighter is implemented by concrete component types that need to
// enforce composition rules beyond "already attached" before they are
// added to a registry.
type Preflighter interface {
	CheckComponentAddition() error
}

// SupplementalAttribute is a UUID-bearing record with no name constraint,
// intended to be shared across many components.
type SupplementalAttribute interface {
	UUID() uuid.UUID
}

// AttributeBase implements SupplementalAttribute's UUID requirement and is
// meant to be embedded by concrete attribute types, the same way Base is
// embedded by concrete component types.
type AttributeBase struct {
	id uuid.UUID
}

// NewAttributeBase constructs an AttributeBase with a freshly allocated
// UUID.
func NewAttributeBase() AttributeBase {
	return AttributeBase{id: uuid.New()}
}

// RestoreAttributeBase reconstructs an AttributeBase with an explicit,
// already-known UUID. (Package serialize restores attribute identity
// through RestoreIdentity instead.)
func RestoreAttributeBase(id uuid.UUID) AttributeBase {
	return AttributeBase{id: id}
}

func (b *AttributeBase) UUID() uuid.UUID { return b.id }

// RestoreIdentity overwrites the UUID of an AttributeBase produced by a
// registered factory's zero value, mirroring Base.RestoreIdentity.
func (b *AttributeBase) RestoreIdentity(id uuid.UUID) { b.id = id }

// Base implements Component and is meant to be embedded by concrete types.
type Base struct {
	id         uuid.UUID
	name       string
	systemUUID uuid.UUID
	attached   bool
}

// NewBase constructs a Base with a freshly allocated UUID and the given
// name. name is frozen for the lifetime of the component; renaming requires
// a copy (system.CopyComponent with a new name).
func NewBase(name string) Base {
	return Base{id: uuid.New(), name: name}
}

// RestoreBase reconstructs a Base with an explicit, already-known UUID.
// The serialization loader (package serialize) does not call it: it
// restores identity on a factory-made zero value through RestoreIdentity,
// and Registry.DeepCopy preserves UUIDs by copying whole structs.
func RestoreBase(id uuid.UUID, name string) Base {
	return Base{id: id, name: name}
}

func (b *Base) UUID() uuid.UUID { return b.id }

func (b *Base) Name() string { return b.name }

func (b *Base) SystemUUID() (uuid.UUID, bool) {
	if !b.attached {
		return uuid.Nil, false
	}
	return b.systemUUID, true
}

func (b *Base) Attach(systemUUID uuid.UUID) error {
	if b.attached {
		return fmt.Errorf("%w: component %s (%s)", ErrAlreadyAttached, b.name, b.id)
	}
	b.systemUUID = systemUUID
	b.attached = true
	return nil
}

func (b *Base) Detach() {
	b.systemUUID = uuid.Nil
	b.attached = false
}

// RestoreIdentity overwrites the UUID and name of a detached Base. It
// exists so package serialize can reconstruct a concrete component from a
// zero value produced by its registered factory and the identity fields
// carried in the envelope, without exporting Base's fields. It panics if
// called on an already-attached Base, since identity must never change
// once a component belongs to a system.
func (b *Base) RestoreIdentity(id uuid.UUID, name string) {
	if b.attached {
		panic("component: RestoreIdentity called on an attached component")
	}
	b.id = id
	b.name = name
}

// Label formats the "<TypeName>.<name>" label used by Registry.GetByLabel.
func Label(typeName, name string) string {
	return typeName + "." + name
}
