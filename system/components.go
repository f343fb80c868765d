package system

import (
	"fmt"

	"github.com/google/uuid"

	"infrasys/component"
	"infrasys/registry"
)

// AddComponent adds c to the system, recursively adding any detached
// composed component it references when the system was constructed with
// Options.AutoAddComposedComponents, and failing with ErrCompositionError
// otherwise.
func (s *System) AddComponent(c component.Component) error {
	var opts []registry.AddOption
	if s.autoAddComposed {
		opts = append(opts, registry.AutoAddComposedComponents())
	}
	return s.reg.Add(c, opts...)
}

// GetComponent returns the component named name whose concrete type is T.
func GetComponent[T component.Component](s *System, name string) (T, error) {
	return registry.Get[T](s.reg, name)
}

// GetComponentByUUID returns the component stored under id.
func (s *System) GetComponentByUUID(id uuid.UUID) (component.Component, error) {
	return s.reg.GetByUUID(id)
}

// GetComponentByLabel returns the component stored under a
// "<TypeName>.<name>" label (component.Label).
func (s *System) GetComponentByLabel(label string) (component.Component, error) {
	return s.reg.GetByLabel(label)
}

// GetComponents returns every stored component whose concrete type
// implements T, optionally narrowed by filter.
func GetComponents[T component.Component](s *System, filter func(T) bool) []T {
	all := registry.Iter[T](s.reg)
	if filter == nil {
		return all
	}
	out := make([]T, 0, len(all))
	for _, c := range all {
		if filter(c) {
			out = append(out, c)
		}
	}
	return out
}

// ListChildComponents returns the components c composes through its
// fields, narrowed to those whose concrete type implements T (use
// component.Component for all of them).
func ListChildComponents[T component.Component](s *System, c component.Component) []T {
	return registry.ListChildComponents[T](s.reg, c)
}

// ListParentComponents returns the components whose fields reference c,
// narrowed to those whose concrete type implements T.
func ListParentComponents[T component.Component](s *System, c component.Component) []T {
	return registry.ListParentComponents[T](s.reg, c)
}

// ListComponentsByName returns every component (of any concrete type) named
// name.
func (s *System) ListComponentsByName(name string) []component.Component {
	return s.reg.ListByName(name)
}

// IterAllComponents returns every component stored in the system.
func (s *System) IterAllComponents() []component.Component {
	return s.reg.IterAll()
}

// UpdateComponents applies fn to every stored component of concrete type T
// matching filter, while holding the registry's write lock.
func UpdateComponents[T component.Component](s *System, filter func(T) bool, fn func(T)) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	for _, c := range registry.Iter[T](s.reg) {
		if filter != nil && !filter(c) {
			continue
		}
		if err := registry.Update[T](s.reg, c.UUID(), fn); err != nil {
			return err
		}
	}
	return nil
}

// RemoveComponent is a cascading removal: every time series
// attached to c is removed first, then c itself. It fails with
// ErrReadOnly on a read-only system; an error while removing a time series
// is returned wrapped, and c is then left in the system.
func (s *System) RemoveComponent(c component.Component) error {
	return s.removeComponentByUUID(c.UUID())
}

// RemoveComponentByName removes the component named name whose concrete
// type is T, the same cascading way RemoveComponent does.
func RemoveComponentByName[T component.Component](s *System, name string) error {
	c, err := registry.Get[T](s.reg, name)
	if err != nil {
		return err
	}
	return s.removeComponentByUUID(c.UUID())
}

// RemoveComponentByUUID removes the component identified by id, the same
// cascading way RemoveComponent does.
func (s *System) RemoveComponentByUUID(id uuid.UUID) error {
	return s.removeComponentByUUID(id)
}

func (s *System) removeComponentByUUID(id uuid.UUID) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	c, err := s.reg.GetByUUID(id)
	if err != nil {
		return err
	}

	if _, ok := c.(component.WithQuantities); ok {
		if err := s.removeAllTimeSeriesFor(c); err != nil {
			return fmt.Errorf("system: removing time series before removing %s: %w", c.Name(), err)
		}
	}
	for _, attr := range s.attrs.ListAttached(c.UUID()) {
		s.attrs.Detach(c.UUID(), attr.UUID())
	}

	_, err = s.reg.Remove(id)
	return err
}

// CopyComponent returns a shallow duplicate of c: composed components stay
// shared, the copy gets a fresh UUID and (optionally) a new name, its
// time-series metadata is stripped, and it is attached to the system iff
// attach is true. Any pointer-to-struct component works; a type may
// implement registry.Cloner to override how it is duplicated, but none
// has to.
func CopyComponent[T component.Component](s *System, c T, newName string, attach bool) (T, error) {
	var zero T
	cloned := registry.CloneComponent(c)
	name := newName
	if name == "" {
		name = c.Name() + "-copy"
	}
	if restorer, ok := cloned.(interface {
		RestoreIdentity(uuid.UUID, string)
	}); ok {
		restorer.RestoreIdentity(uuid.New(), name)
	}
	if clearer, ok := cloned.(component.TimeSeriesClearer); ok {
		clearer.ClearTimeSeries()
	}

	typed, ok := cloned.(T)
	if !ok {
		return zero, fmt.Errorf("%w: clone of %T did not preserve its concrete type", registry.ErrOperationNotAllowed, c)
	}
	if attach {
		if err := s.AddComponent(typed); err != nil {
			return zero, err
		}
	}
	return typed, nil
}

// DeepCopyComponent returns an independent duplicate of c and,
// recursively, of every composed component it references, preserving
// UUIDs and names. It is never attached; callers intending to migrate it
// to a different system call AddComponent themselves.
func DeepCopyComponent[T component.Component](c T) T {
	cloned := registry.DeepClone(c)
	typed, ok := cloned.(T)
	if !ok {
		return c
	}
	return typed
}
