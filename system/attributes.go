package system

import (
	"fmt"

	"github.com/google/uuid"

	"infrasys/component"
	"infrasys/registry"
)

// AddSupplementalAttribute attaches attr to c, rejecting a duplicate
// attachment.
func (s *System) AddSupplementalAttribute(c component.Component, attr component.SupplementalAttribute) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	return s.attrs.Attach(c.UUID(), attr)
}

// RemoveSupplementalAttribute detaches every component from attr and drops
// it from the registry.
func (s *System) RemoveSupplementalAttribute(attr component.SupplementalAttribute) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	for _, owner := range s.attrs.ListOwners(attr.UUID()) {
		s.attrs.Detach(owner, attr.UUID())
	}
	return nil
}

// RemoveSupplementalAttributeFromComponent detaches attr from c only,
// dropping attr entirely once no component references it anymore.
func (s *System) RemoveSupplementalAttributeFromComponent(c component.Component, attr component.SupplementalAttribute) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.attrs.Detach(c.UUID(), attr.UUID())
	return nil
}

// GetSupplementalAttributes returns every stored attribute whose concrete
// type implements T, optionally narrowed by filter.
func GetSupplementalAttributes[T component.SupplementalAttribute](s *System, filter func(T) bool) []T {
	return registry.ListAttributes[T](s.attrs, filter)
}

// GetComponentsWithSupplementalAttribute returns the UUID of every
// component currently referencing attr.
func (s *System) GetComponentsWithSupplementalAttribute(attr component.SupplementalAttribute) []uuid.UUID {
	return s.attrs.ListOwners(attr.UUID())
}

// GetSupplementalAttributesWithComponent returns every attribute attached to
// c whose concrete type implements T, optionally narrowed by filter.
func GetSupplementalAttributesWithComponent[T component.SupplementalAttribute](s *System, c component.Component, filter func(T) bool) []T {
	var out []T
	for _, attr := range s.attrs.ListAttached(c.UUID()) {
		if t, ok := attr.(T); ok && (filter == nil || filter(t)) {
			out = append(out, t)
		}
	}
	return out
}

// GetAttributeByUUID returns the attribute identified by id whose concrete
// type is T.
func GetAttributeByUUID[T component.SupplementalAttribute](s *System, id uuid.UUID) (T, error) {
	t, err := registry.GetAttribute[T](s.attrs, id)
	if err != nil {
		return t, fmt.Errorf("system: %w", err)
	}
	return t, nil
}
