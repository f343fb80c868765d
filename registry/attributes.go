package registry

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"infrasys/component"
)

// SupplementalAttributeRegistry stores SupplementalAttribute values in
// type-bucketed tables, ref-counted by how many components currently
// reference each one. An attribute with no remaining
// references is dropped.
type SupplementalAttributeRegistry struct {
	mu sync.RWMutex

	byType   map[string]map[uuid.UUID]component.SupplementalAttribute
	refCount map[uuid.UUID]int
	// attached[componentUUID] is the set of attribute UUIDs that component references.
	attached map[uuid.UUID]map[uuid.UUID]struct{}
	// owners[attributeUUID] is the set of component UUIDs referencing that attribute.
	owners map[uuid.UUID]map[uuid.UUID]struct{}
}

// NewSupplementalAttributeRegistry constructs an empty registry.
func NewSupplementalAttributeRegistry() *SupplementalAttributeRegistry {
	return &SupplementalAttributeRegistry{
		byType:   make(map[string]map[uuid.UUID]component.SupplementalAttribute),
		refCount: make(map[uuid.UUID]int),
		attached: make(map[uuid.UUID]map[uuid.UUID]struct{}),
		owners:   make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

// Attach records that componentUUID references attr, storing attr on first
// reference and incrementing its reference count. It fails with
// ErrAlreadyAttached if componentUUID already references this exact
// attribute.
func (s *SupplementalAttributeRegistry) Attach(componentUUID uuid.UUID, attr component.SupplementalAttribute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, already := s.attached[componentUUID][attr.UUID()]; already {
		return fmt.Errorf("%w: component %s already has attribute %s", ErrAlreadyAttached, componentUUID, attr.UUID())
	}

	typeName := typeNameOf(reflect.TypeOf(attr))
	bucket, ok := s.byType[typeName]
	if !ok {
		bucket = make(map[uuid.UUID]component.SupplementalAttribute)
		s.byType[typeName] = bucket
	}
	bucket[attr.UUID()] = attr

	if s.attached[componentUUID] == nil {
		s.attached[componentUUID] = make(map[uuid.UUID]struct{})
	}
	s.attached[componentUUID][attr.UUID()] = struct{}{}

	if s.owners[attr.UUID()] == nil {
		s.owners[attr.UUID()] = make(map[uuid.UUID]struct{})
	}
	s.owners[attr.UUID()][componentUUID] = struct{}{}
	s.refCount[attr.UUID()]++
	return nil
}

// Detach removes the reference from componentUUID to attributeUUID,
// dropping the attribute entirely once its reference count reaches zero.
func (s *SupplementalAttributeRegistry) Detach(componentUUID, attributeUUID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.attached[componentUUID][attributeUUID]; !ok {
		return
	}
	delete(s.attached[componentUUID], attributeUUID)
	if len(s.attached[componentUUID]) == 0 {
		delete(s.attached, componentUUID)
	}
	delete(s.owners[attributeUUID], componentUUID)
	if len(s.owners[attributeUUID]) == 0 {
		delete(s.owners, attributeUUID)
	}

	s.refCount[attributeUUID]--
	if s.refCount[attributeUUID] <= 0 {
		delete(s.refCount, attributeUUID)
		for typeName, bucket := range s.byType {
			if _, ok := bucket[attributeUUID]; ok {
				delete(bucket, attributeUUID)
				if len(bucket) == 0 {
					delete(s.byType, typeName)
				}
				break
			}
		}
	}
}

// ListAttached returns every attribute currently referenced by
// componentUUID.
func (s *SupplementalAttributeRegistry) ListAttached(componentUUID uuid.UUID) []component.SupplementalAttribute {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []component.SupplementalAttribute
	for id := range s.attached[componentUUID] {
		for _, bucket := range s.byType {
			if attr, ok := bucket[id]; ok {
				out = append(out, attr)
				break
			}
		}
	}
	return out
}

// ListOwners returns every component UUID currently referencing
// attributeUUID.
func (s *SupplementalAttributeRegistry) ListOwners(attributeUUID uuid.UUID) []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(s.owners[attributeUUID]))
	for id := range s.owners[attributeUUID] {
		out = append(out, id)
	}
	return out
}

// All returns every attribute currently stored, regardless of type. Used by
// package serialize to enumerate attributes for persistence.
func (s *SupplementalAttributeRegistry) All() []component.SupplementalAttribute {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []component.SupplementalAttribute
	for _, bucket := range s.byType {
		for _, attr := range bucket {
			out = append(out, attr)
		}
	}
	return out
}

// RefCount reports how many components currently reference attributeUUID.
func (s *SupplementalAttributeRegistry) RefCount(attributeUUID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refCount[attributeUUID]
}

// GetAttribute returns the attribute identified by id, regardless of type.
func (s *SupplementalAttributeRegistry) GetAttribute(id uuid.UUID) (component.SupplementalAttribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, bucket := range s.byType {
		if attr, ok := bucket[id]; ok {
			return attr, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotStored, id)
}

// ListAttributes returns every stored attribute whose concrete type
// implements T, optionally narrowed by filter.
func ListAttributes[T component.SupplementalAttribute](s *SupplementalAttributeRegistry, filter func(T) bool) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []T
	for _, bucket := range s.byType {
		for _, attr := range bucket {
			if t, ok := attr.(T); ok && (filter == nil || filter(t)) {
				out = append(out, t)
			}
		}
	}
	return out
}

// GetAttribute returns the attribute identified by id whose concrete type
// is T.
func GetAttribute[T component.SupplementalAttribute](s *SupplementalAttributeRegistry, id uuid.UUID) (T, error) {
	var zero T
	attr, err := s.GetAttribute(id)
	if err != nil {
		return zero, err
	}
	t, ok := attr.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is not the requested type", ErrNotStored, id)
	}
	return t, nil
}
