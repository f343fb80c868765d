package registry

import "errors"

var (
	// ErrNotStored is returned when a lookup finds no matching component.
	ErrNotStored = errors.New("registry: component not stored")

	// ErrAmbiguous is returned when a lookup by name or label matches more
	// than one stored component (of the same concrete type or not).
	ErrAmbiguous = errors.New("registry: name matches more than one type")

	// ErrOperationNotAllowed is returned when a mutating method is called
	// on a registry opened read-only.
	ErrOperationNotAllowed = errors.New("registry: operation not allowed")

	// ErrCompositionError is returned when a Preflighter rejects addition.
	ErrCompositionError = errors.New("registry: composition rejected")

	// ErrConflictingSystem is returned when a component already attached
	// to a different system is added to this registry.
	ErrConflictingSystem = errors.New("registry: component belongs to a different system")

	// ErrAlreadyAttached is returned when a supplemental attribute is
	// attached to the same component twice.
	ErrAlreadyAttached = errors.New("registry: attribute already attached to component")
)
