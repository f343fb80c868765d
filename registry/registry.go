// Package registry implements the in-memory component store a System uses
// to hold, index, and iterate its components. It is
// a map-keyed store generalized from a single flat string key to a
// UUID-keyed store with a secondary "<TypeName>.<name>" label index, plus
// an association index derived by reflecting over each component's fields.
package registry

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"infrasys/component"
)

// Registry holds every component belonging to one system. It is not safe
// to share a single Registry across two systems; each System owns exactly
// one.
type Registry struct {
	mu         sync.RWMutex
	systemUUID uuid.UUID
	readOnly   bool

	byUUID map[uuid.UUID]component.Component
	// byLabel buckets component UUIDs by "<TypeName>.<name>" in insertion
	// order. A bucket may hold more than one UUID;
	// Get[T] and GetByLabel fail with ErrAmbiguous when a lookup resolves
	// to more than one entry.
	byLabel map[string][]uuid.UUID

	assoc *AssociationIndex
}

// New constructs an empty Registry owned by systemUUID.
func New(systemUUID uuid.UUID) *Registry {
	return &Registry{
		systemUUID: systemUUID,
		byUUID:     make(map[uuid.UUID]component.Component),
		byLabel:    make(map[string][]uuid.UUID),
		assoc:      newAssociationIndex(),
	}
}

// SetReadOnly toggles whether mutating methods (Add, Remove, Update) are
// permitted. System.SetReadOnly sets it, e.g. for a System opened with
// OpenOptions.ReadOnly.
func (r *Registry) SetReadOnly(ro bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readOnly = ro
}

func typeNameOf(t reflect.Type) string {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}

// AddOption customizes Registry.Add.
type AddOption func(*addConfig)

type addConfig struct {
	autoAddComposed bool
}

// AutoAddComposedComponents makes Add recursively add any detached composed
// component it finds among c's fields instead of rejecting c with
// ErrCompositionError.
func AutoAddComposedComponents() AddOption {
	return func(c *addConfig) { c.autoAddComposed = true }
}

// Add stores c, attaching it to the registry's system. It fails with
// ErrOperationNotAllowed on a read-only registry, ErrConflictingSystem if c
// is already owned by a different system, ErrCompositionError if c
// implements Preflighter and rejects addition (or if it has a detached
// composed component and AutoAddComposedComponents was not given), and
// ErrCompositionError if c implements component.WithQuantities and already
// carries time-series metadata (new time series must be attached through
// the system, not carried in). A second component of the same concrete
// type and name is accepted into the same insertion-ordered label bucket
// rather than rejected; Get[T] and GetByLabel fail with
// ErrAmbiguous if that bucket is later queried while it holds more than
// one entry.
func (r *Registry) Add(c component.Component, opts ...AddOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg := addConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return r.addLocked(c, cfg, make(map[uuid.UUID]bool))
}

// visiting tracks the components currently being added on this call stack,
// so a reference cycle among composed components terminates instead of
// recursing forever.
func (r *Registry) addLocked(c component.Component, cfg addConfig, visiting map[uuid.UUID]bool) error {
	if r.readOnly {
		return fmt.Errorf("%w: registry is read-only", ErrOperationNotAllowed)
	}
	if owner, ok := c.SystemUUID(); ok {
		if owner != r.systemUUID {
			return fmt.Errorf("%w: %s already belongs to system %s", ErrConflictingSystem, c.Name(), owner)
		}
		// Already attached to this system: a shared composed component
		// reached a second time through another owner's field. Nothing
		// further to do.
		return nil
	}
	if _, ok := r.byUUID[c.UUID()]; ok {
		return fmt.Errorf("%w: a component with UUID %s is already stored", component.ErrAlreadyAttached, c.UUID())
	}
	if wq, ok := c.(component.WithQuantities); ok && wq.HasTimeSeries() {
		return fmt.Errorf("%w: %s carries time-series metadata; new time series must be added through the system", ErrCompositionError, c.Name())
	}
	if pf, ok := c.(component.Preflighter); ok {
		if err := pf.CheckComponentAddition(); err != nil {
			return fmt.Errorf("%w: %v", ErrCompositionError, err)
		}
	}

	visiting[c.UUID()] = true
	for _, child := range componentChildren(c) {
		if _, ok := child.SystemUUID(); ok {
			continue
		}
		if visiting[child.UUID()] {
			// A reference cycle: the child is already being added higher
			// up this call stack and will be attached when that frame
			// unwinds.
			continue
		}
		if !cfg.autoAddComposed {
			return fmt.Errorf("%w: composed component %s is not attached and auto-add is disabled", ErrCompositionError, child.Name())
		}
		if err := r.addLocked(child, cfg, visiting); err != nil {
			return err
		}
	}

	label := component.Label(typeNameOf(reflect.TypeOf(c)), c.Name())

	if err := c.Attach(r.systemUUID); err != nil {
		return err
	}

	r.byUUID[c.UUID()] = c
	r.byLabel[label] = append(r.byLabel[label], c.UUID())
	r.assoc.indexComponent(c)
	return nil
}

// Remove deletes the component identified by id and returns it. It fails
// with ErrCompositionError if c implements component.WithQuantities and
// still has attached time series: callers must remove those first (the
// System facade's RemoveComponent does this as a cascading operation).
func (r *Registry) Remove(id uuid.UUID) (component.Component, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.readOnly {
		return nil, fmt.Errorf("%w: registry is read-only", ErrOperationNotAllowed)
	}
	c, ok := r.byUUID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotStored, id)
	}
	if wq, ok := c.(component.WithQuantities); ok && wq.HasTimeSeries() {
		return nil, fmt.Errorf("%w: %s still has attached time series", ErrCompositionError, c.Name())
	}
	label := component.Label(typeNameOf(reflect.TypeOf(c)), c.Name())
	delete(r.byUUID, id)
	r.removeFromLabelBucket(label, id)
	r.assoc.removeComponent(id)
	c.Detach()
	return c, nil
}

// removeFromLabelBucket drops id out of label's insertion-ordered bucket,
// removing the bucket entirely once it is empty.
func (r *Registry) removeFromLabelBucket(label string, id uuid.UUID) {
	bucket := r.byLabel[label]
	for i, bid := range bucket {
		if bid == id {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(r.byLabel, label)
	} else {
		r.byLabel[label] = bucket
	}
}

// GetByUUID returns the component stored under id.
func (r *Registry) GetByUUID(id uuid.UUID) (component.Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUUID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotStored, id)
	}
	return c, nil
}

// GetByLabel returns the component stored under a "<TypeName>.<name>"
// label, as produced by component.Label. It fails with ErrNotStored if no
// component carries that label, and ErrAmbiguous if more than one does.
func (r *Registry) GetByLabel(label string) (component.Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bucket := r.byLabel[label]
	switch len(bucket) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotStored, label)
	case 1:
		return r.byUUID[bucket[0]], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguous, label)
	}
}

// ListByName returns every component (of any concrete type) whose Name
// equals name.
func (r *Registry) ListByName(name string) []component.Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []component.Component
	for _, c := range r.byUUID {
		if c.Name() == name {
			out = append(out, c)
		}
	}
	return out
}

// IterAll returns every stored component in unspecified order.
func (r *Registry) IterAll() []component.Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]component.Component, 0, len(r.byUUID))
	for _, c := range r.byUUID {
		out = append(out, c)
	}
	return out
}

// Associations exposes the registry's association index.
func (r *Registry) Associations() *AssociationIndex { return r.assoc }

// Copy returns a shallow copy: a new Registry referencing the same
// component values. Mutating a component through either registry is
// visible in both.
func (r *Registry) Copy() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := New(r.systemUUID)
	for id, c := range r.byUUID {
		out.byUUID[id] = c
	}
	for label, bucket := range r.byLabel {
		out.byLabel[label] = append([]uuid.UUID(nil), bucket...)
	}
	out.assoc = r.assoc.clone()
	return out
}

// Cloner is an optional override for component types that need custom
// duplication logic (extra bookkeeping to reset, state that must not be
// shared). Clone must return a detached duplicate. Types that don't
// implement it are duplicated by CloneComponent's whole-struct reflection
// copy; implementing Cloner is never required.
type Cloner interface {
	Clone() component.Component
}

// CloneComponent returns a detached duplicate of c, preserving its UUID
// and name: the type's own Clone method when it implements Cloner,
// otherwise a whole-struct value copy made by reflection (which works for
// any pointer-to-struct component, unexported fields included). Composed
// component fields stay shared references in the duplicate.
func CloneComponent(c component.Component) component.Component {
	if cl, ok := c.(Cloner); ok {
		return cl.Clone()
	}
	rv := reflect.ValueOf(c)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return c
	}
	dup := reflect.New(rv.Type().Elem())
	dup.Elem().Set(rv.Elem())
	clone := dup.Interface().(component.Component)
	clone.Detach()
	return clone
}

// DeepClone duplicates c and, recursively, every composed component
// reachable through its fields, preserving UUIDs and names. Shared
// references stay shared in the duplicate (a bus referenced by two
// generators is cloned once) and reference cycles terminate.
func DeepClone(c component.Component) component.Component {
	return deepClone(c, make(map[uuid.UUID]component.Component))
}

func deepClone(c component.Component, seen map[uuid.UUID]component.Component) component.Component {
	if dup, ok := seen[c.UUID()]; ok {
		return dup
	}
	dup := CloneComponent(c)
	seen[c.UUID()] = dup
	rewireComposedFields(dup, seen)
	return dup
}

// rewireComposedFields replaces every composed-component field (and
// slice/array element) of dup with its deep clone, so the duplicate graph
// never aliases the original's components.
func rewireComposedFields(dup component.Component, seen map[uuid.UUID]component.Component) {
	rv := reflect.ValueOf(dup)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return
	}
	v := rv.Elem()
	if v.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if field.CanSet() {
			rewireValue(field, seen)
		}
	}
}

func rewireValue(field reflect.Value, seen map[uuid.UUID]component.Component) {
	switch field.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < field.Len(); i++ {
			rewireValue(field.Index(i), seen)
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
	child, ok := field.Interface().(component.Component)
	if !ok {
		return
	}
	cloned := reflect.ValueOf(deepClone(child, seen))
	if cloned.Type().AssignableTo(field.Type()) {
		field.Set(cloned)
	}
}

// DeepCopy returns a registry of independent duplicates: every component
// is deep-cloned, with composed references rewired to the cloned
// counterparts. UUIDs are preserved, matching Registry.Copy's
// identity-preserving contract.
func (r *Registry) DeepCopy() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := New(r.systemUUID)
	seen := make(map[uuid.UUID]component.Component, len(r.byUUID))
	for id, c := range r.byUUID {
		cloned := deepClone(c, seen)
		label := component.Label(typeNameOf(reflect.TypeOf(cloned)), cloned.Name())
		out.byUUID[id] = cloned
		out.byLabel[label] = append(out.byLabel[label], id)
		out.assoc.indexComponent(cloned)
	}
	return out
}

// Get returns the component named name whose concrete type is T. It fails
// with ErrNotStored if no component of type T carries that name, and
// ErrAmbiguous if more than one does. The same loop serves a concrete T
// (matching the single label bucket Add appended name's duplicates into)
// and an abstract (interface) T spanning every concrete subtype:
// "ambiguous" is decided by match count alone, not by whether T is
// concrete or abstract.
func Get[T component.Component](r *Registry, name string) (T, error) {
	var zero T
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []T
	for _, c := range r.byUUID {
		if t, ok := c.(T); ok && t.Name() == name {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return zero, fmt.Errorf("%w: %s", ErrNotStored, name)
	case 1:
		return matches[0], nil
	default:
		return zero, fmt.Errorf("%w: %s", ErrAmbiguous, name)
	}
}

// Iter returns every stored component whose concrete type implements T.
// This is the abstract-type iteration path: callers ask for
// an interface like component.WithQuantities and receive every concrete
// type satisfying it, without a separate type-hierarchy registration step.
func Iter[T component.Component](r *Registry) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []T
	for _, c := range r.byUUID {
		if t, ok := c.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// ListChildComponents returns the live components c references through
// its fields (directly or as slice elements), narrowed to those whose
// concrete type implements T. Children that are no longer stored — or
// that are supplemental attributes rather than components — are skipped.
func ListChildComponents[T component.Component](r *Registry, c component.Component) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []T
	for _, row := range r.assoc.ListChildren(c.UUID()) {
		child, ok := r.byUUID[row.ChildUUID]
		if !ok {
			continue
		}
		if t, ok := child.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// ListParentComponents returns the live components whose fields reference
// c, narrowed to those whose concrete type implements T.
func ListParentComponents[T component.Component](r *Registry, c component.Component) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []T
	for _, row := range r.assoc.ListParents(c.UUID()) {
		parent, ok := r.byUUID[row.OwnerUUID]
		if !ok {
			continue
		}
		if t, ok := parent.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// Update looks up the component stored under id, checks it is a T, and
// applies fn to it while holding the registry's write lock, so fn may
// safely mutate the component in place.
func Update[T component.Component](r *Registry, id uuid.UUID, fn func(T)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readOnly {
		return fmt.Errorf("%w: registry is read-only", ErrOperationNotAllowed)
	}
	c, ok := r.byUUID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotStored, id)
	}
	t, ok := c.(T)
	if !ok {
		return fmt.Errorf("%w: %s is not the requested type", ErrNotStored, id)
	}
	fn(t)
	return nil
}
