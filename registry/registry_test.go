package registry

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infrasys/component"
)

type bus struct {
	component.Base
}

type generator struct {
	component.Base
	Bus *bus
}

func newBus(name string) *bus { b := bus{Base: component.NewBase(name)}; return &b }

func newGenerator(name string, b *bus) *generator {
	return &generator{Base: component.NewBase(name), Bus: b}
}

func TestAddAssignsSystemUUID(t *testing.T) {
	sys := uuid.New()
	r := New(sys)
	b := newBus("bus1")

	require.NoError(t, r.Add(b))

	got, ok := b.SystemUUID()
	require.True(t, ok)
	assert.Equal(t, sys, got)
}

func TestAddAcceptsDuplicateNameIntoSameBucket(t *testing.T) {
	r := New(uuid.New())
	first := newBus("bus1")
	second := newBus("bus1")
	require.NoError(t, r.Add(first))
	require.NoError(t, r.Add(second))

	_, err := Get[*bus](r, "bus1")
	require.ErrorIs(t, err, ErrAmbiguous)

	_, err = r.GetByLabel(component.Label("bus", "bus1"))
	require.ErrorIs(t, err, ErrAmbiguous)

	byUUID, err := r.GetByUUID(first.UUID())
	require.NoError(t, err)
	assert.Same(t, first, byUUID)
}

func TestAddRejectsComponentOwnedElsewhere(t *testing.T) {
	r := New(uuid.New())
	b := newBus("bus1")
	require.NoError(t, b.Attach(uuid.New()))

	err := r.Add(b)
	require.ErrorIs(t, err, ErrConflictingSystem)
}

func TestGetByUUIDAndLabel(t *testing.T) {
	r := New(uuid.New())
	b := newBus("bus1")
	require.NoError(t, r.Add(b))

	byUUID, err := r.GetByUUID(b.UUID())
	require.NoError(t, err)
	assert.Same(t, b, byUUID)

	byLabel, err := r.GetByLabel(component.Label("bus", "bus1"))
	require.NoError(t, err)
	assert.Same(t, b, byLabel)
}

func TestGetGenericByConcreteType(t *testing.T) {
	r := New(uuid.New())
	require.NoError(t, r.Add(newBus("bus1")))

	got, err := Get[*bus](r, "bus1")
	require.NoError(t, err)
	assert.Equal(t, "bus1", got.Name())

	_, err = Get[*generator](r, "bus1")
	require.ErrorIs(t, err, ErrNotStored)
}

func TestIterReturnsOnlyMatchingConcreteTypes(t *testing.T) {
	r := New(uuid.New())
	b := newBus("bus1")
	require.NoError(t, r.Add(b))
	require.NoError(t, r.Add(newGenerator("g1", b)))

	buses := Iter[*bus](r)
	require.Len(t, buses, 1)
	assert.Equal(t, "bus1", buses[0].Name())

	all := Iter[component.Component](r)
	assert.Len(t, all, 2)
}

func TestRemoveDetachesAndClearsAssociations(t *testing.T) {
	r := New(uuid.New())
	b := newBus("bus1")
	require.NoError(t, r.Add(b))
	g := newGenerator("g1", b)
	require.NoError(t, r.Add(g))

	removed, err := r.Remove(g.UUID())
	require.NoError(t, err)
	assert.Same(t, g, removed)
	_, ok := g.SystemUUID()
	assert.False(t, ok)

	assert.Empty(t, r.Associations().ListChildren(g.UUID()))
	assert.Empty(t, r.Associations().ListParents(b.UUID()))
}

func TestRemoveDropsAssociationsWhereComponentIsTheChild(t *testing.T) {
	r := New(uuid.New())
	b := newBus("bus1")
	require.NoError(t, r.Add(b))
	g := newGenerator("g1", b)
	require.NoError(t, r.Add(g))

	// Remove the child side (bus), not the owner (generator): the stale
	// generator->bus row must be dropped from both indexes even though
	// the generator itself is still stored.
	removed, err := r.Remove(b.UUID())
	require.NoError(t, err)
	assert.Same(t, b, removed)

	assert.Empty(t, r.Associations().ListChildren(g.UUID()))
	assert.Empty(t, r.Associations().ListParents(b.UUID()))

	_, err = r.GetByUUID(g.UUID())
	require.NoError(t, err)
}

func TestAssociationIndexTracksFieldReferences(t *testing.T) {
	r := New(uuid.New())
	b := newBus("bus1")
	require.NoError(t, r.Add(b))
	g := newGenerator("g1", b)
	require.NoError(t, r.Add(g))

	children := r.Associations().ListChildren(g.UUID())
	require.Len(t, children, 1)
	assert.Equal(t, b.UUID(), children[0].ChildUUID)

	parents := r.Associations().ListParents(b.UUID())
	require.Len(t, parents, 1)
	assert.Equal(t, g.UUID(), parents[0].OwnerUUID)
}

func TestUpdatePassesStoredComponentToFn(t *testing.T) {
	r := New(uuid.New())
	b := newBus("bus1")
	require.NoError(t, r.Add(b))

	err := Update[*bus](r, b.UUID(), func(bb *bus) {
		// mutate via a field added for the test's sake is unnecessary;
		// confirm the callback receives the exact stored pointer.
		assert.Equal(t, b, bb)
	})
	require.NoError(t, err)
}

func TestListChildAndParentComponentsResolveAndFilter(t *testing.T) {
	r := New(uuid.New())
	b := newBus("bus1")
	require.NoError(t, r.Add(b))
	g := newGenerator("g1", b)
	require.NoError(t, r.Add(g))

	children := ListChildComponents[*bus](r, g)
	require.Len(t, children, 1)
	assert.Same(t, b, children[0])
	assert.Empty(t, ListChildComponents[*generator](r, g))

	parents := ListParentComponents[*generator](r, b)
	require.Len(t, parents, 1)
	assert.Same(t, g, parents[0])
	assert.Empty(t, ListParentComponents[*bus](r, b))

	all := ListChildComponents[component.Component](r, g)
	assert.Len(t, all, 1)
}

func TestCloneComponentWorksWithoutClonerImplementation(t *testing.T) {
	// Neither bus nor generator implements Cloner; the reflection
	// fallback must still produce a detached duplicate.
	r := New(uuid.New())
	b := newBus("bus1")
	require.NoError(t, r.Add(b))

	clone := CloneComponent(b)
	assert.NotSame(t, b, clone)
	assert.Equal(t, b.UUID(), clone.UUID())
	assert.Equal(t, "bus1", clone.Name())
	_, attached := clone.SystemUUID()
	assert.False(t, attached)
	_, stillAttached := b.SystemUUID()
	assert.True(t, stillAttached, "cloning must not detach the original")
}

func TestDeepCloneDuplicatesComposedComponents(t *testing.T) {
	b := newBus("bus1")
	g1 := newGenerator("g1", b)
	g2 := newGenerator("g2", b)

	c1, ok := DeepClone(g1).(*generator)
	require.True(t, ok)
	assert.NotSame(t, g1, c1)
	assert.NotSame(t, b, c1.Bus)
	assert.Equal(t, b.UUID(), c1.Bus.UUID())
	assert.Same(t, b, g2.Bus, "originals keep their own references")
}

func TestDeepCopyClonesSharedReferencesOnce(t *testing.T) {
	r := New(uuid.New())
	b := newBus("bus1")
	require.NoError(t, r.Add(b))
	g1 := newGenerator("g1", b)
	g2 := newGenerator("g2", b)
	require.NoError(t, r.Add(g1))
	require.NoError(t, r.Add(g2))

	cp := r.DeepCopy()

	cloneBus, err := cp.GetByUUID(b.UUID())
	require.NoError(t, err)
	assert.NotSame(t, b, cloneBus)

	cloneG1, err := cp.GetByUUID(g1.UUID())
	require.NoError(t, err)
	cloneG2, err := cp.GetByUUID(g2.UUID())
	require.NoError(t, err)
	assert.Same(t, cloneBus, cloneG1.(*generator).Bus)
	assert.Same(t, cloneBus, cloneG2.(*generator).Bus)
}

func TestCopySharesComponents(t *testing.T) {
	r := New(uuid.New())
	b := newBus("bus1")
	require.NoError(t, r.Add(b))

	cp := r.Copy()
	got, err := cp.GetByUUID(b.UUID())
	require.NoError(t, err)
	assert.Same(t, b, got)
}

func TestReadOnlyRejectsMutation(t *testing.T) {
	r := New(uuid.New())
	r.SetReadOnly(true)

	err := r.Add(newBus("bus1"))
	require.ErrorIs(t, err, ErrOperationNotAllowed)
}

func TestSupplementalAttributeRegistryRefCounting(t *testing.T) {
	reg := NewSupplementalAttributeRegistry()
	attr := &fakeAttribute{id: uuid.New()}
	c1, c2 := uuid.New(), uuid.New()

	require.NoError(t, reg.Attach(c1, attr))
	require.NoError(t, reg.Attach(c2, attr))
	assert.Equal(t, 2, reg.RefCount(attr.UUID()))

	reg.Detach(c1, attr.UUID())
	assert.Equal(t, 1, reg.RefCount(attr.UUID()))

	reg.Detach(c2, attr.UUID())
	assert.Equal(t, 0, reg.RefCount(attr.UUID()))
	_, err := reg.GetAttribute(attr.UUID())
	require.Error(t, err)
}

type fakeAttribute struct {
	id uuid.UUID
}

func (f *fakeAttribute) UUID() uuid.UUID { return f.id }
