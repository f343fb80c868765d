package serialize_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infrasys/component"
	"infrasys/registry"
	"infrasys/serialize"
)

// widgetA and widgetB reference each other directly by field, exercising the
// dependency-ordered loader's cycle-resolution path the same way a
// subsystem's shared bus would. Neither type does anything special to
// support serialization: the engine substitutes the composed_component
// reference envelope for the B/A fields on its own, by inspecting each
// field's type against component.Component.
type widgetA struct {
	component.Base
	Label string   `json:"label"`
	B     *widgetB `json:"b"`
}

type widgetB struct {
	component.Base
	Label string   `json:"label"`
	A     *widgetA `json:"a"`
}

// plainGadget has no references at all, used for the basic round trip.
type plainGadget struct {
	component.Base
	Count int `json:"count"`
}

type fakeAttr struct {
	component.AttributeBase
	Label string `json:"label"`
}

func init() {
	serialize.RegisterType("serialize_test", "widgetA", func() component.Component { return &widgetA{} })
	serialize.RegisterType("serialize_test", "widgetB", func() component.Component { return &widgetB{} })
	serialize.RegisterType("serialize_test", "plainGadget", func() component.Component { return &plainGadget{} })
	serialize.RegisterAttributeType("serialize_test", "fakeAttr", func() component.SupplementalAttribute { return &fakeAttr{} })
}

func TestToJSONFromJSONRoundTripSingleComponent(t *testing.T) {
	sysUUID := uuid.New()
	reg := registry.New(sysUUID)
	g := &plainGadget{Base: component.NewBase("gadget1"), Count: 7}
	require.NoError(t, reg.Add(g))

	data, err := serialize.ToJSON(reg, nil, serialize.SystemMeta{
		Name: "sys1", UUID: sysUUID, DataFormatVersion: serialize.FormatVersion,
	})
	require.NoError(t, err)

	loaded, attrs, meta, err := serialize.FromJSON(data, serialize.FromJSONOptions{})
	require.NoError(t, err)
	assert.Equal(t, "sys1", meta.Name)
	assert.Equal(t, sysUUID, meta.UUID)
	assert.Empty(t, attrs.All())

	got, err := registry.Get[*plainGadget](loaded, "gadget1")
	require.NoError(t, err)
	assert.Equal(t, 7, got.Count)
	assert.Equal(t, g.UUID(), got.UUID())
}

func TestToJSONSubstitutesComposedComponentReference(t *testing.T) {
	sysUUID := uuid.New()
	reg := registry.New(sysUUID)

	a := &widgetA{Base: component.NewBase("a1"), Label: "a"}
	b := &widgetB{Base: component.NewBase("b1"), Label: "b"}
	a.B = b

	require.NoError(t, reg.Add(b))
	require.NoError(t, reg.Add(a))

	data, err := serialize.ToJSON(reg, nil, serialize.SystemMeta{UUID: sysUUID})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	components, ok := doc["components"].([]any)
	require.True(t, ok)

	var aObj map[string]any
	for _, raw := range components {
		obj := raw.(map[string]any)
		if obj["name"] == "a1" {
			aObj = obj
		}
	}
	require.NotNil(t, aObj)

	bRef, ok := aObj["b"].(map[string]any)
	require.True(t, ok)
	meta, ok := bRef["__metadata__"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "composed_component", meta["serialized_type"])
	assert.Equal(t, "serialize_test", meta["module"])
	assert.Equal(t, "widgetB", meta["type"])
	assert.Equal(t, b.UUID().String(), meta["uuid"])
}

func TestFromJSONResolvesCompositionCycle(t *testing.T) {
	sysUUID := uuid.New()
	reg := registry.New(sysUUID)

	a := &widgetA{Base: component.NewBase("a1"), Label: "a"}
	b := &widgetB{Base: component.NewBase("b1"), Label: "b"}
	a.B = b
	b.A = a

	require.NoError(t, reg.Add(a, registry.AutoAddComposedComponents()))
	require.NoError(t, reg.Add(b))

	data, err := serialize.ToJSON(reg, nil, serialize.SystemMeta{UUID: sysUUID})
	require.NoError(t, err)

	loaded, _, _, err := serialize.FromJSON(data, serialize.FromJSONOptions{})
	require.NoError(t, err)

	gotA, err := registry.Get[*widgetA](loaded, "a1")
	require.NoError(t, err)
	gotB, err := registry.Get[*widgetB](loaded, "b1")
	require.NoError(t, err)

	require.NotNil(t, gotA.B)
	require.NotNil(t, gotB.A)
	assert.Same(t, gotB, gotA.B)
	assert.Same(t, gotA, gotB.A)
}

func TestFromJSONUnresolvableReferenceIsCycleOrCorruption(t *testing.T) {
	sysUUID := uuid.New()
	reg := registry.New(sysUUID)
	dangling := &widgetB{Base: component.NewBase("dangling"), Label: "ghost"}
	a := &widgetA{Base: component.NewBase("a1")}
	require.NoError(t, reg.Add(a))
	a.B = dangling // B is never added to the registry

	data, err := serialize.ToJSON(reg, nil, serialize.SystemMeta{UUID: sysUUID})
	require.NoError(t, err)

	_, _, _, err = serialize.FromJSON(data, serialize.FromJSONOptions{})
	require.ErrorIs(t, err, serialize.ErrCycleOrCorruption)
}

func TestFromJSONUnknownTypeFails(t *testing.T) {
	sysUUID := uuid.New()
	reg := registry.New(sysUUID)
	require.NoError(t, reg.Add(&plainGadget{Base: component.NewBase("gadget1")}))
	data, err := serialize.ToJSON(reg, nil, serialize.SystemMeta{UUID: sysUUID})
	require.NoError(t, err)

	mangled := []byte(strings.ReplaceAll(string(data), `"type": "plainGadget"`, `"type": "doesNotExist"`))
	_, _, _, err = serialize.FromJSON(mangled, serialize.FromJSONOptions{})
	var unknownType *serialize.ErrUnknownType
	require.ErrorAs(t, err, &unknownType)
}

func TestToJSONFromJSONRoundTripsAttributeAttachments(t *testing.T) {
	sysUUID := uuid.New()
	reg := registry.New(sysUUID)
	attrs := registry.NewSupplementalAttributeRegistry()

	g1 := &plainGadget{Base: component.NewBase("g1"), Count: 1}
	g2 := &plainGadget{Base: component.NewBase("g2"), Count: 2}
	require.NoError(t, reg.Add(g1))
	require.NoError(t, reg.Add(g2))

	attr := &fakeAttr{AttributeBase: component.NewAttributeBase(), Label: "shared"}
	require.NoError(t, attrs.Attach(g1.UUID(), attr))
	require.NoError(t, attrs.Attach(g2.UUID(), attr))

	data, err := serialize.ToJSON(reg, attrs, serialize.SystemMeta{UUID: sysUUID})
	require.NoError(t, err)

	loadedReg, loadedAttrs, _, err := serialize.FromJSON(data, serialize.FromJSONOptions{})
	require.NoError(t, err)

	loadedG1, err := registry.Get[*plainGadget](loadedReg, "g1")
	require.NoError(t, err)
	loadedG2, err := registry.Get[*plainGadget](loadedReg, "g2")
	require.NoError(t, err)

	assert.Equal(t, 2, loadedAttrs.RefCount(attr.UUID()))
	owners := loadedAttrs.ListOwners(attr.UUID())
	assert.ElementsMatch(t, []uuid.UUID{loadedG1.UUID(), loadedG2.UUID()}, owners)

	restored, err := registry.GetAttribute[*fakeAttr](loadedAttrs, attr.UUID())
	require.NoError(t, err)
	assert.Equal(t, "shared", restored.Label)
}
