package quantity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAcceptsCompatibleUnit(t *testing.T) {
	q, err := New(1.5, "MW", "MW", "power", "ActivePower")
	require.NoError(t, err)
	assert.Equal(t, "MW", q.Units)
}

func TestNewAcceptsCompatibleUnitWithinDimension(t *testing.T) {
	_, err := New(1.5, "kW", "MW", "power", "ActivePower")
	require.NoError(t, err)
}

func TestNewRejectsIncompatibleUnit(t *testing.T) {
	_, err := New(1.5, "V", "MW", "power", "ActivePower")
	require.ErrorIs(t, err, ErrUnitMismatch)
}

func TestNewRejectsMissingBaseUnit(t *testing.T) {
	_, err := New(1.5, "MW", "", "power", "ActivePower")
	require.ErrorIs(t, err, ErrSchemaError)
}

func TestMarshalJSONProducesEnvelope(t *testing.T) {
	q, err := New(2.0, "MW", "MW", "power", "ActivePower")
	require.NoError(t, err)

	data, err := json.Marshal(q)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "MW", decoded["units"])
	meta, ok := decoded["__metadata__"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "quantity", meta["serialized_type"])
	assert.Equal(t, "power", meta["module"])
	assert.Equal(t, "ActivePower", meta["type"])
}

func TestFromMapRoundTrips(t *testing.T) {
	q, err := New(2.0, "MW", "MW", "power", "ActivePower")
	require.NoError(t, err)
	data, err := json.Marshal(q)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	restored, err := FromMap(raw, "MW")
	require.NoError(t, err)
	assert.Equal(t, "MW", restored.Units)
	assert.Equal(t, 2.0, restored.Value)
	module, typeName := restored.Tag()
	assert.Equal(t, "power", module)
	assert.Equal(t, "ActivePower", typeName)
}
