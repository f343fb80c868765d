package serialize

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"infrasys/component"
)

// ErrUnknownAttributeType is returned when an attribute envelope names a
// (module, type) pair that was never registered with RegisterAttributeType.
type ErrUnknownAttributeType struct {
	Module, Type string
}

func (e *ErrUnknownAttributeType) Error() string {
	return fmt.Sprintf("serialize: unregistered attribute type %s.%s", e.Module, e.Type)
}

var (
	attrMu         sync.RWMutex
	attrFactories  = map[typeKey]func() component.SupplementalAttribute{}
	attrReverseKey = map[reflect.Type]typeKey{}
)

// RegisterAttributeType registers the (module, typeName) pair a concrete
// SupplementalAttribute type serializes under, mirroring RegisterType.
func RegisterAttributeType(module, typeName string, zero func() component.SupplementalAttribute) {
	attrMu.Lock()
	defer attrMu.Unlock()
	key := typeKey{Module: module, Type: typeName}
	attrFactories[key] = zero
	attrReverseKey[reflect.TypeOf(zero())] = key
}

func lookupAttributeFactory(module, typeName string) (func() component.SupplementalAttribute, bool) {
	attrMu.RLock()
	defer attrMu.RUnlock()
	f, ok := attrFactories[typeKey{Module: module, Type: typeName}]
	return f, ok
}

func lookupAttributeKey(attr component.SupplementalAttribute) (typeKey, bool) {
	attrMu.RLock()
	defer attrMu.RUnlock()
	key, ok := attrReverseKey[reflect.TypeOf(attr)]
	return key, ok
}

// AttributeEnvelope is the wire shape of one serialized supplemental
// attribute: the registered type tag, its UUID, and its own fields as an
// opaque JSON blob.
type AttributeEnvelope struct {
	Module string          `json:"module"`
	Type   string          `json:"type"`
	UUID   uuid.UUID       `json:"uuid"`
	Data   json.RawMessage `json:"data"`
}

// AttributeAttachment records that a component referenced an attribute at
// save time, so Open can rebuild the SupplementalAttributeRegistry's
// attach/ref-count bookkeeping.
type AttributeAttachment struct {
	AttributeUUID uuid.UUID `json:"attribute_uuid"`
	ComponentUUID uuid.UUID `json:"component_uuid"`
}

func instantiateAttribute(env AttributeEnvelope) (component.SupplementalAttribute, error) {
	factory, ok := lookupAttributeFactory(env.Module, env.Type)
	if !ok {
		return nil, &ErrUnknownAttributeType{Module: env.Module, Type: env.Type}
	}
	attr := factory()
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, attr); err != nil {
			return nil, fmt.Errorf("serialize: unmarshaling attribute %s.%s: %w", env.Module, env.Type, err)
		}
	}
	restorer, ok := attr.(interface{ RestoreIdentity(uuid.UUID) })
	if !ok {
		return nil, fmt.Errorf("serialize: attribute %s.%s does not embed component.AttributeBase", env.Module, env.Type)
	}
	restorer.RestoreIdentity(env.UUID)
	return attr, nil
}
