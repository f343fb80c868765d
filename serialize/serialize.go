package serialize

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"infrasys/component"
	"infrasys/registry"
)

// ErrCycleOrCorruption is returned by FromJSON when the dependency-ordered
// loader stops progressing and the remaining components cannot be
// completed as a reference cycle either, because some reference points at
// a UUID that never appears in the document at all.
var ErrCycleOrCorruption = errors.New("serialize: component references point at missing data")

// SystemMeta carries the root-level System fields that sit alongside the
// component list in a Document: identity, free-form
// description, the opaque data-format version, and where the time-series
// sidecar lives.
type SystemMeta struct {
	Name                string
	Description         string
	UUID                uuid.UUID
	DataFormatVersion   string
	TimeSeriesDirectory string
	TimeSeriesBackend   string
}

// ToJSON encodes every component in reg, and every attribute in attrs
// together with its current attachments, into a Document alongside meta.
// attrs may be nil, in which case the document carries no attributes. Each
// component is serialized as its own JSON object carrying a "name" field,
// its own fields (with composed-component references substituted by
// UUID envelopes), and a base __metadata__ discriminator.
func ToJSON(reg *registry.Registry, attrs *registry.SupplementalAttributeRegistry, meta SystemMeta) ([]byte, error) {
	components := reg.IterAll()
	envelopes := make([]json.RawMessage, 0, len(components))
	for _, c := range components {
		key, ok := lookupKey(c)
		if !ok {
			return nil, fmt.Errorf("serialize: %T was never registered with RegisterType", c)
		}
		fields, err := marshalComponentFields(c)
		if err != nil {
			return nil, fmt.Errorf("serialize: marshaling %s.%s %q: %w", key.Module, key.Type, c.Name(), err)
		}
		fields["name"], _ = json.Marshal(c.Name())
		fields["__metadata__"], _ = json.Marshal(baseMetadata{
			SerializedType: "base",
			Module:         key.Module,
			Type:           key.Type,
			UUID:           c.UUID(),
		})
		data, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("serialize: marshaling %s.%s %q: %w", key.Module, key.Type, c.Name(), err)
		}
		envelopes = append(envelopes, data)
	}

	var attrEnvelopes []AttributeEnvelope
	var attachments []AttributeAttachment
	if attrs != nil {
		for _, attr := range attrs.All() {
			key, ok := lookupAttributeKey(attr)
			if !ok {
				return nil, fmt.Errorf("serialize: %T was never registered with RegisterAttributeType", attr)
			}
			data, err := json.Marshal(attr)
			if err != nil {
				return nil, fmt.Errorf("serialize: marshaling attribute %s.%s %s: %w", key.Module, key.Type, attr.UUID(), err)
			}
			attrEnvelopes = append(attrEnvelopes, AttributeEnvelope{
				Module: key.Module,
				Type:   key.Type,
				UUID:   attr.UUID(),
				Data:   data,
			})
			for _, owner := range attrs.ListOwners(attr.UUID()) {
				attachments = append(attachments, AttributeAttachment{AttributeUUID: attr.UUID(), ComponentUUID: owner})
			}
		}
	}

	doc := Document{
		Name:              meta.Name,
		Description:       meta.Description,
		SystemUUID:        meta.UUID,
		DataFormatVersion: meta.DataFormatVersion,
		Components:        envelopes,
		Attributes:        attrEnvelopes,
		Attachments:       attachments,
		TimeSeries: TimeSeriesInfo{
			Directory: meta.TimeSeriesDirectory,
			Backend:   meta.TimeSeriesBackend,
		},
	}
	return json.MarshalIndent(doc, "", "  ")
}

// UpgradeHandler rewrites a raw document (decoded as a generic map so that
// unknown/removed/renamed fields from an older format can be massaged
// freely) from its format_version to FormatVersion. FromJSON calls it once,
// with to set to FormatVersion, when the document's version differs, and
// fails if no handler was supplied for that mismatch.
type UpgradeHandler func(raw map[string]any, from, to string) (map[string]any, error)

// FromJSONOptions configures FromJSON.
type FromJSONOptions struct {
	// Upgrade is consulted when the document's format_version does not
	// match FormatVersion. If nil, a version mismatch is an error.
	Upgrade UpgradeHandler
}

// loadEntry is one component still being resolved by FromJSON's
// dependency-ordered loader: its scalar fields are already populated, and
// pending holds any composed-component references still waiting on a
// referent that has not been added to the registry yet.
type loadEntry struct {
	component component.Component
	module    string
	typ       string
	name      string
	pending   []pendingRef
}

// FromJSON decodes data into a freshly constructed Registry, resolving
// component-to-component references in dependency order. Every component's
// scalar fields are decoded once; its composed-component and
// []composed-component fields are resolved in further rounds (at most
// len(remaining) of them, since each successful round must complete at
// least one more component or no further progress is possible). A pass
// that completes nothing means the remaining components form a reference
// cycle: their references are then resolved against the in-flight
// instances directly and the lot is attached together, unless some
// reference points at a UUID that appears nowhere in the document, which
// fails with ErrCycleOrCorruption. Every attribute envelope is
// instantiated and reattached to its recorded owners in the returned
// SupplementalAttributeRegistry. The root-level fields alongside the
// component list are returned as a SystemMeta so the caller can restore
// its own identity and time-series sidecar location.
func FromJSON(data []byte, opts FromJSONOptions) (*registry.Registry, *registry.SupplementalAttributeRegistry, SystemMeta, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, SystemMeta{}, fmt.Errorf("serialize: decoding document: %w", err)
	}

	raw, err := applyUpgrades(raw, opts.Upgrade)
	if err != nil {
		return nil, nil, SystemMeta{}, err
	}

	upgraded, err := json.Marshal(raw)
	if err != nil {
		return nil, nil, SystemMeta{}, fmt.Errorf("serialize: re-encoding upgraded document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(upgraded, &doc); err != nil {
		return nil, nil, SystemMeta{}, fmt.Errorf("serialize: decoding upgraded document: %w", err)
	}

	reg := registry.New(doc.SystemUUID)

	remaining := make([]*loadEntry, 0, len(doc.Components))
	for _, rawComponent := range doc.Components {
		entry, err := instantiate(rawComponent)
		if err != nil {
			return nil, nil, SystemMeta{}, err
		}
		remaining = append(remaining, entry)
	}

	resolved := make(map[uuid.UUID]component.Component, len(remaining))
	for len(remaining) > 0 {
		var deferred []*loadEntry
		progressed := false

		for _, entry := range remaining {
			var stillPending []pendingRef
			for _, ref := range entry.pending {
				target, ok := resolved[ref.target]
				if !ok {
					if c, err := reg.GetByUUID(ref.target); err == nil {
						target, ok = c, true
					}
				}
				if !ok {
					stillPending = append(stillPending, ref)
					continue
				}
				if err := ref.apply(target); err != nil {
					return nil, nil, SystemMeta{}, fmt.Errorf("serialize: resolving reference on %s.%s %q: %w", entry.module, entry.typ, entry.name, err)
				}
			}
			entry.pending = stillPending

			if len(entry.pending) > 0 {
				deferred = append(deferred, entry)
				continue
			}
			if err := reg.Add(entry.component); err != nil {
				return nil, nil, SystemMeta{}, fmt.Errorf("serialize: adding %s.%s %q: %w", entry.module, entry.typ, entry.name, err)
			}
			resolved[entry.component.UUID()] = entry.component
			progressed = true
		}

		if !progressed {
			if err := completeCycle(reg, deferred, resolved); err != nil {
				return nil, nil, SystemMeta{}, err
			}
			break
		}
		remaining = deferred
	}

	attrs := registry.NewSupplementalAttributeRegistry()
	attrByUUID := make(map[uuid.UUID]component.SupplementalAttribute, len(doc.Attributes))
	for _, env := range doc.Attributes {
		attr, err := instantiateAttribute(env)
		if err != nil {
			return nil, nil, SystemMeta{}, err
		}
		attrByUUID[attr.UUID()] = attr
	}
	for _, link := range doc.Attachments {
		attr, ok := attrByUUID[link.AttributeUUID]
		if !ok {
			return nil, nil, SystemMeta{}, fmt.Errorf("serialize: attachment references unknown attribute %s", link.AttributeUUID)
		}
		if err := attrs.Attach(link.ComponentUUID, attr); err != nil {
			return nil, nil, SystemMeta{}, fmt.Errorf("serialize: restoring attachment of %s to %s: %w", link.AttributeUUID, link.ComponentUUID, err)
		}
	}

	meta := SystemMeta{
		Name:                doc.Name,
		Description:         doc.Description,
		UUID:                doc.SystemUUID,
		DataFormatVersion:   doc.DataFormatVersion,
		TimeSeriesDirectory: doc.TimeSeries.Directory,
		TimeSeriesBackend:   doc.TimeSeries.Backend,
	}
	return reg, attrs, meta, nil
}

// completeCycle handles the components a full dependency-ordered pass
// could not finish: a group whose references point at each other. Their
// remaining references are applied against the in-flight instances, then
// every member is added with composed-component auto-add so the whole
// cycle attaches as one unit. A reference whose target UUID belongs to no
// component in the document fails with ErrCycleOrCorruption.
func completeCycle(reg *registry.Registry, deferred []*loadEntry, resolved map[uuid.UUID]component.Component) error {
	inflight := make(map[uuid.UUID]component.Component, len(deferred))
	for _, entry := range deferred {
		inflight[entry.component.UUID()] = entry.component
	}
	for _, entry := range deferred {
		for _, ref := range entry.pending {
			target, ok := resolved[ref.target]
			if !ok {
				target, ok = inflight[ref.target]
			}
			if !ok {
				return fmt.Errorf("%w: %s.%s %q references unknown component %s", ErrCycleOrCorruption, entry.module, entry.typ, entry.name, ref.target)
			}
			if err := ref.apply(target); err != nil {
				return fmt.Errorf("serialize: resolving reference on %s.%s %q: %w", entry.module, entry.typ, entry.name, err)
			}
		}
		entry.pending = nil
	}
	for _, entry := range deferred {
		if err := reg.Add(entry.component, registry.AutoAddComposedComponents()); err != nil {
			return fmt.Errorf("serialize: adding %s.%s %q: %w", entry.module, entry.typ, entry.name, err)
		}
	}
	return nil
}

// instantiate decodes one raw component object into a zero value produced
// by its registered factory, populating every scalar field immediately and
// collecting a pendingRef for every composed-component reference still
// waiting on its referent.
func instantiate(raw json.RawMessage) (*loadEntry, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("serialize: decoding component: %w", err)
	}

	var meta baseMetadata
	if data, ok := fields["__metadata__"]; ok {
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("serialize: decoding component __metadata__: %w", err)
		}
	}
	var name string
	if data, ok := fields["name"]; ok {
		_ = json.Unmarshal(data, &name)
	}
	delete(fields, "__metadata__")
	delete(fields, "name")

	factory, ok := lookupFactory(meta.Module, meta.Type)
	if !ok {
		return nil, &ErrUnknownType{Module: meta.Module, Type: meta.Type}
	}
	c := factory()

	pending, err := unmarshalComponentFields(c, fields)
	if err != nil {
		return nil, fmt.Errorf("serialize: unmarshaling %s.%s %q: %w", meta.Module, meta.Type, name, err)
	}

	restorer, ok := c.(interface {
		RestoreIdentity(uuid.UUID, string)
	})
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s does not embed component.Base", ErrCycleOrCorruption, meta.Module, meta.Type)
	}
	restorer.RestoreIdentity(meta.UUID, name)

	return &loadEntry{component: c, module: meta.Module, typ: meta.Type, name: name, pending: pending}, nil
}
