// Package manager implements the time-series manager: the
// layer above a storage Backend and a metadata.Index that enforces
// add/get/remove semantics, reference counting, and storage-type
// conversion. It is a separate package from infrasys/timeseries (which
// both Backend and Metadata live in) because it imports
// infrasys/timeseries/metadata, which itself imports infrasys/timeseries —
// keeping Manager there would create an import cycle.
package manager

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"infrasys/timeseries"
	"infrasys/timeseries/metadata"
)

// Manager composes a storage Backend and a metadata.Index.
type Manager struct {
	backend  timeseries.Backend
	index    *metadata.Index
	readOnly bool
}

// New constructs a Manager over an already-open backend and index.
func New(backend timeseries.Backend, index *metadata.Index) *Manager {
	return &Manager{backend: backend, index: index}
}

// SetReadOnly toggles read-only mode; every mutating method fails with
// ErrReadOnly while set.
func (m *Manager) SetReadOnly(ro bool) { m.readOnly = ro }

// Owner identifies one component or supplemental attribute a time series
// can be attached to.
type Owner struct {
	UUID uuid.UUID
	Type string
}

// Add derives a metadata record for data, optionally normalized, and
// attaches it to every owner. The metadata rows are inserted first,
// all-or-nothing under one index transaction; if the backend then fails
// to store the array, the just-committed rows are removed again as a
// best-effort rollback.
func (m *Manager) Add(ctx context.Context, data timeseries.Data, owners []Owner, opts ...AddOption) error {
	if m.readOnly {
		return fmt.Errorf("%w: cannot add a time series", timeseries.ErrReadOnly)
	}
	if len(owners) == 0 {
		return fmt.Errorf("%w: add requires at least one owner", timeseries.ErrInvalidParameter)
	}

	cfg := addConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	meta := metadataFor(data, cfg)
	if cfg.normalization != nil {
		data = normalizedData(data, *cfg.normalization)
	}

	ownerRefs := make([]metadata.OwnerRef, len(owners))
	for i, o := range owners {
		ownerRefs[i] = metadata.OwnerRef{UUID: o.UUID, Type: o.Type}
	}
	if err := m.index.Add(ctx, meta, ownerRefs); err != nil {
		return err
	}

	// Backend.Add is idempotent by data UUID, so a second owner attaching
	// an already-stored array is a no-op at the physical layer.
	if err := m.backend.Add(ctx, meta, data); err != nil {
		// Best-effort rollback of the metadata rows we just committed.
		_, _ = m.index.Remove(ctx, ownerUUIDs(owners), metadata.Filter{Name: meta.Name, Type: meta.Type, Features: meta.Features})
		return fmt.Errorf("manager: storing time series data after metadata commit: %w", err)
	}
	return nil
}

func ownerUUIDs(owners []Owner) []uuid.UUID {
	out := make([]uuid.UUID, len(owners))
	for i, o := range owners {
		out[i] = o.UUID
	}
	return out
}

// AddOption customizes metadata derived by Add.
type AddOption func(*addConfig)

type addConfig struct {
	ownerType     string
	ownerCategory string
	quantity      *timeseries.QuantityMetadata
	normalization *timeseries.Normalization
	features      map[string]string
	scalingFactor *float64
}

// WithFeatures attaches a features map to the derived metadata.
func WithFeatures(features map[string]string) AddOption {
	return func(c *addConfig) { c.features = features }
}

// WithQuantity records the unit descriptor for the stored values.
func WithQuantity(q timeseries.QuantityMetadata) AddOption {
	return func(c *addConfig) { c.quantity = &q }
}

// WithNormalization applies n's transform before storage.
func WithNormalization(n timeseries.Normalization) AddOption {
	return func(c *addConfig) { c.normalization = &n }
}

// WithOwnerCategory records a free-form owner category on the metadata.
func WithOwnerCategory(category string) AddOption {
	return func(c *addConfig) { c.ownerCategory = category }
}

func metadataFor(data timeseries.Data, cfg addConfig) timeseries.Metadata {
	values := data.Values()
	if cfg.normalization != nil {
		values = applyNormalization(values, *cfg.normalization)
	}

	meta := timeseries.Metadata{
		UUID:           uuid.New(),
		Name:           data.Name(),
		Type:           data.Kind(),
		Length:         len(values),
		TimeSeriesUUID: data.DataUUID(),
		Quantity:       cfg.quantity,
		Normalization:  cfg.normalization,
		Features:       cfg.features,
		ScalingFactor:  cfg.scalingFactor,
		OwnerCategory:  cfg.ownerCategory,
	}
	if single, ok := data.(*timeseries.SingleTimeSeries); ok {
		initial := single.InitialTimestamp
		meta.InitialTimestamp = &initial
		resolution := single.Resolution
		meta.Resolution = &resolution
	}
	return meta
}

// normalizedData rebuilds data with its values normalized, keeping the
// same data UUID so the metadata record still points at the stored array.
func normalizedData(data timeseries.Data, n timeseries.Normalization) timeseries.Data {
	values := applyNormalization(data.Values(), n)
	switch d := data.(type) {
	case *timeseries.SingleTimeSeries:
		return timeseries.RestoreSingleTimeSeries(d.DataUUID(), d.Name(), d.InitialTimestamp, d.Resolution, values)
	case *timeseries.NonSequentialTimeSeries:
		return timeseries.RestoreNonSequentialTimeSeries(d.DataUUID(), d.Name(), d.Timestamps, values)
	default:
		return data
	}
}

func applyNormalization(values []float64, n timeseries.Normalization) []float64 {
	divisor := n.Value
	if n.Kind == timeseries.NormalizeMax {
		divisor = 0
		for _, v := range values {
			if v < 0 {
				v = -v
			}
			if v > divisor {
				divisor = v
			}
		}
	}
	if divisor == 0 {
		return values
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v / divisor
	}
	return out
}

// Get resolves owner/name/type/features to a single metadata row and
// returns the requested window of its data.
func (m *Manager) Get(ctx context.Context, owner Owner, name string, kind timeseries.Kind, startOffset, length int, features map[string]string) (timeseries.Data, error) {
	row, err := m.index.GetMetadata(ctx, metadata.Filter{OwnerUUID: owner.UUID, Name: name, Type: kind, Features: features})
	if err != nil {
		return nil, err
	}
	meta, err := row.Metadata()
	if err != nil {
		return nil, err
	}
	return m.backend.Get(ctx, meta, startOffset, length)
}

// HasTimeSeries reports whether owner has a time series matching the
// given selector.
func (m *Manager) HasTimeSeries(ctx context.Context, owner Owner, name string, kind timeseries.Kind, features map[string]string) (bool, error) {
	rows, err := m.index.ListMetadata(ctx, metadata.Filter{OwnerUUID: owner.UUID, Name: name, Type: kind, Features: features})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// HasAnyTimeSeries reports whether owner has at least one attached time
// series of any name, kind, or feature set. Used by the System facade to
// keep a component's own HasTimeSeries() bookkeeping in sync after Remove.
func (m *Manager) HasAnyTimeSeries(ctx context.Context, ownerUUID uuid.UUID) (bool, error) {
	rows, err := m.index.ListMetadata(ctx, metadata.Filter{OwnerUUID: ownerUUID})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// ListTimeSeriesMetadata returns every metadata row matching the selector.
func (m *Manager) ListTimeSeriesMetadata(ctx context.Context, owner Owner, name string, kind timeseries.Kind, features map[string]string) ([]metadata.Row, error) {
	return m.index.ListMetadata(ctx, metadata.Filter{OwnerUUID: owner.UUID, Name: name, Type: kind, Features: features})
}

// Remove deletes the association rows matching the selector for each
// owner; for any data UUID that no longer has any referencing row, the
// physical array is also removed from the backend.
func (m *Manager) Remove(ctx context.Context, owners []Owner, name string, kind timeseries.Kind, features map[string]string) error {
	if m.readOnly {
		return fmt.Errorf("%w: cannot remove a time series", timeseries.ErrReadOnly)
	}
	removed, err := m.index.Remove(ctx, ownerUUIDs(owners), metadata.Filter{Name: name, Type: kind, Features: features})
	if err != nil {
		return err
	}
	seen := make(map[uuid.UUID]bool, len(removed))
	for _, row := range removed {
		if seen[row.TimeSeriesUUID] {
			continue
		}
		seen[row.TimeSeriesUUID] = true
		stillReferenced, err := m.index.HasTimeSeries(ctx, row.TimeSeriesUUID)
		if err != nil {
			return err
		}
		if !stillReferenced {
			if err := m.backend.Remove(ctx, row.TimeSeriesUUID); err != nil {
				return fmt.Errorf("manager: removing orphaned data %s: %w", row.TimeSeriesUUID, err)
			}
		}
	}
	return nil
}

// Copy duplicates every metadata row belonging to src onto dst; the
// underlying physical arrays are shared, not copied. nameMapping, when
// non-nil, renames copied variables (old name to new name); variables it
// does not mention keep their name.
func (m *Manager) Copy(ctx context.Context, dst, src Owner, nameMapping map[string]string) error {
	if m.readOnly {
		return fmt.Errorf("%w: cannot copy time series", timeseries.ErrReadOnly)
	}
	rows, err := m.index.ListMetadata(ctx, metadata.Filter{OwnerUUID: src.UUID})
	if err != nil {
		return err
	}
	for _, row := range rows {
		meta, err := row.Metadata()
		if err != nil {
			return err
		}
		meta.UUID = uuid.New()
		if renamed, ok := nameMapping[meta.Name]; ok {
			meta.Name = renamed
		}
		if err := m.index.Add(ctx, meta, []metadata.OwnerRef{{UUID: dst.UUID, Type: dst.Type}}); err != nil {
			return err
		}
	}
	return nil
}

// ConvertStorage iterates every unique data UUID in the metadata index,
// reads its full array from the current backend, writes it into dst, then
// swaps dst in as the manager's backend.
func (m *Manager) ConvertStorage(ctx context.Context, dst timeseries.Backend) error {
	if m.readOnly {
		return fmt.Errorf("%w: cannot convert storage", timeseries.ErrReadOnly)
	}
	if err := m.CopyAllTo(ctx, dst); err != nil {
		return err
	}
	m.backend = dst
	return nil
}

// CopyAllTo streams every distinct stored array into dst, leaving the
// manager's own backend in place. Save uses it to persist a purely
// in-memory backend's arrays into a file-based store, which is why it is
// permitted on a read-only manager: it mutates dst, not this manager.
func (m *Manager) CopyAllTo(ctx context.Context, dst timeseries.Backend) error {
	for _, kind := range []timeseries.Kind{timeseries.KindSingle, timeseries.KindNonSequential} {
		rows, err := m.index.ListMetadata(ctx, metadata.Filter{Type: kind})
		if err != nil {
			return err
		}
		converted := make(map[uuid.UUID]bool, len(rows))
		for _, row := range rows {
			if converted[row.TimeSeriesUUID] {
				continue
			}
			converted[row.TimeSeriesUUID] = true
			meta, err := row.Metadata()
			if err != nil {
				return err
			}
			data, err := m.backend.Get(ctx, meta, 0, row.Length)
			if err != nil {
				return fmt.Errorf("manager: reading %s for conversion: %w", row.TimeSeriesUUID, err)
			}
			if err := dst.Add(ctx, meta, data); err != nil {
				return fmt.Errorf("manager: writing %s into new backend: %w", row.TimeSeriesUUID, err)
			}
		}
	}
	return nil
}
