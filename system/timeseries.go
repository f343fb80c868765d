package system

import (
	"context"
	"fmt"
	"time"

	"infrasys/component"
	"infrasys/timeseries"
	"infrasys/timeseries/manager"
	"infrasys/timeseries/metadata"
)

func ownerOf(c component.Component) manager.Owner {
	return manager.Owner{UUID: c.UUID(), Type: fmt.Sprintf("%T", c)}
}

// AddTimeSeries attaches data to every owner, deriving its metadata record
// from data plus opts. Every owner must be a component.WithQuantities; the
// call is atomic across all owners.
func (s *System) AddTimeSeries(ctx context.Context, data timeseries.Data, owners []component.WithQuantities, opts ...manager.AddOption) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if len(owners) == 0 {
		return fmt.Errorf("%w: add_time_series requires at least one owner", timeseries.ErrInvalidParameter)
	}
	refs := make([]manager.Owner, len(owners))
	for i, o := range owners {
		refs[i] = ownerOf(o)
	}
	if err := s.ts.Add(ctx, data, refs, opts...); err != nil {
		return err
	}
	for _, o := range owners {
		if tracker, ok := o.(component.TimeSeriesTracker); ok {
			tracker.MarkTimeSeriesAdded()
		}
	}
	return nil
}

// GetTimeSeries resolves owner/name/kind/features to a single metadata
// record and returns the requested window of its data. startTime == nil
// means "from the beginning"; length <= 0 means "to the end".
func (s *System) GetTimeSeries(ctx context.Context, owner component.WithQuantities, name string, kind timeseries.Kind, startTime *time.Time, length int, features map[string]string) (timeseries.Data, error) {
	row, err := s.ts.ListTimeSeriesMetadata(ctx, ownerOf(owner), name, kind, features)
	if err != nil {
		return nil, err
	}
	switch len(row) {
	case 0:
		return nil, fmt.Errorf("%w: %s/%s for %s", timeseries.ErrNotStored, name, kind, owner.Name())
	case 1:
		// fall through
	default:
		return nil, fmt.Errorf("%w: %s/%s for %s", timeseries.ErrAmbiguous, name, kind, owner.Name())
	}
	meta, err := row[0].Metadata()
	if err != nil {
		return nil, err
	}
	offset, resolvedLength, err := timeseries.ResolveWindow(meta, startTime, length)
	if err != nil {
		return nil, err
	}
	return s.ts.Get(ctx, ownerOf(owner), name, kind, offset, resolvedLength, features)
}

// HasTimeSeries reports whether owner has an attachment matching the given
// selector.
func (s *System) HasTimeSeries(ctx context.Context, owner component.WithQuantities, name string, kind timeseries.Kind, features map[string]string) (bool, error) {
	return s.ts.HasTimeSeries(ctx, ownerOf(owner), name, kind, features)
}

// ListTimeSeriesMetadata returns every metadata row matching the selector
// (name/kind/features may be left zero-valued to broaden the match).
func (s *System) ListTimeSeriesMetadata(ctx context.Context, owner component.WithQuantities, name string, kind timeseries.Kind, features map[string]string) ([]metadata.Row, error) {
	return s.ts.ListTimeSeriesMetadata(ctx, ownerOf(owner), name, kind, features)
}

// RemoveTimeSeries removes the matching attachment from each owner,
// dropping the physical array once no metadata row anywhere references it.
func (s *System) RemoveTimeSeries(ctx context.Context, owners []component.WithQuantities, name string, kind timeseries.Kind, features map[string]string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	refs := make([]manager.Owner, len(owners))
	for i, o := range owners {
		refs[i] = ownerOf(o)
	}
	if err := s.ts.Remove(ctx, refs, name, kind, features); err != nil {
		return err
	}
	for _, o := range owners {
		if tracker, ok := o.(component.TimeSeriesTracker); ok {
			stillHasAny, err := s.ts.HasAnyTimeSeries(ctx, o.UUID())
			if err != nil {
				return err
			}
			tracker.MarkTimeSeriesRemoved(stillHasAny)
		}
	}
	return nil
}

// removeAllTimeSeriesFor removes every time-series attachment owned by c,
// regardless of name/kind/features. Used by RemoveComponent's cascading
// behavior.
func (s *System) removeAllTimeSeriesFor(c component.Component) error {
	ctx := context.Background()
	rows, err := s.ts.ListTimeSeriesMetadata(ctx, ownerOf(c), "", "", nil)
	if err != nil {
		return err
	}
	owner := ownerOf(c)
	for _, row := range rows {
		if err := s.ts.Remove(ctx, []manager.Owner{owner}, row.Name, row.TimeSeriesType, nil); err != nil {
			return err
		}
	}
	if tracker, ok := c.(component.TimeSeriesTracker); ok {
		tracker.MarkTimeSeriesRemoved(false)
	}
	return nil
}

// restoreTimeSeriesTrackers reconciles every loaded component's
// TimeSeriesTracker bookkeeping against the metadata index, in case the
// concrete type did not itself persist that flag across the JSON round
// trip.
func (s *System) restoreTimeSeriesTrackers(ctx context.Context) error {
	for _, c := range s.reg.IterAll() {
		tracker, ok := c.(component.TimeSeriesTracker)
		if !ok {
			continue
		}
		hasAny, err := s.ts.HasAnyTimeSeries(ctx, c.UUID())
		if err != nil {
			return err
		}
		if hasAny {
			tracker.MarkTimeSeriesAdded()
		}
	}
	return nil
}

// CopyTimeSeries copies every time-series metadata row belonging to src
// onto dst; the underlying physical arrays are shared, not duplicated.
// nameMapping optionally renames copied variables (old name to new name).
func (s *System) CopyTimeSeries(ctx context.Context, dst, src component.WithQuantities, nameMapping map[string]string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if err := s.ts.Copy(ctx, ownerOf(dst), ownerOf(src), nameMapping); err != nil {
		return err
	}
	if tracker, ok := dst.(component.TimeSeriesTracker); ok {
		tracker.MarkTimeSeriesAdded()
	}
	return nil
}

// ConvertTimeSeriesStorage swaps the system's time-series backend for a
// freshly constructed one of kind, streaming every existing array across.
func (s *System) ConvertTimeSeriesStorage(ctx context.Context, kind, dir string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	dst, err := timeseries.NewBackend(kind, dir)
	if err != nil {
		return fmt.Errorf("system: constructing %s backend: %w", kind, err)
	}
	if err := s.ts.ConvertStorage(ctx, dst); err != nil {
		return err
	}
	s.backendKind = kind
	s.backend = dst
	return nil
}
