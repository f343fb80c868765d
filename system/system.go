// Package system implements the System facade: the single
// handle a caller opens, populates, queries, and saves, binding together
// the component registry, the supplemental-attribute registry, the
// time-series manager, and the serialization engine.
//
// A System is a library object, not a service: every operation completes
// synchronously before returning, and concurrent use from multiple
// goroutines is the caller's responsibility to serialize.
package system

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"infrasys/component"
	"infrasys/registry"
	"infrasys/timeseries"
	"infrasys/timeseries/manager"
	"infrasys/timeseries/metadata"

	// Blank-imported so every built-in storage backend self-registers with
	// infrasys/timeseries.RegisterBackend regardless of which one Options
	// names.
	_ "infrasys/timeseries/arrowfile"
	_ "infrasys/timeseries/hdf5file"
	_ "infrasys/timeseries/memory"
	_ "infrasys/timeseries/parquetfile"
	_ "infrasys/timeseries/sqlengine"
)

// DefaultBackend is the storage backend used when Options.Backend is
// empty. Arrow is the default on-disk backend for saved systems;
// New defaults to "memory" instead, since a brand-new in-process System has
// nowhere on disk to root a file backend until Save is called.
const DefaultBackend = "memory"

// Options configures a new System.
type Options struct {
	Name        string
	Description string

	// DataFormatVersion is opaque to this package: Save records it in the
	// document and Open restores it, and nothing here interprets it.
	DataFormatVersion string

	// Backend names the storage backend new time series are written to
	// ("memory", "arrow", "parquet", "hdf5", "sql"). Defaults to
	// DefaultBackend.
	Backend string

	// AutoAddComposedComponents controls what AddComponent does when a
	// component references a detached composed component: recursively add
	// it (true) or fail with ErrCompositionError (false, the default).
	AutoAddComposedComponents bool
}

// System binds the component registry, the supplemental-attribute
// registry, and the time-series manager into a single user-facing handle.
type System struct {
	uuid              uuid.UUID
	name              string
	description       string
	dataFormatVersion string

	reg   *registry.Registry
	attrs *registry.SupplementalAttributeRegistry
	ts    *manager.Manager

	backendKind string
	backend     timeseries.Backend
	metaIndex   *metadata.Index

	autoAddComposed bool
	readOnly        bool

	// tsDir is the sidecar directory backing the metadata index and, for
	// file-based backends, the physical arrays. Empty for a System that has
	// never been saved or opened from disk.
	tsDir string

	// scratchDir is a temporary directory New created to root a file-based
	// backend before the system has ever been saved anywhere, or the
	// directory Open extracted a .zip archive into. Close removes it; it is
	// unset for a System opened from a plain .json file.
	scratchDir string
}

// New constructs an empty System with a fresh UUID, a time-series backend of
// the requested kind (or whatever Options.Backend names), and an in-memory
// SQLite metadata index. File-based backends ("arrow", "parquet", "hdf5",
// "sql") are rooted at a private scratch directory until Save gives them a
// permanent home; Close removes it.
func New(ctx context.Context, opts Options) (*System, error) {
	kind := opts.Backend
	if kind == "" {
		kind = DefaultBackend
	}

	var scratchDir string
	if kind != "memory" {
		dir, err := os.MkdirTemp("", "infrasys-"+kind+"-*")
		if err != nil {
			return nil, fmt.Errorf("system: creating scratch directory for %s backend: %w", kind, err)
		}
		scratchDir = dir
	}
	backend, err := timeseries.NewBackend(kind, scratchDir)
	if err != nil {
		os.RemoveAll(scratchDir)
		return nil, fmt.Errorf("system: constructing %s backend: %w", kind, err)
	}
	idx, err := metadata.Open(ctx, ":memory:")
	if err != nil {
		os.RemoveAll(scratchDir)
		return nil, fmt.Errorf("system: opening metadata index: %w", err)
	}

	id := uuid.New()
	return &System{
		uuid:              id,
		name:              opts.Name,
		description:       opts.Description,
		dataFormatVersion: opts.DataFormatVersion,
		reg:               registry.New(id),
		attrs:             registry.NewSupplementalAttributeRegistry(),
		ts:                manager.New(backend, idx),
		backendKind:       kind,
		backend:           backend,
		metaIndex:         idx,
		autoAddComposed:   opts.AutoAddComposedComponents,
		scratchDir:        scratchDir,
	}, nil
}

// UUID returns the system's own identifier.
func (s *System) UUID() uuid.UUID { return s.uuid }

// Name returns the system's human-readable name.
func (s *System) Name() string { return s.name }

// Description returns the system's free-form description.
func (s *System) Description() string { return s.description }

// DataFormatVersion returns the opaque format-version tag most recently
// loaded or assigned.
func (s *System) DataFormatVersion() string { return s.dataFormatVersion }

// SetReadOnly toggles read-only mode across the registry and the
// time-series manager.
func (s *System) SetReadOnly(ro bool) {
	s.readOnly = ro
	s.reg.SetReadOnly(ro)
	s.ts.SetReadOnly(ro)
}

// ReadOnly reports whether the system currently rejects mutations.
func (s *System) ReadOnly() bool { return s.readOnly }

// Registry exposes the underlying component registry for packages that need
// the generic Get[T]/Iter[T]/Update[T] helpers (registry.Get, registry.Iter,
// registry.Update take a *registry.Registry, not a *System, since Go has no
// generic methods).
func (s *System) Registry() *registry.Registry { return s.reg }

// Attributes exposes the underlying supplemental-attribute registry for the
// same reason.
func (s *System) Attributes() *registry.SupplementalAttributeRegistry { return s.attrs }

// TimeSeriesManager exposes the underlying time-series manager for advanced
// callers (e.g. ConvertTimeSeriesStorage's backend construction).
func (s *System) TimeSeriesManager() *manager.Manager { return s.ts }

// Close releases the metadata index's database connection and removes the
// system's private scratch directory, if it has one: the directory New
// created for a file-based backend that was never saved, or the directory
// a zip archive was extracted into by Open. It does not remove a sidecar
// directory a System was opened from or saved into directly.
func (s *System) Close() error {
	var err error
	if s.metaIndex != nil {
		err = s.metaIndex.Close()
	}
	if s.scratchDir != "" {
		os.RemoveAll(s.scratchDir)
	}
	return err
}

// ErrReadOnly re-exports timeseries.ErrReadOnly so callers of System's
// mutating methods can errors.Is against a single package without also
// importing infrasys/timeseries or infrasys/registry.
var ErrReadOnly = timeseries.ErrReadOnly

func (s *System) checkWritable() error {
	if s.readOnly {
		return fmt.Errorf("%w: system was opened read-only", ErrReadOnly)
	}
	return nil
}

// Summary is the result of Info(): the per-system count report.
type Summary struct {
	TotalComponents         int
	TotalDistinctTimeSeries int
	ComponentCountsByType   map[string]int
	TimeSeriesCountsByKey   map[metadata.CountKey]int
}

// Info reports aggregate counts over the system's components and time
// series.
func (s *System) Info(ctx context.Context) (Summary, error) {
	var summary Summary
	summary.ComponentCountsByType = make(map[string]int)

	all := s.reg.IterAll()
	summary.TotalComponents = len(all)
	for _, c := range all {
		summary.ComponentCountsByType[componentTypeName(c)]++
	}

	counts, err := s.metaIndex.GetTimeSeriesCounts(ctx)
	if err != nil {
		return summary, fmt.Errorf("system: gathering time-series counts: %w", err)
	}
	summary.TotalDistinctTimeSeries = counts.TotalDistinctData
	summary.TimeSeriesCountsByKey = counts.Counts
	return summary, nil
}

// ErrConflictingSystem re-exports registry.ErrConflictingSystem, returned
// when a component already attached to a different system is added.
var ErrConflictingSystem = registry.ErrConflictingSystem

func componentTypeName(c component.Component) string {
	return fmt.Sprintf("%T", c)
}
