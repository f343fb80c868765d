// Package timeseries implements the time-series subsystem: the two data
// shapes a system can store, the metadata record that binds a
// physical array to an owner, and the pluggable storage backend
// contract. The Manager that composes a backend with the metadata index
// lives in package infrasys/timeseries/manager.
package timeseries

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the two concrete time-series shapes.
type Kind string

const (
	KindSingle        Kind = "single"
	KindNonSequential Kind = "non_sequential"
)

// Normalization describes an optional transform applied to Data before it
// is handed to a storage backend.
type Normalization struct {
	// Kind is "max" (divide by the maximum magnitude) or "by_value"
	// (divide by a caller-supplied value).
	Kind  NormalizationKind
	Value float64 // only meaningful when Kind == NormalizeByValue
}

type NormalizationKind string

const (
	NormalizeMax     NormalizationKind = "max"
	NormalizeByValue NormalizationKind = "by_value"
)

// Data is the common capability set both concrete time-series shapes
// implement: a name, a data UUID, and the raw samples. It intentionally
// does not expose arithmetic; infrasys only moves arrays around.
type Data interface {
	Name() string
	DataUUID() uuid.UUID
	Len() int
	Values() []float64
	Kind() Kind
}

// ErrTooShort is returned when a time series has fewer than two samples.
var ErrTooShort = errors.New("timeseries: series must have at least 2 samples")

// SingleTimeSeries is a regularly sampled series: N samples starting at
// InitialTimestamp, spaced Resolution apart.
type SingleTimeSeries struct {
	uuid             uuid.UUID
	name             string
	InitialTimestamp time.Time
	Resolution       time.Duration
	Data             []float64
}

// NewSingleTimeSeries validates and constructs a SingleTimeSeries. It fails
// with ErrTooShort when len(data) < 2.
func NewSingleTimeSeries(name string, initial time.Time, resolution time.Duration, data []float64) (*SingleTimeSeries, error) {
	if len(data) < 2 {
		return nil, ErrTooShort
	}
	return &SingleTimeSeries{
		uuid:             uuid.New(),
		name:             name,
		InitialTimestamp: initial,
		Resolution:       resolution,
		Data:             data,
	}, nil
}

// RestoreSingleTimeSeries reconstructs a SingleTimeSeries with an explicit
// data UUID, bypassing the length check. It is used by storage backends to
// rebuild a windowed slice (which may legitimately be shorter than the
// len(data) >= 2 invariant enforced at construction time) and by the
// deserialization loader, which must preserve data UUIDs across a
// save/load round trip.
func RestoreSingleTimeSeries(id uuid.UUID, name string, initial time.Time, resolution time.Duration, data []float64) *SingleTimeSeries {
	return &SingleTimeSeries{uuid: id, name: name, InitialTimestamp: initial, Resolution: resolution, Data: data}
}

func (s *SingleTimeSeries) Name() string        { return s.name }
func (s *SingleTimeSeries) DataUUID() uuid.UUID { return s.uuid }
func (s *SingleTimeSeries) Len() int            { return len(s.Data) }
func (s *SingleTimeSeries) Values() []float64   { return s.Data }
func (s *SingleTimeSeries) Kind() Kind          { return KindSingle }

// NonSequentialTimeSeries is a series with explicit, strictly increasing,
// unique timestamps.
type NonSequentialTimeSeries struct {
	uuid       uuid.UUID
	name       string
	Timestamps []time.Time
	Data       []float64
}

// ErrNotStrictlyIncreasing is returned when NonSequentialTimeSeries
// timestamps are not strictly increasing (or not unique, which is the same
// constraint).
var ErrNotStrictlyIncreasing = errors.New("timeseries: timestamps must be strictly increasing")

// NewNonSequentialTimeSeries validates and constructs a
// NonSequentialTimeSeries.
func NewNonSequentialTimeSeries(name string, timestamps []time.Time, data []float64) (*NonSequentialTimeSeries, error) {
	if len(data) < 2 || len(timestamps) < 2 {
		return nil, ErrTooShort
	}
	if len(timestamps) != len(data) {
		return nil, errors.New("timeseries: timestamps and data must have the same length")
	}
	for i := 1; i < len(timestamps); i++ {
		if !timestamps[i].After(timestamps[i-1]) {
			return nil, ErrNotStrictlyIncreasing
		}
	}
	return &NonSequentialTimeSeries{
		uuid:       uuid.New(),
		name:       name,
		Timestamps: timestamps,
		Data:       data,
	}, nil
}

// RestoreNonSequentialTimeSeries reconstructs a NonSequentialTimeSeries
// with an explicit data UUID; see RestoreSingleTimeSeries for why this
// bypasses the usual constructor validation.
func RestoreNonSequentialTimeSeries(id uuid.UUID, name string, timestamps []time.Time, data []float64) *NonSequentialTimeSeries {
	return &NonSequentialTimeSeries{uuid: id, name: name, Timestamps: timestamps, Data: data}
}

func (s *NonSequentialTimeSeries) Name() string        { return s.name }
func (s *NonSequentialTimeSeries) DataUUID() uuid.UUID { return s.uuid }
func (s *NonSequentialTimeSeries) Len() int            { return len(s.Data) }
func (s *NonSequentialTimeSeries) Values() []float64   { return s.Data }
func (s *NonSequentialTimeSeries) Kind() Kind          { return KindNonSequential }

// TimestampsOf returns the explicit timestamps of a NonSequentialTimeSeries,
// or nil for any other Data implementation.
func TimestampsOf(d Data) []time.Time {
	if ns, ok := d.(*NonSequentialTimeSeries); ok {
		return ns.Timestamps
	}
	return nil
}

// QuantityMetadata is the unit descriptor carried alongside a metadata
// record when the series' values represent a Quantity.
type QuantityMetadata struct {
	Module string
	Type   string
	Units  string
}

// Metadata is one logical attachment of a time series to one owner.
// Multiple Metadata records may reference the same TimeSeriesUUID (the
// physical array).
type Metadata struct {
	UUID             uuid.UUID // metadata UUID
	OwnerUUID        uuid.UUID
	OwnerType        string
	OwnerCategory    string
	Name             string // variable name, e.g. "active_power"
	Type             Kind
	InitialTimestamp *time.Time
	Resolution       *time.Duration
	Length           int
	TimeSeriesUUID   uuid.UUID // data UUID
	Quantity         *QuantityMetadata
	Normalization    *Normalization
	Features         map[string]string
	ScalingFactor    *float64
}

// Key uniquely identifies a logical attachment: at most one metadata
// record may exist per (owner, variable name, type, features).
type Key struct {
	OwnerUUID uuid.UUID
	Name      string
	Type      Kind
	Features  map[string]string
}
