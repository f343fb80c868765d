package timeseries

import "errors"

var (
	// ErrAlignmentError is returned when a requested start time does not
	// fall on a (initial_timestamp, resolution) sample boundary.
	ErrAlignmentError = errors.New("timeseries: start time does not align with series resolution")

	// ErrOutOfRange is returned when a requested window extends beyond
	// the stored array.
	ErrOutOfRange = errors.New("timeseries: requested window exceeds stored length")

	// ErrConflictingArguments is returned when incompatible selector
	// arguments are supplied together (e.g. a window length with a
	// non-sequential series).
	ErrConflictingArguments = errors.New("timeseries: conflicting arguments")

	// ErrReadOnly is returned by every mutating Manager method when the
	// manager was opened read-only.
	ErrReadOnly = errors.New("timeseries: manager is read-only")

	// ErrFileExists is returned by persistence operations that refuse to
	// overwrite an existing path.
	ErrFileExists = errors.New("timeseries: destination already exists")

	// ErrInvalidParameter flags a malformed persistence-layer argument.
	ErrInvalidParameter = errors.New("timeseries: invalid parameter")

	// ErrNotStored is returned when a lookup by data UUID or metadata
	// selector finds nothing.
	ErrNotStored = errors.New("timeseries: not stored")

	// ErrAmbiguous is returned when a metadata selector matches more than
	// one row.
	ErrAmbiguous = errors.New("timeseries: selector matches more than one series")

	// ErrAlreadyAttached is returned when the same (owner, name, type,
	// features) metadata key is added twice.
	ErrAlreadyAttached = errors.New("timeseries: duplicate time series attachment")

	// ErrUnknownBackend is returned by NewBackend for an unregistered name.
	ErrUnknownBackend = errors.New("timeseries: unknown backend")
)
