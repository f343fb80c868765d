package timeseries

import (
	"fmt"
	"time"
)

// ResolveWindow converts a user-facing (startTime, length) selector into
// the (offset, length) pair a Backend.Get call expects, validating
// alignment and bounds against meta. startTime == nil means "from the
// beginning"; length <= 0 means "to the end of the stored array".
func ResolveWindow(meta Metadata, startTime *time.Time, length int) (offset, resolvedLength int, err error) {
	if startTime != nil {
		if meta.Type != KindSingle || meta.InitialTimestamp == nil || meta.Resolution == nil {
			return 0, 0, fmt.Errorf("%w: a start time requires a regularly sampled series", ErrConflictingArguments)
		}
		delta := startTime.Sub(*meta.InitialTimestamp)
		if delta < 0 {
			return 0, 0, fmt.Errorf("%w: start time %s precedes series start", ErrOutOfRange, startTime)
		}
		if delta%*meta.Resolution != 0 {
			return 0, 0, fmt.Errorf("%w: %s does not align with resolution %s", ErrAlignmentError, startTime, *meta.Resolution)
		}
		offset = int(delta / *meta.Resolution)
	}

	resolvedLength = length
	if resolvedLength <= 0 {
		resolvedLength = meta.Length - offset
	}
	if offset < 0 || offset+resolvedLength > meta.Length {
		return 0, 0, fmt.Errorf("%w: window [%d, %d) exceeds stored length %d", ErrOutOfRange, offset, offset+resolvedLength, meta.Length)
	}
	return offset, resolvedLength, nil
}
