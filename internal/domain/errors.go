package domain

import "errors"

// Sentinel error kinds from spec §7. Call sites wrap these with
// fmt.Errorf("...: %w", ErrX) so errors.Is still matches after wrapping,
// the same pattern the teacher uses throughout internal/crypto and internal/s3.
var (
	// ErrTransientTransport marks a failure retriable at the call site.
	ErrTransientTransport = errors.New("transient transport error")

	// ErrTimeout marks a per-call deadline exceeded.
	ErrTimeout = errors.New("timeout")

	// ErrCancelled marks a caller- or subscriber-initiated stop.
	ErrCancelled = errors.New("cancelled")

	// ErrExtractionFailed marks insufficient text quality or a failed
	// extraction strategy; non-fatal at the item level.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrPersistence marks a storage write failure, retried once at the
	// call site before being surfaced as a scan ERROR event.
	ErrPersistence = errors.New("persistence error")

	// ErrIllegalTransition marks a rejected checkpoint status arc.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrConfigInvalid marks a fatal configuration problem at startup.
	ErrConfigInvalid = errors.New("invalid configuration")
)
