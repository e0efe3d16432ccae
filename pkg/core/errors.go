package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for failure classes that callers branch on.
var (
	// ErrInputUnavailable means a referenced raw file is missing or
	// unreadable. The affected container is skipped, siblings continue.
	ErrInputUnavailable = errors.New("input unavailable")

	// ErrStorageWrite means the chunked record store rejected a write after
	// bounded retries.
	ErrStorageWrite = errors.New("storage write failed")

	// ErrIndexInconsistency means the geohash candidate set was empty for a
	// region known to contain points. Callers fall back to a full scan.
	ErrIndexInconsistency = errors.New("spatial index inconsistency")
)

// ConflictError reports two active registry entries for the same source that
// overlap in time with differing fingerprints. It is surfaced to the
// operator, never auto-resolved.
type ConflictError struct {
	Kind     SourceKind
	Serial   string
	EntryA   string // entry ids
	EntryB   string
	Interval TimeRange
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("dependency conflict: %s source for serial %s has overlapping entries %s and %s over %s",
		e.Kind, e.Serial, e.EntryA, e.EntryB, e.Interval)
}

// TransformError reports a rejected coordinate or datum transform.
type TransformError struct {
	SourceCRS   string
	TargetCRS   string
	VerticalRef string
	Reason      string
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s -> %s (vertical %q) rejected: %s",
		e.SourceCRS, e.TargetCRS, e.VerticalRef, e.Reason)
}
