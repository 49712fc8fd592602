package models

import "errors"

var (
	// ErrDimensionMismatch indicates an embedding width that disagrees with the index dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrExtractionFailure indicates an unreadable or corrupt source file.
	ErrExtractionFailure = errors.New("extraction failure")

	// ErrIndexCorruption indicates persisted index files that are missing, truncated or inconsistent.
	ErrIndexCorruption = errors.New("index corruption")

	// ErrUpstreamUnavailable wraps failures of embedding, transcription and generation services.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrNotFound indicates a record id absent from the record store.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedType indicates a file extension no modality handles.
	ErrUnsupportedType = errors.New("unsupported file type")
)
