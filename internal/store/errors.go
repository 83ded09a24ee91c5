package store

import "errors"

var (
	// ErrNegativeCount means a sufficient statistic would drop below zero.
	// It signals corrupted state or a modeling bug and is never recovered.
	ErrNegativeCount = errors.New("negative sufficient statistic")

	// ErrCorruptRegion means a region's size disagrees with its header.
	ErrCorruptRegion = errors.New("corrupt region")

	// ErrUnknownMode is returned for an unrecognized open mode name.
	ErrUnknownMode = errors.New("unknown open mode")

	// ErrSamePov is returned when an antagonism record is requested for a
	// POV paired with itself.
	ErrSamePov = errors.New("antagonism lookup with identical povs")

	// ErrNoInference is returned by accessors of the mutable regions when the
	// store was opened without them.
	ErrNoInference = errors.New("inference regions not loaded")

	// ErrUnassigned is returned when an operation needs a revision that has
	// a (topic, pov) label and finds the sentinel.
	ErrUnassigned = errors.New("revision is unassigned")

	// ErrNoRevision is returned for an id that is out of range or was never
	// ingested.
	ErrNoRevision = errors.New("no such revision")

	// ErrSnapshotMismatch is returned when a snapshot does not fit the
	// store it is applied to.
	ErrSnapshotMismatch = errors.New("snapshot does not match model")
)
