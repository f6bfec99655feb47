package tracker

import "errors"

var (
	// ErrMissingCompany is returned when no record exists and no company
	// name could be determined from the evidence.
	ErrMissingCompany = errors.New("missing company name")

	// ErrRemoteUnavailable is returned when the workspace could not be
	// reached within the retry budget.
	ErrRemoteUnavailable = errors.New("remote workspace unavailable")

	// ErrRemoteMissing is returned when a record's remote page no longer
	// exists. The record is not re-created under a new ref.
	ErrRemoteMissing = errors.New("remote record missing")
)

// ErrUnknownCompany is returned by operations that require an existing
// record, such as a manual status change.
var ErrUnknownCompany = errors.New("unknown company")
