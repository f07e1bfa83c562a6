package largedata

import "errors"

var (
	// ErrFitsSinglePacket is returned by CreateFragments for a message that
	// does not need fragmenting.
	ErrFitsSinglePacket = errors.New("message fits a single packet")

	// ErrSequenceRange indicates the fragments would run past the largest
	// sequence number.
	ErrSequenceRange = errors.New("fragment sequence numbers exceed 16 bits")

	// ErrRejected indicates a fragment that does not belong to the data set.
	ErrRejected = errors.New("fragment rejected")

	// ErrDuplicateFragment indicates a sequence number already held by the set.
	ErrDuplicateFragment = errors.New("duplicate fragment")

	// ErrSetComplete indicates a fragment offered to a set that is already complete.
	ErrSetComplete = errors.New("data set already complete")

	// ErrIncomplete indicates Merge was called before every fragment arrived.
	ErrIncomplete = errors.New("data set incomplete")

	// ErrDiscontinuity indicates the buffered fragments do not add up to the
	// sizes their headers declare, or do not form a contiguous run.
	ErrDiscontinuity = errors.New("data set discontinuity")

	// ErrFragmentTimeout marks a data set discarded after the inactivity timeout.
	ErrFragmentTimeout = errors.New("fragment timeout")
)
