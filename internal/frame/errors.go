package frame

import "errors"

var (
	// ErrInvalidCodecParams reports a counter or checksum position that
	// cannot be applied to the frame: zero-length counter, bit positions
	// outside the byte, or byte indices outside the payload.
	ErrInvalidCodecParams = errors.New("invalid codec parameters")

	// ErrBitRange reports a signal write that does not fit the payload.
	ErrBitRange = errors.New("bit range outside payload")
)
