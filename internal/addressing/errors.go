package addressing

import "errors"

var (
	// ErrAddressTooLong indicates a built address would exceed MaxLength.
	// The firmware-era topic buffer is fixed; overflow is always an error,
	// never a silent truncation.
	ErrAddressTooLong = errors.New("addressing: address exceeds maximum length")

	// ErrEmptySegment indicates a blank identifier or subpath segment.
	ErrEmptySegment = errors.New("addressing: empty address segment")

	// ErrInvalidSegment indicates a segment containing a separator or
	// wildcard character ('/', '+', '#').
	ErrInvalidSegment = errors.New("addressing: invalid character in address segment")

	// ErrInvalidPin indicates a negative pin index in an address.
	ErrInvalidPin = errors.New("addressing: negative pin index")

	// ErrForeignAddress indicates an inbound topic addressed to a different
	// root or node.
	ErrForeignAddress = errors.New("addressing: address not for this node")

	// ErrUnknownCategory indicates an inbound topic under this node's prefix
	// whose category the core does not handle.
	ErrUnknownCategory = errors.New("addressing: unrecognised category")
)
