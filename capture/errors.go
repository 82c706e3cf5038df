package capture

import "errors"

var (
	ErrInvalidMaxSessions = errors.New("maxSessions must not be negative")
	ErrInvalidChecksum    = errors.New("invalid tcp checksum")
)
