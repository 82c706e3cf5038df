package application

import "errors"

var (
	ErrUnknownProtocolName = errors.New("unknown protocol name")
)
