package operation

import "errors"

var (
	ErrInvalidKind    = errors.New("invalid operation kind")
	ErrInvalidPayload = errors.New("invalid operation payload")
	ErrEmptyPayload   = errors.New("operation payload is empty")
	ErrMalformed      = errors.New("malformed operation message")
	ErrUnknownCodec   = errors.New("unknown operation codec")
)
