package store

import "errors"

// Error variables for store operations.
var (
	ErrInvalidDocument = errors.New("invalid document")
	ErrNotObject       = errors.New("not a JSON object")
	ErrEncode          = errors.New("cannot encode document")
	ErrReadPrimary     = errors.New("cannot read data file")
	ErrWritePrimary    = errors.New("cannot write data file")
	ErrKeepTemp        = errors.New("cannot move aside leftover temp file")
)
