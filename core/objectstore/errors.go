package objectstore

import "errors"

var (
	ErrNotFound     = errors.New("objectstore: not found")
	ErrKindMismatch = errors.New("objectstore: kind mismatch")
	ErrPanicked     = errors.New("objectstore: operation panicked")
	ErrClosed       = errors.New("objectstore: closed")
	ErrInvalidKey   = errors.New("objectstore: invalid key")
)
