package core

import "errors"

var (
	ErrNilLogger     = errors.New("logger cannot be nil")
	ErrInvalidConfig = errors.New("invalid config")
)
