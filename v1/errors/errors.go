package errors

import "errors"

var (
	ErrBusClosed = errors.New("bus closed")
	ErrCapacity  = errors.New("hot slot capacity exceeded")
)
