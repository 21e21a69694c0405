package model

import "errors"

// ErrMalformedInput marks an order rejected before it touched the book.
var ErrMalformedInput = errors.New("malformed order")
