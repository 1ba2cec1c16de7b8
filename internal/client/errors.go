package client

import (
	"errors"
	"fmt"
)

// ErrMissingID is returned before any request is made when an operation
// that addresses a single resource gets an empty id.
var ErrMissingID = errors.New("resource id is required")

// TransportError is a failure below HTTP: connection refused, DNS, TLS, a
// timeout or an unreadable response body.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IOError reports a fixture document that could not be read.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("read fixture %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
