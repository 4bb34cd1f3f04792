package metadata

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("content not found")
	ErrMalformedMetadata  = errors.New("malformed metadata")
	ErrMalformedPointer   = errors.New("malformed content pointer")
	ErrGatewayUnreachable = errors.New("gateway unreachable")
	ErrContentTooLarge    = errors.New("content exceeds size limit")
)

// GatewayError is a retrieval that failed after every allowed attempt.
// It matches ErrGatewayUnreachable with errors.Is.
type GatewayError struct {
	URL        string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway fetch of %s failed after %d attempts: HTTP %d", e.URL, e.Attempts, e.StatusCode)
	}
	return fmt.Sprintf("gateway fetch of %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *GatewayError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrGatewayUnreachable}
	}
	return []error{ErrGatewayUnreachable, e.Err}
}
