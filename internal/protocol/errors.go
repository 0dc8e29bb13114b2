package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrWaitTimeout is returned by Decoder.Next when no trigger line arrived
	// within the configured maximum wait.
	ErrWaitTimeout = errors.New("no device command within maximum wait")

	// ErrReadTimeout is returned by a LineReader when a single read elapsed
	// without a complete line. The decoder keeps waiting on it.
	ErrReadTimeout = errors.New("line read timed out")
)

// MalformedLineError reports a line that carried the trigger marker but could
// not be decoded.
type MalformedLineError struct {
	Line   string
	Reason string
	Err    error
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("malformed device line %q: %s", e.Line, e.Reason)
}

func (e *MalformedLineError) Unwrap() error {
	return e.Err
}
