package domain

import (
	"errors"
	"fmt"
)

// ErrStaleReference is returned by a page probe when an element or the whole
// browser session it refers to is gone.
var ErrStaleReference = errors.New("stale page reference")

// PageMismatchError is returned when the page shown does not match the page a
// workflow step expects.
type PageMismatchError struct {
	Expected string
	Observed string
}

func (e *PageMismatchError) Error() string {
	return fmt.Sprintf("expected page %q, observed %q", e.Expected, e.Observed)
}
