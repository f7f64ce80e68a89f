package pager

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when a session is started on a closed pager.
	ErrClosed = errors.New("pager closed")

	// ErrFetchFailed matches every FetchError via errors.Is.
	ErrFetchFailed = errors.New("page fetch failed")
)

// Direction is the paging direction of a decision or fetch.
type Direction string

const (
	// DirectionNext pages towards higher page numbers.
	DirectionNext Direction = "next"

	// DirectionPrevious pages towards page 1.
	DirectionPrevious Direction = "previous"
)

// FetchError reports that the fetch collaborator returned no data for a page.
// It is the only failure the pager surfaces.
type FetchError struct {
	Page      int
	Direction Direction
	Err       error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch page %d (%s): %v", e.Page, e.Direction, e.Err)
	}
	return fmt.Sprintf("fetch page %d (%s) failed", e.Page, e.Direction)
}

// Unwrap returns the collaborator's error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrFetchFailed.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}
