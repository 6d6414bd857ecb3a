package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedMethod is returned for HTTP methods other than GET and POST.
	ErrUnsupportedMethod = errors.New("unsupported http method")
	// ErrTransient marks network failures that survived every retry attempt.
	ErrTransient = errors.New("transient network error")
	// ErrFatalStatus marks non-success statuses that are not soft skips.
	ErrFatalStatus = errors.New("fatal http status")
	// ErrPageNotFound is recorded when a product link yields no content.
	ErrPageNotFound = errors.New("page not found")
	// ErrPageProcessing aborts link discovery.
	ErrPageProcessing = errors.New("listing page processing failed")
	// ErrStageRead is returned when the stage artifact cannot be loaded.
	ErrStageRead = errors.New("stage artifact read failed")
	// ErrArtifactNotFound is returned by a StagedStore for missing artifacts.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// StatusError describes a fatal HTTP status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("response with %d in %s", e.StatusCode, e.URL)
}

// Unwrap lets errors.Is match ErrFatalStatus.
func (e *StatusError) Unwrap() error {
	return ErrFatalStatus
}

// PageError carries the listing page that aborted discovery. Page is zero for
// the initial listing fetch.
type PageError struct {
	URL  string
	Page int
	Err  error
}

func (e *PageError) Error() string {
	if e.Page == 0 {
		return fmt.Sprintf("listing %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("listing page %d (%s): %v", e.Page, e.URL, e.Err)
}

// Unwrap exposes both ErrPageProcessing and the cause.
func (e *PageError) Unwrap() []error {
	return []error{ErrPageProcessing, e.Err}
}
