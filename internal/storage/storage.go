// Package storage persists run artifacts. Backends only move bytes; Staged
// maps run-scoped stages onto backend keys and owns the wire formats.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by a Backend when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Backend is a flat key/value blob store.
type Backend interface {
	// PutObject writes the content read from r under path and returns a URI
	// describing where it landed.
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	// GetObject returns the content stored under path or ErrObjectNotFound.
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Content types written by Staged.
const (
	ContentTypeJSON = "application/json"
	ContentTypeCSV  = "text/csv; charset=utf-8"
)
